// Package chat mounts login, conversation and password endpoints.
package chat

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/chirino/companion-service/internal/agent"
	registryroute "github.com/chirino/companion-service/internal/registry/route"
	registrystore "github.com/chirino/companion-service/internal/registry/store"
	"github.com/chirino/companion-service/internal/security"
	"github.com/chirino/companion-service/internal/session"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type loginRequest struct {
	Password  string `json:"password" binding:"required"`
	Character string `json:"character"`
}

type sessionRequest struct {
	Character string `json:"character"`
}

type messageRequest struct {
	RequestID string `json:"requestId"`
	Text      string `json:"text" binding:"required"`
}

type starterRequest struct {
	Character string `json:"character"`
	MarkShown bool   `json:"markShown"`
}

type passwordRequest struct {
	OldPassword string `json:"oldPassword" binding:"required"`
	NewPassword string `json:"newPassword" binding:"required"`
}

func init() {
	registryroute.Register(registryroute.Plugin{
		Name:  "chat",
		Order: 10,
		Type:  registryroute.RouteTypeMain,
		Loader: func(r gin.IRouter, deps registryroute.Deps) error {
			MountRoutes(r, deps.Store, deps.Sessions)
			return nil
		},
	})
}

// MountRoutes mounts the session and chat endpoints.
func MountRoutes(r gin.IRouter, store registrystore.ProfileStore, sessions *session.Manager) {
	required := security.SessionMiddleware(sessions)

	g := r.Group("/v1")
	g.POST("/login", func(c *gin.Context) { login(c, store, sessions) })
	g.POST("/logout", required, func(c *gin.Context) { logout(c, sessions) })
	g.POST("/password", required, func(c *gin.Context) { changePassword(c, store, sessions) })

	g.POST("/chat/session", required, func(c *gin.Context) { openSession(c, sessions) })
	g.POST("/chat/messages", required, func(c *gin.Context) { postMessage(c, sessions) })
	g.GET("/chat/history", required, func(c *gin.Context) { history(c, sessions) })
	g.POST("/chat/starter", required, func(c *gin.Context) { starter(c, sessions) })
}

func login(c *gin.Context, store registrystore.ProfileStore, sessions *session.Manager) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	// A wrong password shows up as a user document that will not open.
	if _, err := store.GetUserSettings(ctx, req.Password); err != nil {
		handleError(c, err)
		return
	}

	id := security.SessionIDFromHeader(c)
	if id == "" {
		id = uuid.NewString()
	}
	if _, err := sessions.GetOrCreateSession(ctx, id, strings.TrimSpace(req.Character), req.Password); err != nil {
		handleError(c, err)
		return
	}
	info, _ := sessions.Info(id)
	c.Header(security.SessionHeader, id)
	c.JSON(http.StatusOK, info)
}

func logout(c *gin.Context, sessions *session.Manager) {
	sessions.Logout(security.GetSessionID(c))
	c.Status(http.StatusNoContent)
}

func openSession(c *gin.Context, sessions *session.Manager) {
	var req sessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
			return
		}
	}
	id := security.GetSessionID(c)
	if _, err := sessions.GetOrCreateSession(c.Request.Context(), id, strings.TrimSpace(req.Character), security.GetEncryptionKey(c)); err != nil {
		handleError(c, err)
		return
	}
	info, _ := sessions.Info(id)
	c.JSON(http.StatusOK, info)
}

func postMessage(c *gin.Context, sessions *session.Manager) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
		return
	}
	id := security.GetSessionID(c)
	a, ok := sessions.Get(id)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown or expired session; log in again"})
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if !sessions.TrackRequestID(id, req.RequestID) {
		c.JSON(http.StatusConflict, gin.H{"code": "stale_request", "requestId": req.RequestID})
		return
	}
	a.AppendMessage(agent.Message{RequestID: req.RequestID, Role: agent.RoleUser, Text: req.Text})
	info, _ := sessions.Info(id)
	c.JSON(http.StatusAccepted, gin.H{
		"requestId":       req.RequestID,
		"sessionId":       id,
		"activeCharacter": info.ActiveCharacter,
	})
}

func history(c *gin.Context, sessions *session.Manager) {
	id := security.GetSessionID(c)
	a, ok := sessions.Get(id)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown or expired session; log in again"})
		return
	}
	info, _ := sessions.Info(id)
	messages := a.History()
	if messages == nil {
		messages = []agent.Message{}
	}
	c.JSON(http.StatusOK, gin.H{
		"sessionId":       id,
		"activeCharacter": info.ActiveCharacter,
		"messages":        messages,
	})
}

func starter(c *gin.Context, sessions *session.Manager) {
	var req starterRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
			return
		}
	}
	id := security.GetSessionID(c)
	a, ok := sessions.Get(id)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown or expired session; log in again"})
		return
	}
	info, _ := sessions.Info(id)
	name := strings.TrimSpace(req.Character)
	if name == "" {
		name = info.ActiveCharacter
	}

	needs := sessions.NeedsStarter(name)
	greeting := ""
	if name == info.ActiveCharacter {
		greeting = greetingFor(a, name)
	}
	if needs && req.MarkShown {
		sessions.MarkStarterShown(name)
		if greeting != "" {
			a.AppendMessage(agent.Message{Role: agent.RoleCharacter, Text: greeting})
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"character":    name,
		"needsStarter": needs,
		"greeting":     greeting,
	})
}

// greetingFor returns the character's configured greeting, or a plain introduction.
func greetingFor(a agent.Agent, name string) string {
	payload, ok := a.Character()
	if !ok {
		return ""
	}
	if g := strings.TrimSpace(payload.String("greeting")); g != "" {
		return g
	}
	if n := payload.String("characterName"); n != "" {
		name = n
	}
	return fmt.Sprintf("Hi, I'm %s.", name)
}

func changePassword(c *gin.Context, store registrystore.ProfileStore, sessions *session.Manager) {
	var req passwordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
		return
	}
	if req.OldPassword != security.GetEncryptionKey(c) {
		c.JSON(http.StatusUnauthorized, gin.H{"code": "wrong_password", "error": "old password does not match this session"})
		return
	}
	ctx := c.Request.Context()
	report, err := store.ReEncryptAllData(ctx, req.OldPassword, req.NewPassword)
	if err != nil {
		handleError(c, err)
		return
	}
	rotated := sessions.RotateKey(req.OldPassword, req.NewPassword)
	if err := sessions.ReloadCharacterForAllSessions(ctx); err != nil {
		log.Warn("Some sessions failed to reload after password change", "err", err)
	}
	log.Info("Password changed", "documents", report.Total(), "sessions", rotated)
	c.JSON(http.StatusOK, report)
}

func handleError(c *gin.Context, err error) {
	var notFound *registrystore.NotFoundError
	var validation *registrystore.ValidationError
	var integrity *registrystore.IntegrityRefusalError
	var corrupted *registrystore.CorruptedProfileError

	switch {
	case errors.Is(err, session.ErrInvalidSessionID):
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
	case errors.Is(err, session.ErrSessionNotFound):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error(), "field": validation.Field})
	case errors.As(err, &integrity):
		c.JSON(http.StatusConflict, gin.H{"code": "integrity_refusal", "error": err.Error()})
	case errors.As(err, &corrupted):
		log.Error("Corrupted profile", "profile", corrupted.Name, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": "corrupted", "error": err.Error()})
	case errors.Is(err, registrystore.ErrDecryption):
		c.JSON(http.StatusUnauthorized, gin.H{"code": "wrong_password", "error": "password does not open the stored data"})
	default:
		log.Error("Chat request failed", "path", c.Request.URL.Path, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
