// Package profiles mounts the character, favorites, user settings and consent
// endpoints.
package profiles

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/chirino/companion-service/internal/model"
	registryroute "github.com/chirino/companion-service/internal/registry/route"
	registrystore "github.com/chirino/companion-service/internal/registry/store"
	"github.com/chirino/companion-service/internal/security"
	"github.com/gin-gonic/gin"
)

// Reloader refreshes the sessions that have a changed character loaded.
type Reloader interface {
	ReloadSessionsForCharacter(ctx context.Context, name string) error
}

type profileSummary struct {
	Name   string `json:"name"`
	Public bool   `json:"public"`
}

type createProfileRequest struct {
	Name    string        `json:"name" binding:"required"`
	Profile model.Payload `json:"profile"`
}

type activeProfileRequest struct {
	Name string `json:"name" binding:"required"`
}

func init() {
	registryroute.Register(registryroute.Plugin{
		Name:  "profiles",
		Order: 20,
		Type:  registryroute.RouteTypeMain,
		Loader: func(r gin.IRouter, deps registryroute.Deps) error {
			MountRoutes(r, deps.Store, deps.Sessions, deps.Sessions)
			return nil
		},
	})
}

// MountRoutes mounts the profile endpoints. Reads resolve a session when one is
// present so private characters can be decrypted; writes require one.
func MountRoutes(r gin.IRouter, store registrystore.ProfileStore, sessions security.SessionKeys, reloader Reloader) {
	optional := security.OptionalSessionMiddleware(sessions)
	required := security.SessionMiddleware(sessions)

	g := r.Group("/v1")
	g.GET("/profiles", optional, func(c *gin.Context) { listProfiles(c, store) })
	g.POST("/profiles", required, func(c *gin.Context) { createProfile(c, store, reloader) })
	g.GET("/profiles/:name", optional, func(c *gin.Context) { getProfile(c, store) })
	g.PUT("/profiles/:name", required, func(c *gin.Context) { updateProfile(c, store, reloader) })
	g.DELETE("/profiles/:name", required, func(c *gin.Context) { deleteProfile(c, store, reloader) })

	g.GET("/profiles/:name/favorites", optional, func(c *gin.Context) { listFavorites(c, store) })
	g.POST("/profiles/:name/favorites", required, func(c *gin.Context) { addFavorite(c, store, reloader) })
	g.DELETE("/profiles/:name/favorites/:id", required, func(c *gin.Context) { removeFavorite(c, store, reloader) })

	g.GET("/settings", optional, func(c *gin.Context) { getSettings(c, store) })
	g.PUT("/settings", required, func(c *gin.Context) { putSettings(c, store) })
	g.GET("/settings/active-profile", optional, func(c *gin.Context) { getActiveProfile(c, store) })
	g.PUT("/settings/active-profile", required, func(c *gin.Context) { putActiveProfile(c, store) })

	// Consent is collected before login, so neither verb requires a session.
	g.GET("/consent", optional, func(c *gin.Context) { getConsent(c, store) })
	g.PUT("/consent", optional, func(c *gin.Context) { putConsent(c, store) })
}

func listProfiles(c *gin.Context, store registrystore.ProfileStore) {
	names, err := store.ListProfiles(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	out := make([]profileSummary, len(names))
	for i, name := range names {
		out[i] = profileSummary{Name: name, Public: store.IsPublicProfile(name)}
	}
	c.JSON(http.StatusOK, gin.H{"profiles": out})
}

func createProfile(c *gin.Context, store registrystore.ProfileStore, reloader Reloader) {
	var req createProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
		return
	}
	if req.Profile == nil {
		req.Profile = model.Payload{}
	}
	saved, err := store.SaveProfile(c.Request.Context(), req.Name, req.Profile, security.GetEncryptionKey(c))
	if err != nil {
		handleError(c, err)
		return
	}
	reload(c, reloader, req.Name)
	c.JSON(http.StatusCreated, gin.H{"name": req.Name, "profile": saved})
}

func getProfile(c *gin.Context, store registrystore.ProfileStore) {
	payload, err := store.GetProfile(c.Request.Context(), c.Param("name"), security.GetEncryptionKey(c))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, payload)
}

func updateProfile(c *gin.Context, store registrystore.ProfileStore, reloader Reloader) {
	var update model.Payload
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
		return
	}
	name := c.Param("name")
	saved, err := store.SaveProfile(c.Request.Context(), name, update, security.GetEncryptionKey(c))
	if err != nil {
		handleError(c, err)
		return
	}
	reload(c, reloader, name)
	c.JSON(http.StatusOK, saved)
}

func deleteProfile(c *gin.Context, store registrystore.ProfileStore, reloader Reloader) {
	name := c.Param("name")
	if err := store.DeleteProfile(c.Request.Context(), name); err != nil {
		handleError(c, err)
		return
	}
	reload(c, reloader, name)
	c.Status(http.StatusNoContent)
}

func listFavorites(c *gin.Context, store registrystore.ProfileStore) {
	favorites, err := store.GetFavorites(c.Request.Context(), c.Param("name"), security.GetEncryptionKey(c))
	if err != nil {
		handleError(c, err)
		return
	}
	if favorites == nil {
		favorites = []model.Favorite{}
	}
	c.JSON(http.StatusOK, gin.H{"favorites": favorites})
}

func addFavorite(c *gin.Context, store registrystore.ProfileStore, reloader Reloader) {
	var favorite model.Favorite
	if err := c.ShouldBindJSON(&favorite); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
		return
	}
	name := c.Param("name")
	saved, err := store.AddFavorite(c.Request.Context(), name, favorite, security.GetEncryptionKey(c))
	if err != nil {
		handleError(c, err)
		return
	}
	reload(c, reloader, name)
	c.JSON(http.StatusCreated, saved)
}

func removeFavorite(c *gin.Context, store registrystore.ProfileStore, reloader Reloader) {
	name := c.Param("name")
	if err := store.RemoveFavorite(c.Request.Context(), name, c.Param("id"), security.GetEncryptionKey(c)); err != nil {
		handleError(c, err)
		return
	}
	reload(c, reloader, name)
	c.Status(http.StatusNoContent)
}

func getSettings(c *gin.Context, store registrystore.ProfileStore) {
	settings, err := store.GetUserSettings(c.Request.Context(), security.GetEncryptionKey(c))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

func putSettings(c *gin.Context, store registrystore.ProfileStore) {
	var update model.Payload
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
		return
	}
	saved, err := store.SaveUserSettings(c.Request.Context(), update, security.GetEncryptionKey(c))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

func getActiveProfile(c *gin.Context, store registrystore.ProfileStore) {
	name, err := store.GetActiveProfile(c.Request.Context(), security.GetEncryptionKey(c))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name})
}

func putActiveProfile(c *gin.Context, store registrystore.ProfileStore) {
	var req activeProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
		return
	}
	name := strings.TrimSpace(req.Name)
	if err := store.SetActiveProfile(c.Request.Context(), name, security.GetEncryptionKey(c)); err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name})
}

func getConsent(c *gin.Context, store registrystore.ProfileStore) {
	consent, err := store.GetConsent(c.Request.Context(), security.GetEncryptionKey(c))
	if err != nil {
		handleError(c, err)
		return
	}
	if consent == nil {
		consent = &model.Consent{}
	}
	c.JSON(http.StatusOK, consent)
}

func putConsent(c *gin.Context, store registrystore.ProfileStore) {
	var consent model.Consent
	if err := c.ShouldBindJSON(&consent); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
		return
	}
	key := security.GetEncryptionKey(c)
	if err := store.SaveConsent(c.Request.Context(), consent, key); err != nil {
		handleError(c, err)
		return
	}
	saved, err := store.GetConsent(c.Request.Context(), key)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

// reload refreshes sessions using name. Failures are logged; the write already
// succeeded.
func reload(c *gin.Context, reloader Reloader, name string) {
	if reloader == nil {
		return
	}
	if err := reloader.ReloadSessionsForCharacter(c.Request.Context(), name); err != nil {
		log.Warn("Failed to reload sessions after profile change", "profile", name, "err", err)
	}
}

func handleError(c *gin.Context, err error) {
	var notFound *registrystore.NotFoundError
	var validation *registrystore.ValidationError
	var integrity *registrystore.IntegrityRefusalError
	var corrupted *registrystore.CorruptedProfileError

	switch {
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
		c.JSON(http.StatusUnauthorized, gin.H{"code": "decryption_failed", "error": "stored data cannot be decrypted with this session's password"})
	default:
		log.Error("Profile request failed", "path", c.Request.URL.Path, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
