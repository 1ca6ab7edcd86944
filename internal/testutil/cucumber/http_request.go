package cucumber

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cucumber/godog"
)

// SessionHeader carries the companion session id on requests and login responses.
const SessionHeader = "X-Session-ID"

func init() {
	StepModules = append(StepModules, func(ctx *godog.ScenarioContext, s *TestScenario) {
		ctx.Step(`^I am "([^"]*)"$`, s.iAm)
		ctx.Step(`^I log in with password "([^"]*)"$`, s.iLogInWithPassword)
		ctx.Step(`^I log in with password "([^"]*)" as character "([^"]*)"$`, s.iLogInWithPasswordAsCharacter)
		ctx.Step(`^I forget my session$`, s.iForgetMySession)
		ctx.Step(`^the path prefix is "([^"]*)"$`, s.thePathPrefixIs)
		ctx.Step(`^I set the "([^"]*)" header to "([^"]*)"$`, s.iSetTheHeaderTo)

		ctx.Step(`^I (GET|POST|PUT|DELETE|PATCH|OPTIONS) path "([^"]*)"$`, s.iSend)
		ctx.Step(`^I (GET|POST|PUT|DELETE|PATCH|OPTIONS) path "([^"]*)" with json body:$`, s.iSendJSON)
		ctx.Step(`^I call (GET|POST|PUT|DELETE|PATCH) "([^"]*)"$`, s.iSend)
		ctx.Step(`^I call (GET|POST|PUT|DELETE|PATCH) "([^"]*)" with body:$`, s.iSendJSON)
		ctx.Step(`^I call (GET|POST|PUT|DELETE|PATCH) "([^"]*)" without a session$`, s.iSendWithoutASession)

		ctx.Step(`^I wait up to "([^"]*)" seconds for a GET on path "([^"]*)" response code to match "([^"]*)"$`, s.iWaitForResponseCode)
		ctx.Step(`^I wait up to "([^"]*)" seconds for a GET on path "([^"]*)" response "([^"]*)" selection to match "([^"]*)"$`, s.iWaitForSelection)
	})
}

func (s *TestScenario) iAm(name string) error {
	s.CurrentUser = name
	return nil
}

func (s *TestScenario) iLogInWithPassword(password string) error {
	return s.Login(password, "")
}

func (s *TestScenario) iLogInWithPasswordAsCharacter(password, character string) error {
	return s.Login(password, character)
}

// Login posts to /v1/login as the current user and remembers the password. The
// session id comes back in the response header and sticks to the user.
func (s *TestScenario) Login(password, character string) error {
	password, err := s.Expand(password)
	if err != nil {
		return err
	}
	body, err := json.Marshal(map[string]string{"password": password, "character": character})
	if err != nil {
		return err
	}
	if err := s.Send(http.MethodPost, "/v1/login", string(body)); err != nil {
		return err
	}
	if err := s.theResponseCodeShouldBe(http.StatusOK); err != nil {
		return fmt.Errorf("login as %s: %w", s.CurrentUser, err)
	}
	u := s.User()
	u.Mu.Lock()
	u.Password = password
	u.Mu.Unlock()
	return nil
}

func (s *TestScenario) iForgetMySession() error {
	u := s.User()
	u.Mu.Lock()
	u.SessionID = ""
	u.Mu.Unlock()
	return nil
}

func (s *TestScenario) thePathPrefixIs(prefix string) error {
	s.PathPrefix = prefix
	return nil
}

func (s *TestScenario) iSetTheHeaderTo(name, value string) error {
	value, err := s.Expand(value)
	if err != nil {
		return err
	}
	s.Session().Header.Set(name, value)
	return nil
}

func (s *TestScenario) iSend(method, path string) error {
	return s.Send(method, path, "")
}

func (s *TestScenario) iSendJSON(method, path string, doc *godog.DocString) error {
	body, err := s.Expand(doc.Content)
	if err != nil {
		return err
	}
	return s.Send(method, path, body)
}

func (s *TestScenario) iSendWithoutASession(method, path string) error {
	s.Session().anonymous = true
	return s.iSend(method, path)
}

func (s *TestScenario) resolveURL(path string) (string, error) {
	path, err := s.Expand(path)
	if err != nil {
		return "", err
	}
	if u, err := url.Parse(path); err == nil && u.Scheme != "" {
		return path, nil
	}
	return s.BaseURL() + s.PathPrefix + path, nil
}

// Send issues a request as the current user with an already expanded JSON body.
// Headers set by earlier steps apply to this request only. The user's session id is
// attached unless the step asked for an anonymous call or set the header itself.
func (s *TestScenario) Send(method, path, body string) error {
	sess := s.Session()
	sess.reset()
	anonymous := sess.anonymous
	sess.anonymous = false
	header := sess.Header
	sess.Header = http.Header{}

	target, err := s.resolveURL(path)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(context.Background(), method, target, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header = header
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	u := sess.TestUser
	if !anonymous && req.Header.Get(SessionHeader) == "" {
		u.Mu.Lock()
		if u.SessionID != "" {
			req.Header.Set(SessionHeader, u.SessionID)
		}
		u.Mu.Unlock()
	}

	resp, err := sess.Client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	sess.Resp, sess.RespBytes = resp, data

	if id := resp.Header.Get(SessionHeader); id != "" && !anonymous {
		u.Mu.Lock()
		u.SessionID = id
		u.Mu.Unlock()
	}
	return nil
}

// eventually polls check every tenth of the timeout until it passes.
func eventually(seconds float64, check func() error) error {
	timeout := time.Duration(seconds * float64(time.Second))
	deadline := time.Now().Add(timeout)
	for {
		err := check()
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("still failing after %v: %w", timeout, err)
		}
		time.Sleep(timeout / 10)
	}
}

func (s *TestScenario) iWaitForResponseCode(seconds float64, path string, code int) error {
	return eventually(seconds, func() error {
		if err := s.iSend(http.MethodGet, path); err != nil {
			return err
		}
		return s.theResponseCodeShouldBe(code)
	})
}

func (s *TestScenario) iWaitForSelection(seconds float64, path, selector, expected string) error {
	return eventually(seconds, func() error {
		if err := s.iSend(http.MethodGet, path); err != nil {
			return err
		}
		return s.theSelectionShouldMatch(selector, expected)
	})
}
