// Package cucumber drives godog feature files against a running companion server.
//
// A scenario acts as one user at a time. Each user has its own HTTP session holding
// the last response and the X-Session-ID issued at login, so "I am bob" followed by
// a request replays bob's session rather than alice's.
//
// Step arguments may reference:
//   - ${name}              a scenario variable
//   - ${name.field}        a map key, slice index or struct field of a variable
//   - ${response}          the last response body, parsed as JSON
//   - ${response.field}    a gojq path into the last response body
//   - ${session}           the current user's session id
//   - ${value | pipe}      json, json_escape, string or sha256
package cucumber

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/cucumber/godog/colors"
)

// DefaultUser is the user a scenario acts as until it switches.
const DefaultUser = "alice"

// StepModules register step definitions and hooks on every new scenario.
var StepModules []func(ctx *godog.ScenarioContext, s *TestScenario)

// TestSuite is shared by the scenarios of one feature run.
type TestSuite struct {
	APIURL   string
	TestingT *testing.T
	Mu       sync.Mutex
}

// TestUser is someone using the API. SessionID is sent on every request they make.
type TestUser struct {
	Name      string
	Password  string
	SessionID string
	Mu        sync.Mutex
}

// TestSession is a user's HTTP state, like a browser tab.
type TestSession struct {
	TestUser  *TestUser
	Client    *http.Client
	Header    http.Header
	Resp      *http.Response
	RespBytes []byte

	respJSON  interface{}
	anonymous bool
}

// TestScenario is the state of a single scenario. Steps never run concurrently.
type TestScenario struct {
	Suite       *TestSuite
	CurrentUser string
	PathPrefix  string
	// APIURL overrides the suite URL when a hook started a server for this scenario.
	APIURL    string
	DataDir   string
	Extra     map[string]interface{}
	Variables map[string]interface{}
	Users     map[string]*TestUser

	sessions map[string]*TestSession
}

func NewTestSuite() *TestSuite {
	return &TestSuite{APIURL: "http://localhost:8080"}
}

func (suite *TestSuite) InitializeScenario(ctx *godog.ScenarioContext) {
	s := &TestScenario{
		Suite:       suite,
		CurrentUser: DefaultUser,
		Extra:       map[string]interface{}{},
		Variables:   map[string]interface{}{},
		Users:       map[string]*TestUser{},
		sessions:    map[string]*TestSession{},
	}
	for _, module := range StepModules {
		module(ctx, s)
	}
}

func (s *TestScenario) Logf(format string, args ...any) {
	s.Suite.TestingT.Logf(format, args...)
}

func (s *TestScenario) BaseURL() string {
	if s.APIURL != "" {
		return s.APIURL
	}
	return s.Suite.APIURL
}

// User returns the current user, creating it on first use.
func (s *TestScenario) User() *TestUser {
	u, ok := s.Users[s.CurrentUser]
	if !ok {
		u = &TestUser{Name: s.CurrentUser}
		s.Users[s.CurrentUser] = u
	}
	return u
}

// Session returns the current user's HTTP session.
func (s *TestScenario) Session() *TestSession {
	sess, ok := s.sessions[s.CurrentUser]
	if !ok {
		sess = &TestSession{TestUser: s.User(), Client: &http.Client{}, Header: http.Header{}}
		s.sessions[s.CurrentUser] = sess
	}
	return sess
}

func (s *TestSession) reset() {
	s.Resp = nil
	s.RespBytes = nil
	s.respJSON = nil
}

func DefaultOptions() godog.Options {
	opts := godog.Options{
		Output:      colors.Colored(os.Stdout),
		Format:      "progress",
		Paths:       []string{"features"},
		Randomize:   time.Now().UTC().UnixNano(),
		Concurrency: 1,
	}
	for _, arg := range os.Args[1:] {
		if arg == "-test.v=true" || arg == "-test.v" || arg == "-v" {
			opts.Format = "pretty"
		}
	}
	return opts
}

// ApplyReportOptions writes junit XML into $GODOG_REPORT_DIR when it is set. The
// returned func closes the report file.
func ApplyReportOptions(opts *godog.Options, testName string) func() {
	dir := os.Getenv("GODOG_REPORT_DIR")
	if dir == "" {
		return func() {}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return func() {}
	}
	f, err := os.Create(filepath.Join(dir, strings.ReplaceAll(testName, "/", "-")+".xml"))
	if err != nil {
		return func() {}
	}
	opts.Output = f
	opts.Format = "junit"
	return func() { _ = f.Close() }
}

// RunFeatures runs each feature file as its own subtest.
func RunFeatures(t *testing.T, featureFiles []string) {
	for _, path := range featureFiles {
		name := strings.TrimSuffix(filepath.Base(path), ".feature")
		t.Run(name, func(t *testing.T) {
			opts := DefaultOptions()
			opts.TestingT = t
			opts.Paths = []string{path}
			defer ApplyReportOptions(&opts, t.Name())()

			suite := NewTestSuite()
			suite.TestingT = t
			status := godog.TestSuite{
				Name:                name,
				Options:             &opts,
				ScenarioInitializer: suite.InitializeScenario,
			}.Run()
			if status != 0 {
				t.Fail()
			}
		})
	}
}
