package bdd

import (
	"context"
	"fmt"
	"os"

	"github.com/chirino/companion-service/internal/cmd/serve"
	"github.com/chirino/companion-service/internal/config"
	"github.com/chirino/companion-service/internal/dataencryption"
	"github.com/chirino/companion-service/internal/testutil/cucumber"
	"github.com/cucumber/godog"
)

const (
	extraServer = "server"
	extraConfig = "config"
	extraCipher = "cipher"
)

// Every scenario gets its own data directory and server, so password changes in one
// scenario never leak into the next.
func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		ctx.Before(func(goCtx context.Context, sc *godog.Scenario) (context.Context, error) {
			dir, err := os.MkdirTemp("", "companion-bdd-")
			if err != nil {
				return goCtx, err
			}
			cfg := config.DefaultConfig()
			cfg.Mode = config.ModeTesting
			cfg.DataDir = dir
			cfg.EncryptionKDFLogN = config.MinKDFLogN
			cfg.Listener.Port = 0
			cfg.Listener.EnableTLS = false
			cfg.SessionSweepInterval = 0
			s.DataDir = dir
			s.Extra[extraConfig] = &cfg

			cipher, err := dataencryption.New(config.WithContext(context.Background(), &cfg), &cfg)
			if err != nil {
				return goCtx, err
			}
			s.Extra[extraCipher] = cipher
			return goCtx, startServer(s)
		})
		ctx.After(func(goCtx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
			stopServer(s)
			if s.DataDir != "" {
				_ = os.RemoveAll(s.DataDir)
			}
			return goCtx, nil
		})

		ctx.Step(`^the server is restarted$`, func() error {
			stopServer(s)
			return startServer(s)
		})
		ctx.Step(`^there should be (\d+) live sessions?$`, func(expected int) error {
			srv, ok := s.Extra[extraServer].(*serve.Server)
			if !ok {
				return fmt.Errorf("server is not running")
			}
			if actual := srv.Sessions.Len(); actual != expected {
				return fmt.Errorf("expected %d live sessions, got %d", expected, actual)
			}
			return nil
		})
	})
}

func scenarioConfig(s *cucumber.TestScenario) *config.Config {
	return s.Extra[extraConfig].(*config.Config)
}

func scenarioCipher(s *cucumber.TestScenario) *dataencryption.Service {
	return s.Extra[extraCipher].(*dataencryption.Service)
}

func startServer(s *cucumber.TestScenario) error {
	cfg := scenarioConfig(s)
	srv, err := serve.StartServer(config.WithContext(context.Background(), cfg), cfg)
	if err != nil {
		return err
	}
	s.Extra[extraServer] = srv
	s.APIURL = fmt.Sprintf("http://localhost:%d", srv.Running.Port)
	return nil
}

func stopServer(s *cucumber.TestScenario) {
	if srv, ok := s.Extra[extraServer].(*serve.Server); ok {
		_ = srv.Shutdown(context.Background())
		delete(s.Extra, extraServer)
	}
}
