package migrate

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/chirino/companion-service/internal/config"
	registrymigrate "github.com/chirino/companion-service/internal/registry/migrate"
	registrystore "github.com/chirino/companion-service/internal/registry/store"
	"github.com/urfave/cli/v3"

	// Import plugins to trigger init() registration of their migrators.
	// Store plugins register their own migrators alongside their primary interface.
	_ "github.com/chirino/companion-service/internal/plugin/encrypt/aesgcm"
	_ "github.com/chirino/companion-service/internal/plugin/encrypt/xchacha"
	_ "github.com/chirino/companion-service/internal/plugin/store/filestore"
)

// Command returns the migrate sub-command.
func Command() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Convert legacy text profiles and seed public characters",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "data-dir",
				Sources: cli.EnvVars("COMPANION_DATA_DIR"),
				Usage:   "Directory holding profile documents",
				Value:   config.DefaultConfig().DataDir,
			},
			&cli.StringFlag{
				Name:    "public-profiles",
				Sources: cli.EnvVars("COMPANION_PUBLIC_PROFILES"),
				Usage:   "Comma-separated character names that are never encrypted",
				Value:   config.DefaultConfig().PublicProfiles,
			},
			&cli.StringFlag{
				Name:    "password",
				Sources: cli.EnvVars("COMPANION_PASSWORD"),
				Usage:   "Password for encrypting converted private documents (env:NAME or file:/path accepted); converted documents stay plain without it",
			},
			&cli.StringFlag{
				Name:    "encryption-cipher",
				Sources: cli.EnvVars("COMPANION_ENCRYPTION_CIPHER"),
				Usage:   "Cipher for new envelopes",
				Value:   config.DefaultConfig().EncryptionCipher,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.DefaultConfig()
			cfg.DataDir = cmd.String("data-dir")
			cfg.PublicProfiles = cmd.String("public-profiles")
			cfg.EncryptionCipher = cmd.String("encryption-cipher")
			ctx = config.WithContext(ctx, &cfg)

			if raw := cmd.String("password"); raw != "" {
				key, err := config.ResolveSecret(raw)
				if err != nil {
					return err
				}
				ctx = registrystore.WithKey(ctx, key)
			}

			log.Info("Running migrations...", "dir", cfg.DataDir)
			if err := registrymigrate.RunAll(ctx); err != nil {
				return err
			}
			log.Info("All migrations completed successfully")
			return nil
		},
	}
}
