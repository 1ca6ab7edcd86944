// Package rekey implements the offline password rotation command.
package rekey

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/chirino/companion-service/internal/config"
	"github.com/chirino/companion-service/internal/dataencryption"
	registrycache "github.com/chirino/companion-service/internal/registry/cache"
	registrystore "github.com/chirino/companion-service/internal/registry/store"
	"github.com/urfave/cli/v3"

	_ "github.com/chirino/companion-service/internal/plugin/cache/local"
	_ "github.com/chirino/companion-service/internal/plugin/encrypt/aesgcm"
	_ "github.com/chirino/companion-service/internal/plugin/encrypt/xchacha"
	_ "github.com/chirino/companion-service/internal/plugin/store/filestore"
)

// Command returns the rekey sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	return &cli.Command{
		Name:  "rekey",
		Usage: "Re-encrypt every private profile from one password to another while the server is stopped",
		Description: "Passwords may be given literally, as env:NAME or as file:/path. A run that was " +
			"interrupted can be repeated with the same passwords; documents already under the new " +
			"password are left alone.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "data-dir",
				Sources:     cli.EnvVars("COMPANION_DATA_DIR"),
				Destination: &cfg.DataDir,
				Value:       cfg.DataDir,
				Usage:       "Directory holding profile documents",
			},
			&cli.StringFlag{
				Name:        "public-profiles",
				Sources:     cli.EnvVars("COMPANION_PUBLIC_PROFILES"),
				Destination: &cfg.PublicProfiles,
				Value:       cfg.PublicProfiles,
				Usage:       "Comma-separated character names that are never encrypted",
			},
			&cli.StringFlag{
				Name:        "encryption-cipher",
				Sources:     cli.EnvVars("COMPANION_ENCRYPTION_CIPHER"),
				Destination: &cfg.EncryptionCipher,
				Value:       cfg.EncryptionCipher,
				Usage:       "Cipher for the rewritten envelopes",
			},
			&cli.IntFlag{
				Name:        "encryption-kdf-log-n",
				Sources:     cli.EnvVars("COMPANION_ENCRYPTION_KDF_LOG_N"),
				Destination: &cfg.EncryptionKDFLogN,
				Value:       cfg.EncryptionKDFLogN,
				Usage:       "log2 of the scrypt cost for the rewritten envelopes",
			},
			&cli.StringFlag{
				Name:    "old-password",
				Sources: cli.EnvVars("COMPANION_OLD_PASSWORD"),
				Usage:   "Current password; may be empty when the data was never encrypted",
			},
			&cli.StringFlag{
				Name:     "new-password",
				Sources:  cli.EnvVars("COMPANION_NEW_PASSWORD"),
				Usage:    "Password to encrypt with",
				Required: true,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			oldKey, err := config.ResolveSecret(cmd.String("old-password"))
			if err != nil {
				return fmt.Errorf("old password: %w", err)
			}
			newKey, err := config.ResolveSecret(cmd.String("new-password"))
			if err != nil {
				return fmt.Errorf("new password: %w", err)
			}
			report, err := Run(ctx, &cfg, oldKey, newKey)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}

// Run opens the configured store and moves it from oldKey to newKey.
func Run(ctx context.Context, cfg *config.Config, oldKey, newKey string) (*registrystore.ReEncryptReport, error) {
	ctx = config.WithContext(ctx, cfg)
	if loader, err := registrycache.Select(cfg.CacheType); err == nil {
		if keys, err := loader(ctx); err == nil {
			ctx = registrycache.WithKeyCacheContext(ctx, keys)
		}
	}
	cipher, err := dataencryption.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	ctx = dataencryption.WithContext(ctx, cipher)

	loader, err := registrystore.Select(cfg.DatastoreType)
	if err != nil {
		return nil, err
	}
	store, err := loader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	log.Info("Re-encrypting profiles", "dir", cfg.DataDir, "cipher", cipher.PrimaryID())
	return store.ReEncryptAllData(ctx, oldKey, newKey)
}
