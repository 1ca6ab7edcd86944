package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/chirino/companion-service/internal/cmd/migrate"
	"github.com/chirino/companion-service/internal/cmd/rekey"
	"github.com/chirino/companion-service/internal/cmd/serve"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
)

func main() {
	// COMPANION_* settings may come from a local .env file; a missing file is fine.
	_ = godotenv.Load(".env")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "companion-service",
		Usage: "Companion chat service with password-encrypted character profiles",
		Commands: []*cli.Command{
			serve.Command(),
			migrate.Command(),
			rekey.Command(),
		},
	}
	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
