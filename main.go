package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"orbfall/server/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	configPath := os.Getenv("ORBFALL_CONFIG")
	if configPath == "" {
		configPath = "orbfall.toml"
	}

	if err := app.Run(ctx, app.Options{ConfigPath: configPath}); err != nil {
		log.Fatalf("%v", err)
	}
}
