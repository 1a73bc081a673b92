package main

import (
	"errors"
	"flag"
	"log"
	"os"

	"PolyBot/internal/di"
	"PolyBot/pkg/config"
	"PolyBot/pkg/server"
)

// Exit codes: 0 clean shutdown, 1 unrecoverable I/O failure, 2 invalid
// configuration, 3 persisted state corrupt with no fallback.
const (
	exitIOFailure     = 1
	exitBadConfig     = 2
	exitStateCorrupt  = 3
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Printf("config load failed: %v", err)
		os.Exit(exitBadConfig)
	}

	log.Printf("env=%s dry_run=%v assets=%v", cfg.Environment, cfg.Trading.DryRun, cfg.Assets)

	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Printf("app initialization failed: %v", err)
		os.Exit(exitIOFailure)
	}

	if err := app.Run(); err != nil {
		log.Printf("app error: %v", err)
		if errors.Is(err, server.ErrStateCorrupt) {
			os.Exit(exitStateCorrupt)
		}
		os.Exit(exitIOFailure)
	}
}
