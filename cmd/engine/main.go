package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/tradebotlab/crypto-bot-engine/internal/config"
	"github.com/tradebotlab/crypto-bot-engine/internal/engine"
	"github.com/tradebotlab/crypto-bot-engine/internal/logger"
)

const (
	appName    = "Condition Engine"
	appVersion = "1.0.0"
)

func main() {
	configPath := flag.String("config", "", "path to engine.yaml (default: configs/engine.yaml)")
	envFile := flag.String("env", ".env", "path to env file with exchange credentials")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s\n", appName, appVersion)
		return
	}

	// Credentials come from the env file; a missing file is fine when the
	// variables are already exported.
	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		log.Printf("⚠️ could not load %s: %v", *envFile, err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Configuration error: %v", err)
	}

	lg, err := logger.New(cfg.Logging.Dir, cfg.Logging.Debug)
	if err != nil {
		log.Fatalf("❌ Logger error: %v", err)
	}
	defer lg.Close()

	eng, err := engine.New(cfg, lg)
	if err != nil {
		log.Fatalf("❌ Engine init error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		log.Fatalf("❌ Engine start error: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	lg.Status("received %s, shutting down", sig)

	cancel()
	eng.Stop(context.Background())
}
