package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/clinical-pipeline-server/internal/config"
	"github.com/clinical-pipeline-server/internal/domain"
	"github.com/clinical-pipeline-server/internal/setup"
	"github.com/clinical-pipeline-server/pkg/external"
)

func main() {
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	log.Printf("Starting clinical pipeline server on %s:%d", cfg.Server.Host, cfg.Server.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := setup.NewApplication(ctx, configManager, setup.Options{
		Guidelines: guidelineClient(cfg),
		Trials:     trialClient(cfg),
	})
	if err != nil {
		log.Fatalf("Failed to assemble application: %v", err)
	}
	defer app.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		app.Logger.Info("Shutdown signal received, gracefully shutting down")
		cancel()
	}()

	if err := app.Server.Start(ctx); err != nil {
		log.Fatalf("Server failed: %v", err)
	}

	app.Logger.Info("Server stopped")
}

func guidelineClient(cfg *domain.Config) domain.GuidelineClient {
	if cfg.External.GuidelineBaseURL == "" {
		return nil
	}
	return external.NewGuidelineClient(external.GuidelineConfig{
		BaseURL: cfg.External.GuidelineBaseURL,
	})
}

func trialClient(cfg *domain.Config) domain.TrialClient {
	if cfg.External.TrialsBaseURL == "" {
		return nil
	}
	return external.NewTrialsClient(external.TrialsConfig{
		BaseURL: cfg.External.TrialsBaseURL,
	})
}
