package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hybridaudio/stemforge/internal/alerts"
	"github.com/hybridaudio/stemforge/internal/cache"
	"github.com/hybridaudio/stemforge/internal/config"
	"github.com/hybridaudio/stemforge/internal/delivery"
	"github.com/hybridaudio/stemforge/internal/domain"
	"github.com/hybridaudio/stemforge/internal/infra"
	"github.com/hybridaudio/stemforge/internal/ports"
	"github.com/hybridaudio/stemforge/internal/rotation"
	"github.com/hybridaudio/stemforge/internal/synth"
)

func main() {

	// =========================================================================
	// ENV / CONFIG
	// =========================================================================

	cfg := config.Load()

	baseLogger, _ := zap.NewProduction()
	defer baseLogger.Sync()

	for _, dir := range []string{cfg.StemsDir, cfg.OutputDir, cfg.DataDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("failed to create %s: %v", dir, err)
		}
	}

	// =========================================================================
	// INFRASTRUCTURE
	// =========================================================================

	var store ports.ObjectStore
	if cfg.RemoteEnabled() {
		s3, err := infra.NewS3Store(cfg)
		if err != nil {
			log.Fatalf("failed to init s3: %v", err)
		}
		store = s3
	} else {
		baseLogger.Warn("no object store configured, running local-only")
	}

	index, err := cache.Open(cfg.IndexPath, cfg.Contract(), baseLogger)
	if err != nil {
		log.Fatalf("failed to open stems index: %v", err)
	}
	baseLogger.Info("stems index ready",
		zap.String("path", cfg.IndexPath),
		zap.String("signature", index.Signature()))

	// =========================================================================
	// ALERTS
	// =========================================================================

	alertInfra := alerts.NewInfra(baseLogger, filepath.Join(cfg.DataDir, "alerts.log"))
	alertService := alerts.NewService(alertInfra)

	// =========================================================================
	// CLIENTS (TTS)
	// =========================================================================

	retry := synth.DefaultRetryPolicy(cfg.RetryMaxAttempts, cfg.RetryBaseDelay)

	var ttsClient ports.SynthesisClient
	switch cfg.SynthBackend {
	case "openai":
		ttsClient = synth.NewOpenAIClient(cfg.OpenAIAPIKey, retry, baseLogger)
	default:
		ttsClient = synth.NewCartesiaClient(
			cfg.CartesiaURL, cfg.CartesiaAPIKey, cfg.CartesiaVersion,
			cfg.Contract(), retry, baseLogger)
	}

	// =========================================================================
	// DOMAIN SERVICES
	// =========================================================================

	stemsService := domain.NewStemsService(cfg, index, ttsClient, store, baseLogger)
	assembleService := domain.NewAssembleService(cfg, stemsService, index, store, baseLogger)
	consistencyService := domain.NewConsistencyService(cfg, index, stemsService, store, alertService, baseLogger)

	rotationEngine := rotation.NewEngine(
		filepath.Join(cfg.DataDir, "common_names.json"),
		filepath.Join(cfg.DataDir, "developer_names.json"),
		filepath.Join(cfg.DataDir, "rotations_meta.json"),
		baseLogger,
	)

	// =========================================================================
	// BACKGROUND AUDIT
	// =========================================================================

	if cfg.AuditInterval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.AuditInterval)
			defer ticker.Stop()
			for range ticker.C {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
				if _, err := consistencyService.Audit(ctx, cache.Filter{}); err != nil {
					baseLogger.Error("scheduled audit failed", zap.Error(err))
				}
				cancel()
			}
		}()
	}

	// =========================================================================
	// HTTP ROUTER
	// =========================================================================

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	// HANDLERS
	assembleHandler := delivery.NewAssembleHandler(assembleService)
	stemsHandler := delivery.NewStemsHandler(stemsService, index)
	consistencyHandler := delivery.NewConsistencyHandler(consistencyService)
	rotationHandler := delivery.NewRotationHandler(rotationEngine)

	// ROUTES
	delivery.RegisterRoutes(
		r,
		assembleHandler,
		stemsHandler,
		consistencyHandler,
		rotationHandler,
	)

	baseLogger.Info("listening", zap.String("port", cfg.Port))
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
