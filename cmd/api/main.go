package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"navalingo/api/internal/app"
	"navalingo/api/internal/authpw"
	"navalingo/api/internal/config"
	"navalingo/api/internal/email"
	"navalingo/api/internal/export"
	"navalingo/api/internal/rejections"
	"navalingo/api/internal/revisions"
	"navalingo/api/internal/search"
	"navalingo/api/internal/session"
	"navalingo/api/internal/store"
	"navalingo/api/internal/textproc"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	if err := os.MkdirAll(cfg.RevisionsDir, 0o755); err != nil {
		log.Fatalf("failed to create revisions dir: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	revisionService := revisions.New(cfg.RevisionsDir)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		defer meiliClient.Close()
		go searchService.ReindexAllFromPG(ctx)
	}

	deps := app.Dependencies{
		Store:     dataStore,
		Auth:      authpw.NewService(dataStore, cfg.JWTSecret),
		Search:    searchService,
		Revisions: revisionService,
	}

	// Redis backs refresh sessions and rejection records when configured;
	// Postgres and process memory otherwise.
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for refresh tokens and rejection records")
		refreshStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer refreshStore.Close()
		deps.Refresh = refreshStore

		rejectionStore, err := rejections.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer rejectionStore.Close()
		deps.Rejections = rejectionStore
	} else {
		log.Printf("Using PostgreSQL refresh sessions and in-memory rejection records")
		deps.Refresh = app.NewPGRefreshStore(dataStore)
		deps.Rejections = rejections.NewMemoryStore()
	}

	if strings.TrimSpace(cfg.LLMAPIKey) != "" {
		deps.Text = textproc.NewService(textproc.NewClient(cfg.LLMAPIKey, cfg.LLMModel, cfg.LLMBaseURL))
	} else {
		log.Printf("WARNING: LLM_API_KEY not set, correction and translation disabled")
	}

	emailService := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	deps.Email = emailService

	var archiver export.Archiver
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		archiver, err = export.NewMinioArchive(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Printf("WARNING: export archive unavailable: %v", err)
			archiver = nil
		}
	}
	deps.Export = export.NewService(app.NewExportStore(dataStore), archiver)

	service := app.New(cfg, deps)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Navalingo API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
