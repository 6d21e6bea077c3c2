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

	"github.com/joho/godotenv"

	"flowdesk/api/internal/app"
	"flowdesk/api/internal/authpw"
	"flowdesk/api/internal/blob"
	"flowdesk/api/internal/collab"
	"flowdesk/api/internal/config"
	"flowdesk/api/internal/email"
	"flowdesk/api/internal/export"
	"flowdesk/api/internal/history"
	"flowdesk/api/internal/search"
	"flowdesk/api/internal/session"
	"flowdesk/api/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx := context.Background()

	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		log.Fatalf("failed to create repos dir: %v", err)
	}

	var (
		dataStore app.DataStore
		sessions  app.SessionStore
	)
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("database connection failed: %v", err)
		}
		defer db.Close()
		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			log.Fatalf("migrations failed: %v", err)
		}
		pg := store.NewPostgres(db)
		dataStore, sessions = pg, pg
	} else {
		log.Printf("No DATABASE_URL set, using in-memory store with demo data")
		mem := store.NewMemory()
		demoHash, err := authpw.HashPassword("password123")
		if err != nil {
			log.Fatalf("failed to hash demo password: %v", err)
		}
		if err := store.Seed(ctx, mem, demoHash); err != nil {
			log.Fatalf("seed failed: %v", err)
		}
		dataStore, sessions = mem, mem
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for refresh token storage")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		sessions = redisStore
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewStoreScan(dataStore))

	var archiver export.Archiver
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		archive, err := blob.NewArchive(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Printf("WARNING: export archive disabled: %v", err)
		} else {
			archiver = archive
		}
	}
	exportService := export.NewService(app.NewExportSource(dataStore), archiver)

	historyService := history.New(cfg.ReposDir)
	emailService := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	accounts := authpw.NewService(dataStore)

	service := app.New(cfg, dataStore, sessions, accounts, searchService, exportService, historyService, emailService)
	if err := service.Bootstrap(ctx); err != nil {
		log.Printf("WARNING: bootstrap error (will retry on next restart): %v", err)
	}

	saver := collab.NewSaver(cfg.SaveQuietWindow, service.SaveDocumentContent)
	hub := collab.NewHub(dataStore, saver, searchService)

	httpServer := app.NewHTTPServer(service, hub, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("FlowDesk API listening on %s", cfg.Addr)
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

	// Buffered realtime edits must hit the store before exit.
	hub.Close()
}
