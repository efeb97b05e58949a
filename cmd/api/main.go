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

	"bagofwords/api/internal/app"
	"bagofwords/api/internal/archive"
	"bagofwords/api/internal/cache"
	"bagofwords/api/internal/config"
	"bagofwords/api/internal/evalrun"
	"bagofwords/api/internal/gitexport"
	"bagofwords/api/internal/search"
	"bagofwords/api/internal/store"
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

	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		log.Fatalf("failed to create repos dir: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	service := app.NewService(cfg, dataStore).
		WithGit(gitexport.New(cfg.ReposDir))

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)
	service.WithSearch(searchService)
	searchService.ReindexAllFromPG(ctx)

	if strings.TrimSpace(cfg.RedisURL) != "" {
		diffCache, err := cache.New(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer diffCache.Close()
		service.WithDiffCache(diffCache)
		log.Printf("Diff cache enabled")
	}

	if strings.TrimSpace(cfg.EvalRunnerURL) != "" {
		service.WithEvalRunner(evalrun.New(cfg.EvalRunnerURL, cfg.EvalRunnerToken, cfg.EvalTimeout))
		log.Printf("Eval runner configured at %s", cfg.EvalRunnerURL)
	}

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		archiver, err := archive.New(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("object storage connection failed: %v", err)
		}
		service.WithArchiver(archiver)
		log.Printf("Build archives enabled in bucket %s", cfg.MinioBucket)
	}

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
		log.Printf("bagofwords build API listening on %s", cfg.Addr)
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
