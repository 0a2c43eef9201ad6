package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/crm-sync/internal/api"
	"github.com/ignite/crm-sync/internal/cache"
	"github.com/ignite/crm-sync/internal/classify"
	"github.com/ignite/crm-sync/internal/config"
	"github.com/ignite/crm-sync/internal/pkg/distlock"
	"github.com/ignite/crm-sync/internal/pkg/logger"
	"github.com/ignite/crm-sync/internal/repository/postgres"
	"github.com/ignite/crm-sync/internal/sheets"
	"github.com/ignite/crm-sync/internal/sheetsync"
	"github.com/ignite/crm-sync/internal/worker"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v", port, addr, err)
	}
	ln.Close()
	return nil
}

func main() {
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	if cfg.Logging.RedactPII != nil {
		logger.SetRedactPII(*cfg.Logging.RedactPII)
	}

	host := cfg.Server.GetHost()
	port := cfg.Server.Port
	if err := checkPortAvailable(host, port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}

	loc, err := cfg.Sync.Location()
	if err != nil {
		log.Fatalf("Failed to resolve timezone: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := postgres.EnsureSchema(ctx, db); err != nil {
		log.Fatalf("Failed to ensure schema: %v", err)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, counts cache and redis lock disabled", "error", err)
			redisClient = nil
		}
	}

	repo := postgres.NewRecordRepo(db, loc)
	countsCache := cache.NewCountsCache(redisClient, cfg.Classify.CountsTTL())

	classifier := classify.New(classify.Config{
		FollowUpMarkers:  cfg.Classify.FollowUpMarkers,
		RemovedSentinels: cfg.Classify.RemovedSentinels,
	})

	engine := sheetsync.NewEngine(repo, sheetsync.Config{
		Workers:  cfg.Sync.Workers,
		Location: loc,
		Guard: sheetsync.GuardConfig{
			ActiveStatuses: cfg.Sync.ActiveStatuses,
			RecentWindow:   cfg.Sync.RecentWindow(),
			DeletedBy:      cfg.Sync.DeletedBy,
		},
	})

	var creds []byte
	if cfg.Source.CredentialsFile != "" {
		creds, err = os.ReadFile(cfg.Source.CredentialsFile)
		if err != nil {
			log.Fatalf("Failed to read credentials file: %v", err)
		}
	}
	sheetsClient, err := sheets.NewClient(ctx, creds, cfg.Sync.RetryMaxAttempts, cfg.Sync.BackoffBase())
	if err != nil {
		log.Fatalf("Failed to build sheets client: %v", err)
	}

	lock := distlock.NewLock(redisClient, db, "crm-sync:pass", 10*time.Minute)

	syncWorker := worker.NewSyncWorker(sheetsClient, engine, lock, countsCache, worker.Config{
		SheetID:     cfg.Source.SheetID,
		RangeSpec:   cfg.Source.Range,
		Interval:    cfg.Sync.Interval(),
		MaxAttempts: cfg.Sync.RetryMaxAttempts,
		BackoffBase: cfg.Sync.BackoffBase(),
	})
	if cfg.Source.SheetID != "" {
		go syncWorker.Start(ctx)
	} else {
		logger.Warn("no sheet_id configured, background sync disabled")
	}

	handlers := api.NewHandlers(db, repo, classifier, countsCache, syncWorker, loc)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      api.NewRouter(handlers),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting server on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	log.Println("Shutting down...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}
