package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/example/campus-parking/internal/config"
	httpapi "github.com/example/campus-parking/internal/http"
	"github.com/example/campus-parking/internal/logging"
	"github.com/example/campus-parking/internal/payments"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	// optional migration: run migrations/001_create_parking.sql if requested
	if cfg.PGDSN != "" && cfg.RunMigrations {
		if db, err := sql.Open("postgres", cfg.PGDSN); err == nil {
			if b, err := os.ReadFile(filepath.Join("migrations", "001_create_parking.sql")); err == nil {
				if _, err := db.Exec(string(b)); err != nil {
					log.Printf("migration exec error: %v", err)
				} else {
					log.Printf("migration applied: 001_create_parking.sql")
				}
			}
			_ = db.Close()
		} else {
			log.Printf("migration db open error: %v", err)
		}
	}

	srv := httpapi.NewServer(cfg, logger, payments.NewStripeGateway())
	hs := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("campus-parking listening on %s", cfg.HTTPAddr)
		if err := hs.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
