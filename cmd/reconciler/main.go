package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/seongmin-k/coupon-rush/internal/cache"
	"github.com/seongmin-k/coupon-rush/internal/config"
	"github.com/seongmin-k/coupon-rush/internal/database"
	"github.com/seongmin-k/coupon-rush/internal/service"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		os.Exit(2)
	}

	log.Printf("Starting reconciler in %s mode, interval %s",
		cfg.App.Environment, cfg.Reconciler.GetInterval())

	db, err := database.NewDB(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("Error closing database connections: %v", err)
		}
	}()

	redisClient := cache.NewClient(
		cfg.Redis.Addrs,
		cfg.Redis.Password,
		time.Duration(cfg.Redis.DialTimeout)*time.Second,
		time.Duration(cfg.Redis.ReadTimeout)*time.Second,
		cfg.Redis.PoolSize,
	)
	defer func() {
		if err := redisClient.Close(); err != nil {
			log.Printf("Error closing redis client: %v", err)
		}
	}()
	store := cache.NewStore(redisClient)
	if err := store.Ping(ctx); err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}

	reconciler := service.NewReconciler(db.Postgres, store)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Reconciler.GetInterval())
	defer ticker.Stop()

	// One pass up front so a short-lived run still reports
	if _, err := reconciler.RunOnce(ctx); err != nil {
		log.Printf("Reconciliation pass failed: %v", err)
	}

	for {
		select {
		case <-ticker.C:
			if _, err := reconciler.RunOnce(ctx); err != nil {
				log.Printf("Reconciliation pass failed: %v", err)
			}
		case <-quit:
			log.Println("Reconciler exited gracefully")
			return
		}
	}
}
