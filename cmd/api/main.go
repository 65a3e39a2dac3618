package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/seongmin-k/coupon-rush/internal/cache"
	"github.com/seongmin-k/coupon-rush/internal/config"
	"github.com/seongmin-k/coupon-rush/internal/database"
	"github.com/seongmin-k/coupon-rush/internal/handler"
	"github.com/seongmin-k/coupon-rush/internal/service"
	"github.com/seongmin-k/coupon-rush/internal/stream"
)

func main() {
	ctx := context.Background()

	// Load configuration from environment variables
	cfg, err := config.Load(ctx)
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		os.Exit(2)
	}

	log.Printf("Starting coupon API in %s mode", cfg.App.Environment)

	// Initialize database connections
	db, err := database.NewDB(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("Error closing database connections: %v", err)
		}
	}()

	if err := database.Migrate(ctx, db.Postgres); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	// Connect to the in-memory decision store
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

	// Event log producer, acks from all replicas before a success returns
	producer := stream.NewProducer(
		cfg.Kafka.Brokers,
		cfg.Kafka.Topic,
		cfg.Kafka.PublishAttempts,
		time.Duration(cfg.Kafka.PublishBackoffMS)*time.Millisecond,
	)
	defer func() {
		if err := producer.Close(); err != nil {
			log.Printf("Error closing producer: %v", err)
		}
	}()
	if err := producer.Ping(ctx); err != nil {
		log.Fatalf("Failed to connect to kafka: %v", err)
	}

	issueService := service.NewIssueService(store, producer, cfg.Redis.GetParticipationTTL())
	adminService := service.NewAdminService(db.Postgres, store, cfg.Redis.GetParticipationTTL())

	mux := http.NewServeMux()
	h := handler.New(issueService, adminService, store, producer, cfg.Server.GetRequestTimeout())
	h.Register(mux)

	// Create server with configuration optimized for high concurrency
	server := &http.Server{
		Addr:           cfg.Server.GetServerAddr(),
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:    120 * time.Second, // Keep connections alive longer
		MaxHeaderBytes: 1 << 20,           // 1MB
		// Use h2c so we can serve HTTP/2 without TLS
		Handler: h2c.NewHandler(mux, &http2.Server{
			MaxConcurrentStreams: 1000, // Allow more concurrent streams
		}),
	}

	// Start server in goroutine
	go func() {
		log.Printf("Starting coupon API on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited gracefully")
}
