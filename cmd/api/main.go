package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/kyaro/vps-broker/internal/client"
	"github.com/kyaro/vps-broker/internal/config"
	"github.com/kyaro/vps-broker/internal/db"
	"github.com/kyaro/vps-broker/internal/eventbus"
	"github.com/kyaro/vps-broker/internal/http"
	"github.com/kyaro/vps-broker/internal/repository"
	"github.com/kyaro/vps-broker/internal/security"
	"github.com/kyaro/vps-broker/internal/service"
)

func main() {
	log.Println("Starting VPS Broker...")

	// .env is optional; real deployments use environment variables
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded .env file")
	}

	// Load and validate configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	cipher, err := security.NewCipher(cfg.Encryption.Key)
	if err != nil {
		log.Fatalf("Invalid encryption key: %v", err)
	}

	// Initialize database
	pool, err := db.NewPool(cfg.Database.DSN())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	// Initialize repositories
	workerRepo := repository.NewWorkerRepository(pool)
	credentialRepo := repository.NewCredentialRepository(pool)
	productRepo := repository.NewProductRepository(pool)
	walletRepo := repository.NewWalletRepository(pool)
	sessionRepo := repository.NewSessionRepository(pool, walletRepo)
	sessionLogRepo := repository.NewSessionLogRepository(pool)

	// Initialize worker client and event bus
	workerClient := client.NewWorkerClient(
		cfg.Worker.CallbackBase,
		cfg.Worker.DispatchToken,
		cfg.Worker.DispatchTimeout,
		cfg.Worker.ConnectTimeout,
		cfg.Worker.HealthCheckTimeout,
	)
	bus := eventbus.New(eventbus.DefaultQueueSize)

	// Initialize services
	registryService := service.NewRegistryService(workerRepo, credentialRepo, workerClient, cfg.Worker.DefaultMaxSessions)
	credentialService := service.NewCredentialService(credentialRepo, workerRepo, cipher, cfg.Worker.DefaultMaxSessions)
	productService := service.NewProductService(productRepo, workerRepo)
	walletService := service.NewWalletService(walletRepo)
	sessionService := service.NewSessionService(sessionRepo, productRepo, workerRepo, sessionLogRepo, workerClient, bus, cfg.Session.TTL)
	callbackService := service.NewCallbackService(sessionRepo, workerRepo, productRepo, sessionLogRepo, bus)

	// Background expiry sweeper
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	go sessionService.RunExpirySweeper(sweepCtx, cfg.Session.SweepInterval)

	// Initialize HTTP server
	handler := http.NewHandler(sessionService, productService, walletService, bus)
	workerHandler := http.NewWorkerHandler(credentialService, callbackService)
	adminHandler := http.NewAdminHandler(registryService, credentialService, productService, sessionService, walletService)
	server := http.NewServer(cfg, pool, handler, workerHandler, adminHandler, credentialService)

	// Start server in goroutine
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Server.Port)
		log.Printf("Server starting on %s", addr)
		if err := server.Run(addr); err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	stopSweeper()
	log.Println("Server exited")
}
