// T-Bank Payments Service
//
// This is the main entry point for the payment mediation service.
// It wires up all dependencies and starts the HTTP server.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/1ns0mn1a7/modern-tbank-woo-payments/config"
	"github.com/1ns0mn1a7/modern-tbank-woo-payments/internal/api"
	"github.com/1ns0mn1a7/modern-tbank-woo-payments/internal/domain"
	"github.com/1ns0mn1a7/modern-tbank-woo-payments/internal/payment"
	"github.com/1ns0mn1a7/modern-tbank-woo-payments/internal/platform/ledger"
	"github.com/1ns0mn1a7/modern-tbank-woo-payments/internal/platform/logging"
	"github.com/1ns0mn1a7/modern-tbank-woo-payments/internal/reconcile"
	"github.com/1ns0mn1a7/modern-tbank-woo-payments/internal/tbank"
)

func main() {
	log.Println("Starting T-Bank Payments Service...")

	// Load configuration
	cfg := config.Load()
	log.Printf("Configuration loaded: Port=%s, Terminal=%s", cfg.Server.Port, cfg.Terminal.TerminalKey)

	// Validate required configuration
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	logger, err := logging.New(cfg.Debug)
	if err != nil {
		log.Fatalf("Logger error: %v", err)
	}
	defer logger.Sync()

	// Wire up dependencies (manual dependency injection)
	//
	// Infrastructure Layer
	var orderLedger domain.OrderLedger
	if cfg.Ledger.DSN != "" {
		pg, err := ledger.ConnectPostgres(cfg.Ledger.DSN)
		if err != nil {
			log.Fatalf("Ledger error: %v", err)
		}
		orderLedger = pg
		log.Println("Connected to PostgreSQL ledger")
	} else {
		orderLedger = ledger.NewMemory()
		log.Println("Warning: LEDGER_DSN not set, using the in-memory ledger")
	}

	gateway := tbank.NewClient(cfg.Terminal, logger, cfg.Debug)

	// Service Layer
	reconciler := reconcile.New(orderLedger, logger, cfg.Terminal.Secret, cfg.AutoComplete, cfg.Debug)
	paymentService := payment.NewService(orderLedger, gateway, reconciler, logger, cfg)

	// API Layer
	handler := api.NewHandler(paymentService, reconciler, logger)
	router := api.SetupRouter(handler, cfg.Server.GinMode)

	// Start server in a goroutine
	serverAddr := fmt.Sprintf(":%s", cfg.Server.Port)
	go func() {
		log.Printf("Server listening on %s", serverAddr)
		if err := router.Run(serverAddr); err != nil {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
}

// validateConfig checks that required configuration values are set.
func validateConfig(cfg *config.Config) error {
	if cfg.Terminal.TerminalKey == "" {
		return fmt.Errorf("TBANK_TERMINAL_KEY is required")
	}
	if cfg.Terminal.Secret == "" {
		return fmt.Errorf("TBANK_SECRET is required")
	}
	if cfg.Terminal.NotificationURL == "" {
		log.Println("Warning: TBANK_NOTIFICATION_URL not set, the terminal default will be used")
	}
	return nil
}
