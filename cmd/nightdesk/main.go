package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nightdesk/internal/app"
	"nightdesk/internal/config"
)

// FUNCTIONAL DISCOVERY: Main entry point with comprehensive error handling and signal management
// Graceful shutdown on SIGINT/SIGTERM ensures proper resource cleanup
func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

// configPath resolves the config file from -config, then NIGHTDESK_CONFIG_FILE
func configPath(args []string) (string, error) {
	fs := flag.NewFlagSet("nightdesk", flag.ContinueOnError)
	path := fs.String("config", os.Getenv("NIGHTDESK_CONFIG_FILE"), "path to a JSON config file")
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	return *path, nil
}

// ARCHITECTURAL DISCOVERY: Separate run function enables testing and error handling
// Signal handling ensures graceful shutdown in production environments
func run(args []string) error {
	// STEP 1: Load configuration with precedence (file > env > defaults)
	path, err := configPath(args)
	if err != nil {
		return err
	}
	cfg, err := config.LoadConfigWithPrecedence(path)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := cfg.Log.NewLogger(os.Stderr)

	// STEP 2: Create application with configuration
	application, err := app.NewApplication(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	// STEP 3: Start serving; the hub outlives the signal so shutdown can drain it
	if err := application.Start(context.Background()); err != nil {
		return fmt.Errorf("application error: %w", err)
	}

	// STEP 4: Wait for shutdown signal
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signalCh
	logger.Info("received signal, shutting down gracefully", "signal", sig.String())

	// FUNCTIONAL DISCOVERY: Timeout context prevents hanging shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := application.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}
