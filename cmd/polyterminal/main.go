package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rewired-gh/polyterminal/internal/config"
	"github.com/rewired-gh/polyterminal/internal/logger"
	"github.com/rewired-gh/polyterminal/internal/polymarket"
	"github.com/rewired-gh/polyterminal/internal/scanner"
	"github.com/rewired-gh/polyterminal/internal/server"
	"github.com/rewired-gh/polyterminal/internal/storage"
	"github.com/rewired-gh/polyterminal/internal/telegram"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	store, err := storage.New(cfg.Storage.DBPath, cfg.Scanner.HistoryWindow, cfg.Scanner.MaxMoves)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	polyClient := polymarket.NewClient(
		cfg.Polymarket.GammaAPIURL,
		cfg.Polymarket.Timeout,
		polymarket.ClientConfig{
			PageSize:   cfg.Polymarket.PageSize,
			MaxRetries: cfg.Polymarket.MaxRetries,
			RetryDelay: cfg.Polymarket.RetryDelay,
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var notifier scanner.Notifier
	if cfg.Telegram.Enabled {
		telegramClient, err := telegram.NewClient(
			cfg.Telegram.BotToken,
			cfg.Telegram.ChatID,
			cfg.Telegram.MaxRetries,
			cfg.Telegram.RetryDelayBase,
		)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		telegramClient.ListenForCommands(ctx)
		notifier = telegramClient
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	scan := scanner.New(polyClient, store, notifier, scanner.Config{
		Interval:   cfg.Scanner.Interval,
		NotifyTopK: cfg.Scanner.NotifyTopK,
	})
	go scan.Run(ctx)

	srv := server.New(store, scan, server.Config{
		Addr:            cfg.Server.Addr,
		HistoryWindow:   cfg.Scanner.HistoryWindow,
		RefreshInterval: cfg.Server.RefreshInterval,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown failed: %v", err)
		}
	}()

	logger.Info("Starting terminal (scan interval: %v, history window: %v)",
		cfg.Scanner.Interval,
		cfg.Scanner.HistoryWindow,
	)

	if err := srv.Start(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("Server failed: %v", err)
	}
	logger.Info("Service stopped")
}
