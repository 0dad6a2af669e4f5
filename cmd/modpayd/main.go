package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"modpay/config"
	"modpay/core/events"
	"modpay/native/apps"
	nativecommon "modpay/native/common"
	"modpay/native/escrow"
	"modpay/native/ledger"
	"modpay/native/moderator"
	"modpay/observability"
	"modpay/observability/logging"
	"modpay/state"
	"modpay/storage"
)

const version = "0.3.0"

func main() {
	configPath := flag.String("config", "modpay.toml", "path to the daemon configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.ServiceName, cfg.Environment, logging.FileOptions{
		Path:       cfg.LogFile,
		MaxSizeMB:  cfg.LogFileMaxSizeMB,
		MaxBackups: cfg.LogFileMaxBackups,
	})

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("create data dir", "err", err)
		os.Exit(1)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		logger.Error("open state database", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	store := state.NewStore(db)
	journal := events.NewJournal(cfg.JournalCapacity)
	emitter := events.Fanout{journal, observability.Metrics()}
	pauses := nativecommon.NewPauses()

	moderators := moderator.NewLedger(store)
	registry := apps.NewRegistry(store)
	vault := ledger.NewCustodyVault(store)

	balances := ledger.NewLedger()
	balances.SetState(store)
	balances.SetVault(vault)
	balances.SetEmitter(emitter)
	balances.SetPauses(pauses)

	engine := escrow.NewEngine()
	engine.SetState(store)
	engine.SetApps(registry)
	engine.SetModerators(moderators)
	engine.SetLedger(balances)
	engine.SetVault(vault)
	engine.SetEmitter(emitter)
	engine.SetPauses(pauses)

	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           newOpsRouter(cfg, journal),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("ops listener started", "addr", cfg.ListenAddress, "version", version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops listener failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "err", err)
	}
}
