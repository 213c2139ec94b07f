package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"join-sentinel/internal/api"
	"join-sentinel/internal/backend"
	"join-sentinel/internal/bridge"
	"join-sentinel/internal/capture"
	"join-sentinel/internal/config"
	"join-sentinel/internal/logging"
	"join-sentinel/internal/notify"
	"join-sentinel/internal/payment"
	"join-sentinel/internal/reconcile"
	"join-sentinel/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting_service", "service", "join-sentinel", "http_addr", cfg.HTTPAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// store local: sqlite por padrão, redis quando o host já roda um
	var kv store.Store
	switch cfg.StoreDriver {
	case "redis":
		kv, err = store.NewRedis(cfg.RedisDSN)
	default:
		kv, err = store.NewSQLite(cfg.SQLitePath)
	}
	if err != nil {
		logger.Error("store_open_failed", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer kv.Close()

	if len(cfg.EncryptionKey) != 32 {
		logger.Warn("encryption_key_not_configured", "msg", "sessao sera persistida em claro; configure ENCRYPTION_KEY")
	}
	state := store.NewState(kv, cfg.EncryptionKey)

	backendClient := backend.NewClient(logger, cfg.BackendURL)

	// bridge primeiro: ele é o controlador de browser e o canal de notificação
	shellBridge := bridge.New(logger)
	notifier := notify.Fanout{&notify.LogNotifier{Log: logger}, shellBridge}

	reconciler := reconcile.New(logger, backendClient, state, notifier, reconcile.Options{
		PollInterval: cfg.PollInterval,
		FetchTimeout: cfg.FetchTimeout,
		SweepEvery:   cfg.SweepEvery,
	})
	reconciler.Restore(ctx)
	go reconciler.Run(ctx)

	engine := capture.NewEngine(capture.Config{
		LoginURL:      cfg.LoginURL,
		TargetDomain:  cfg.TargetDomain,
		ProbeInterval: cfg.ProbeInterval,
		SettleDelay:   cfg.ProbeSettle,
		Budget:        cfg.CaptureBudget,
	}, logger)

	watcher := payment.NewWatcher(logger, reconciler)

	srv := api.NewServer(logger, cfg, backendClient, reconciler, engine, shellBridge, watcher, notifier, shellBridge.HandleWS)
	shellBridge.SetHandler(srv)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http_listen_failed", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("control_plane_ready", "addr", cfg.HTTPAddr)

	// graceful shutdown
	stop := make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting_down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http_shutdown_failed", "error", err)
	} else {
		logger.Info("http_server_stopped")
	}

	if err := kv.Close(); err != nil {
		logger.Warn("store_close_error", "error", err)
	}
}
