package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	githubadapter "github.com/ericfisherdev/guardpanel/internal/adapter/driven/github"
	"github.com/ericfisherdev/guardpanel/internal/adapter/driven/manifest"
	sqliteadapter "github.com/ericfisherdev/guardpanel/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/guardpanel/internal/adapter/driven/steam"
	"github.com/ericfisherdev/guardpanel/internal/adapter/driven/totp"
	httphandler "github.com/ericfisherdev/guardpanel/internal/adapter/driving/http"
	"github.com/ericfisherdev/guardpanel/internal/application"
	"github.com/ericfisherdev/guardpanel/internal/config"
	"github.com/ericfisherdev/guardpanel/internal/domain/model"
	"github.com/ericfisherdev/guardpanel/internal/domain/port/driven"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

// watchDebounce coalesces the burst of events an editor save produces.
const watchDebounce = 250 * time.Millisecond

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration and install the logger.
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	slog.Info("config loaded",
		"version", Version,
		"listen_addr", cfg.ListenAddr,
		"manifest_path", cfg.ManifestPath,
		"db_path", cfg.DBPath,
		"tick_interval", cfg.TickInterval,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open the activity database and apply migrations.
	db, err := sqliteadapter.Open(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	activity := sqliteadapter.NewActivityRepo(db)
	slog.Info("database opened", "path", cfg.DBPath)

	// 4. Wire the Steam transport, the aligned clock and the provider kinds.
	steamClient := steam.NewClient(&http.Client{Timeout: cfg.HTTPTimeout}, cfg.SteamAPIURL, cfg.SteamCommunityURL)
	clock := application.NewClock(steamClient, cfg.AlignInterval)

	registry := application.NewProviderRegistry()
	registry.Register(model.KindSteam, steamClient)
	registry.Register(model.KindTOTP, totp.Factory)

	// 5. Open the manifest. A corrupt file is fatal; a wrong configured passkey
	// leaves it locked until a passkey arrives over the API.
	if err := os.MkdirAll(filepath.Dir(cfg.ManifestPath), 0o700); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}
	store := manifest.NewStore(cfg.ManifestPath, manifest.WithIterations(cfg.KDFIterations))
	accounts := application.NewAccountService(store, registry, clock, activity)
	status := application.NewStatus()
	orch := application.NewOrchestrator(accounts, clock, application.NewSessionCache(), status, activity, cfg.TickInterval)

	if err := orch.Open(ctx, cfg.Passkey); err != nil {
		if !errors.Is(err, driven.ErrWrongPasskey) {
			return fmt.Errorf("open manifest: %w", err)
		}
		slog.Warn("configured passkey was rejected, manifest stays locked", "path", cfg.ManifestPath)
	}
	if accounts.Settings().FirstRun {
		slog.Info("first run, manifest created", "path", cfg.ManifestPath)
		if err := accounts.MarkFirstRunDone(ctx); err != nil {
			slog.Warn("could not clear first run flag", "error", err)
		}
	}

	// 6. Pick up settings edited on disk by another instance or by hand.
	watcher, err := manifest.NewWatcher(cfg.ManifestPath, watchDebounce, func() {
		if store.ChangedOnDisk() {
			orch.ReloadSettings(ctx)
		}
	})
	if err != nil {
		slog.Warn("manifest watcher disabled", "error", err)
	} else {
		go watcher.Run(ctx)
	}

	// 7. Release checker for the update endpoint.
	var updates *application.UpdateService
	releases, err := githubadapter.NewClient(cfg.ReleaseRepo, cfg.GitHubToken)
	if err != nil {
		slog.Warn("update check disabled", "error", err)
	} else {
		updates = application.NewUpdateService(releases, Version)
		go logUpdate(ctx, updates)
	}

	// 8. Start the foreground tick and the confirmation poller.
	orchDone := make(chan struct{})
	go func() {
		orch.Start(ctx)
		close(orchDone)
	}()
	go logNotifications(ctx, orch.Notifications())

	// 9. Serve the local control API.
	apiHandler := httphandler.NewHandler(orch, accounts, clock, status, activity, updates, logger)
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httphandler.NewServeMux(apiHandler, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.HTTPTimeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			stop()
		}
	}()

	slog.Info("guardpanel started",
		"accounts", len(accounts.Manifest().Names),
		"locked", accounts.Locked(),
	)

	// 10. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}
	<-orchDone

	slog.Info("shutdown complete")
	return nil
}

// logNotifications reports each confirmation batch until ctx is canceled.
func logNotifications(ctx context.Context, batches <-chan model.ConfirmationBatch) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch := <-batches:
			accounts := make(map[string]int)
			for _, c := range batch.Confirmations {
				accounts[c.Account]++
			}
			slog.Info("confirmations pending",
				"batch", batch.ID,
				"count", len(batch.Confirmations),
				"accounts", accounts,
			)
		}
	}
}

func logUpdate(ctx context.Context, updates *application.UpdateService) {
	info, err := updates.Check(ctx)
	if err != nil {
		slog.Debug("startup update check failed", "error", err)
		return
	}
	if info.Available {
		slog.Info("update available", "current", info.CurrentVersion, "latest", info.LatestVersion, "url", info.URL)
	}
}
