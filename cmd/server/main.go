package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/DoyleJ11/gamenight-bracket/internal/archive"
	"github.com/DoyleJ11/gamenight-bracket/internal/config"
	"github.com/DoyleJ11/gamenight-bracket/internal/covers"
	"github.com/DoyleJ11/gamenight-bracket/internal/docsource"
	"github.com/DoyleJ11/gamenight-bracket/internal/engine"
	"github.com/DoyleJ11/gamenight-bracket/internal/httpapi"
	"github.com/DoyleJ11/gamenight-bracket/internal/hub"
	"github.com/DoyleJ11/gamenight-bracket/internal/logging"
	"github.com/DoyleJ11/gamenight-bracket/internal/secret"
	"github.com/DoyleJ11/gamenight-bracket/internal/ws"
)

const releaseVersion = "0.1.0"

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cobra.CheckErr(config.NewCommand(releaseVersion, run).Execute())
}

func run(cmd *cobra.Command, cfg *config.Config) error {
	log, err := logging.New(cfg.LogLevel, cfg.Dev)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		recorder archive.Recorder = archive.Nop{}
		store    archive.Store
	)
	if cfg.DatabaseURL != "" {
		gs, err := archive.Open(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		defer gs.Close()
		w := archive.NewWriter(gs, log.Named("archive"))
		defer w.Close()
		recorder, store = w, gs
		log.Info("results archive enabled")
	}

	h := hub.NewHub(ctx, hub.Options{
		DefaultTarget: cfg.DefaultTarget,
		FlashWindow:   cfg.FlashWindow,
		NewEnv:        engine.NewEnv,
		Archive:       recorder,
		Log:           log,
	})
	defer h.Shutdown()

	client := &http.Client{Timeout: cfg.FetchTimeout}
	handler := httpapi.SetupRoutes(httpapi.Deps{
		Hub: h,
		WS: ws.Deps{
			Hub:            h,
			Loader:         docsource.NewLoader(client, log),
			Covers:         covers.New(covers.Options{Client: client, Concurrency: cfg.CoverConcurrency, Log: log}),
			Secrets:        secret.NewHasher(cfg.SecretSalt),
			Log:            log.Named("ws"),
			OriginPatterns: cfg.Origins,
			ImportTimeout:  4 * cfg.FetchTimeout,
		},
		Archive:   store,
		Client:    client,
		PublicURL: cfg.PublicURL,
		Log:       log,

		AllowPrivateImages: cfg.ImgAllowPrivate,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", srv.Addr), zap.String("version", releaseVersion))
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
