package commands

import (
	"chatline/internal/auth"
	"chatline/internal/config"
	"chatline/internal/http"
	"chatline/internal/metrics"
	"chatline/internal/storage"
	"chatline/internal/stubs"
	"chatline/internal/ws"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	oshttp "net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// RunPlatform serves the local dev messaging platform until ctx is done.
func RunPlatform(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	authConfig := auth.Config{
		Secret:      base64.StdEncoding.EncodeToString([]byte(cfg.AuthSecret)),
		TokenExpiry: cfg.TokenExpiry,
	}

	bbStorage, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = bbStorage.Close() }()

	authService, err := auth.NewAuthService(ctx, authConfig)
	if err != nil {
		return err
	}

	clients, err := bbStorage.ListClients()
	if err != nil {
		return fmt.Errorf("failed to load clients: %w", err)
	}
	authService.LoadClients(clients)

	if err := stubs.Seed(authService, bbStorage, time.Now()); err != nil {
		return err
	}

	m := metrics.New()
	hub := ws.NewHub(bbStorage, log, m)

	adminServer := http.NewAdminServer(authService, bbStorage, cfg.AdminAddr, log)
	apiServer := http.NewAPIServer(ctx, authService, hub, bbStorage, m, cfg.InboundRate, cfg.APIAddr, log)

	g, gCtx := errgroup.WithContext(ctx)

	// Start Admin Server
	g.Go(func() error {
		err := adminServer.Start()
		if err != nil && !errors.Is(err, oshttp.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Start API Server
	g.Go(func() error {
		err := apiServer.Start()
		if err != nil && !errors.Is(err, oshttp.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		log.Info().Msg("shutting down servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("admin server shutdown error")
		}
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("API server shutdown error")
		}
		return nil
	})

	return g.Wait()
}
