package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mcdev12/rubata/go/internal/rubata/config"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	configPath := flag.String("config", os.Getenv("RUBATA_CONFIG"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("rubata server failed")
	}
	log.Info().Msg("rubata server stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	db, err := setupDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	services, err := setupServices(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer services.Close()

	server := setupServer(cfg, services, db)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return services.Broadcast.Run(gctx) })
	g.Go(func() error {
		services.Sockets.Start(gctx)
		return nil
	})
	if services.Relay != nil {
		g.Go(func() error { return services.Relay.Start(gctx) })
	}
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Str("storage", cfg.Storage.Driver).Msg("rubata server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down rubata server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		services.Sessions.Close()
		return nil
	})
	return g.Wait()
}
