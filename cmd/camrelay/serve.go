package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/neel-kotichintala/ZeroConfigCam/internal/api"
	"github.com/neel-kotichintala/ZeroConfigCam/internal/auth"
	"github.com/neel-kotichintala/ZeroConfigCam/internal/config"
	"github.com/neel-kotichintala/ZeroConfigCam/internal/dashboard"
	"github.com/neel-kotichintala/ZeroConfigCam/internal/database"
	"github.com/neel-kotichintala/ZeroConfigCam/internal/directory"
	"github.com/neel-kotichintala/ZeroConfigCam/internal/metrics"
	"github.com/neel-kotichintala/ZeroConfigCam/internal/registration"
	"github.com/neel-kotichintala/ZeroConfigCam/internal/relay"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func serve(ctx context.Context, cfg *config.Config) error {
	log.Info().Msg("Starting camera relay")
	log.Info().Str("config_file", cfgFile).Str("env_file", envFile).Msg("Configuration loaded")

	db, err := database.New(cfg.Database.Path, database.WithDebug(cfg.Database.Debug))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	log.Info().Str("path", cfg.Database.Path).Msg("Database ready")

	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecretKey, cfg.Auth.TokenTTL)
	dir := directory.New()
	hub := dashboard.NewHub()

	svc := registration.NewService(dir, db.Cameras, db.Provisioning, hub,
		registration.WithNamePrefix(cfg.Camera.DefaultNamePrefix),
	)

	cameraRelay := relay.New(dir, svc, hub, relay.Options{
		MaxFrameSize:      cfg.Camera.MaxFrameSize,
		WriteTimeout:      cfg.Camera.WriteTimeout,
		HeartbeatInterval: cfg.Camera.HeartbeatInterval,
		ReadBufferSize:    cfg.Server.ReadBufferSize,
		WriteBufferSize:   cfg.Server.WriteBufferSize,
	})
	svc.SetOpenConnections(cameraRelay)

	sessions := dashboard.NewManager(hub, dir, cameraRelay, jwtManager, dashboard.Options{
		QueueSize:       cfg.Dashboard.QueueSize,
		WriteTimeout:    cfg.Dashboard.WriteTimeout,
		AuthTimeout:     cfg.Dashboard.AuthTimeout,
		ReadBufferSize:  cfg.Server.ReadBufferSize,
		WriteBufferSize: cfg.Server.WriteBufferSize,
	})

	var limiter *api.ClientLimiter
	if cfg.RateLimit.Enabled {
		limiter = api.NewClientLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.BurstSize)
	}

	r := mux.NewRouter()
	r.Use(metrics.HTTPMetricsMiddleware(metrics.HTTPRequestsTotal, metrics.HTTPRequestDuration))
	r.Handle(cfg.Server.SessionPath, sessions)
	api.NewHandler(svc, db.Provisioning, jwtManager, limiter).Register(r)
	api.RegisterStatusRoutes(r, dir, hub, cameraRelay)

	server := &http.Server{
		Addr:    cfg.GetListenAddress(),
		Handler: h2c.NewHandler(cameraRelay.Gate(cfg.Server.SessionPath, r), &http2.Server{}),
	}

	go metrics.NewCollector(dir, hub, 0).Start(ctx)
	go cameraRelay.RunLiveness(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("address", cfg.GetListenAddress()).
			Str("session_path", cfg.Server.SessionPath).
			Dur("heartbeat_interval", cfg.Camera.HeartbeatInterval).
			Bool("rate_limiting", cfg.RateLimit.Enabled).
			Msg("Starting relay server")
		log.Info().Msgf("Health check: http://%s/health", cfg.GetListenAddress())
		log.Info().Msgf("Relay status: http://%s/status", cfg.GetListenAddress())
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down relay server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	err = server.Shutdown(shutdownCtx)
	// Hijacked WebSocket connections are not tracked by Shutdown. Camera
	// disconnects still write to the store, so this runs before db.Close.
	cameraRelay.Shutdown()
	if err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
