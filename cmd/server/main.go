package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Wyydra/medsignal/internal/adapter/driven/gateway/ws"
	prom "github.com/Wyydra/medsignal/internal/adapter/driven/metrics/prometheus"
	"github.com/Wyydra/medsignal/internal/adapter/driven/registry/memory"
	handler "github.com/Wyydra/medsignal/internal/adapter/driving/http"
	"github.com/Wyydra/medsignal/internal/config"
	"github.com/Wyydra/medsignal/internal/core/port"
	"github.com/Wyydra/medsignal/internal/core/service"
	"github.com/Wyydra/medsignal/internal/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:           "medsignal-server",
		Short:         "WebRTC signaling relay for two-party consultation rooms",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := applyFlags(cmd, &cfg); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cfg)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&configPath, "config", "c", os.Getenv("MEDSIGNAL_CONFIG"), "path to a YAML config file")
	f.String("listen", "", "listen address")
	f.Int("max-room-size", 0, "participants per room, 0 for unbounded")
	f.StringSlice("allowed-origins", nil, "websocket origins to accept, empty accepts all")
	f.String("static-dir", "", "directory served on /")
	f.Bool("metrics", true, "expose /metrics")
	f.String("log-level", "", "trace, debug, info, warn or error")
	f.String("log-format", "", "console or json")
	return cmd
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	var err error
	if f.Changed("listen") {
		cfg.Server.Listen, err = f.GetString("listen")
	}
	if err == nil && f.Changed("max-room-size") {
		cfg.Server.MaxRoomSize, err = f.GetInt("max-room-size")
	}
	if err == nil && f.Changed("allowed-origins") {
		cfg.Server.AllowedOrigins, err = f.GetStringSlice("allowed-origins")
	}
	if err == nil && f.Changed("static-dir") {
		cfg.Server.StaticDir, err = f.GetString("static-dir")
	}
	if err == nil && f.Changed("metrics") {
		cfg.Server.Metrics, err = f.GetBool("metrics")
	}
	if err == nil && f.Changed("log-level") {
		cfg.Log.Level, err = f.GetString("log-level")
	}
	if err == nil && f.Changed("log-format") {
		cfg.Log.Format, err = f.GetString("log-format")
	}
	return err
}

func serve(cfg config.Config) error {
	l, err := logger.New(cfg.Log.Level, cfg.Log.Format, os.Stdout)
	if err != nil {
		return err
	}
	logger.Install(l)

	opts := handler.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		StaticDir:      cfg.Server.StaticDir,
		Client: ws.Options{
			MaxMessageBytes:   cfg.Server.MaxMessageBytes,
			PongWait:          cfg.Server.PongWait,
			PingPeriod:        cfg.Server.PingPeriod,
			SendBuffer:        cfg.Server.SendBuffer,
			MessagesPerSecond: cfg.Server.MessagesPerSecond,
			Burst:             cfg.Server.Burst,
		},
	}

	var metrics port.Metrics
	if cfg.Server.Metrics {
		recorder, err := prom.NewRecorder()
		if err != nil {
			return err
		}
		metrics = recorder
		opts.Metrics = recorder.Handler()
	}

	registry := memory.NewRoomRegistry(cfg.Server.MaxRoomSize)
	hub := ws.NewHub()
	signaling := service.NewSignalingService(registry, hub, metrics)
	h := handler.NewHandler(hub, registry, opts)

	go hub.Run(signaling)

	srv := &http.Server{
		Addr:    cfg.Server.Listen,
		Handler: h.NewRouter(),
	}

	errCh := make(chan error, 1)
	go func() {
		l.Info().Str("addr", cfg.Server.Listen).Int("max_room_size", cfg.Server.MaxRoomSize).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		hub.Stop()
		return fmt.Errorf("listen: %w", err)
	case <-quit:
	}
	l.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Shutdown does not close hijacked websocket connections
	hub.Stop()
	if err := srv.Shutdown(ctx); err != nil {
		l.Error().Err(err).Msg("Server forced to shutdown")
	}
	registry.Close()

	l.Info().Msg("Server exited")
	return nil
}
