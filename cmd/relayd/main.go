package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oharashane/cs16relay/internal/config"
	"github.com/oharashane/cs16relay/internal/logger"
	"github.com/oharashane/cs16relay/internal/metrics"
	"github.com/oharashane/cs16relay/internal/server"
	"github.com/oharashane/cs16relay/internal/session"
	"github.com/oharashane/cs16relay/internal/sidecar"
)

func main() {
	root := &cobra.Command{
		Use:   "relayd",
		Short: "CS 1.6 / Source UDP relay over WebRTC",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			sidecarAddr, _ := cmd.Flags().GetString("sidecar-addr")
			logLevel, _ := cmd.Flags().GetString("log-level")
			logFile, _ := cmd.Flags().GetString("log-file")

			if err := logger.Init(logLevel, logFile); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if addr == "" {
				addr = fmt.Sprintf(":%d", cfg.Port)
			}

			reg := metrics.New()
			sessions := session.NewRegistry()
			relaySrv := server.NewServer(cfg, reg, sessions, logger.Log)

			httpSrv := &http.Server{
				Addr:    addr,
				Handler: relaySrv,
			}

			var sidecarSrv *sidecar.Server
			if sidecarAddr != "" {
				sidecarSrv = &sidecar.Server{Config: cfg, Metrics: reg, Logger: logger.Log}
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 2)
			go func() {
				logger.Info("relayd listening", "addr", addr)
				if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()
			if sidecarSrv != nil {
				go func() {
					if err := sidecarSrv.Start(sidecarAddr); err != nil {
						errCh <- err
					}
				}()
			}

			select {
			case <-ctx.Done():
				logger.Info("shutting down")
				sessions.CloseAll()
				relaySrv.Close()
				if sidecarSrv != nil {
					sidecarSrv.Close()
				}
				return httpSrv.Close()
			case err := <-errCh:
				return err
			}
		},
	}

	root.Flags().String("addr", "", "listen address, overrides PORT")
	root.Flags().String("sidecar-addr", "", "sidecar ingress listen address; empty disables the sidecar")
	root.Flags().String("log-level", "info", "debug, info, warn, or error")
	root.Flags().String("log-file", "", "optional path to also write logs to")

	if err := root.Execute(); err != nil {
		slog.Error("relayd exited", "err", err)
		os.Exit(1)
	}
}
