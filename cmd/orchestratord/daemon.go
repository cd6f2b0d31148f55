package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edgefaas/edgefaas/internal/config"
	"github.com/edgefaas/edgefaas/internal/logging"
	"github.com/edgefaas/edgefaas/internal/observability"
	"github.com/edgefaas/edgefaas/internal/orchestrator"
	"github.com/spf13/cobra"
)

func daemonCmd() *cobra.Command {
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the Orchestrator daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if configFile != "" {
				var err error
				cfg, err = config.LoadFromFile(configFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
			}
			config.LoadFromEnv(cfg)
			if cmd.Flags().Changed("listen") {
				cfg.Daemon.HTTPAddr = listenAddr
			}

			logging.InitStructured(cfg.Logging.Format, cfg.Logging.Level)

			if err := observability.Init(context.Background(), observability.Config{
				Enabled:     cfg.Tracing.Enabled,
				Endpoint:    cfg.Tracing.Endpoint,
				ServiceName: cfg.Tracing.ServiceName,
				SampleRate:  cfg.Tracing.SampleRate,
			}); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer observability.Shutdown(context.Background())

			svc, err := orchestrator.NewService(orchestrator.Config{
				ImagePrefix:   cfg.Docker.ImagePrefix,
				Network:       cfg.Docker.Network,
				PortRangeMin:  cfg.Docker.PortRangeMin,
				PortRangeMax:  cfg.Docker.PortRangeMax,
				MemoryLimitMB: cfg.Docker.MemoryLimitMB,
				CPULimit:      cfg.Docker.CPULimit,
				ReadyTimeout:  cfg.Docker.ReadyTimeout,
				StopTimeout:   cfg.Docker.StopTimeout,
			})
			if err != nil {
				return fmt.Errorf("connect to docker: %w", err)
			}

			server := orchestrator.NewServer(svc, cfg.Janitor.GracePeriod)
			mux := http.NewServeMux()
			server.RegisterRoutes(mux)

			httpServer := &http.Server{
				Addr:    cfg.Daemon.HTTPAddr,
				Handler: mux,
			}

			go func() {
				logging.Op().Info("orchestrator listening", "addr", cfg.Daemon.HTTPAddr)
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logging.Op().Error("orchestrator http server error", "error", err)
				}
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh
			logging.Op().Info("shutdown signal received")

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpServer.Shutdown(ctx)
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", ":9090", "HTTP listen address")
	return cmd
}
