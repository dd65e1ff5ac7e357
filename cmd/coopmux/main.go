package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/groblegark/coop/internal/config"
	"github.com/groblegark/coop/internal/logger"
	"github.com/groblegark/coop/internal/mux"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	var (
		hostFlag     string
		portFlag     int
		tokenFlag    string
		upstreamTok  string
		configFlag   string
		launchScript string
		logLevel     string
		logFormat    string
		logFile      string
	)

	root := &cobra.Command{
		Use:   "coopmux",
		Short: "coopmux — registry and dashboard fan-out for coop supervisors",
		Long: "Keeps a directory of live coop endpoints, probes their health, taps their\n" +
			"state and screens, and fans everything out to browser dashboard tiles.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadMux(configFlag, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			if hostFlag == "" {
				hostFlag = cfg.Host
			}
			if hostFlag == "" {
				hostFlag = "127.0.0.1"
			}
			if !cmd.Flags().Changed("port") && cfg.Port != 0 {
				portFlag = cfg.Port
			}
			if tokenFlag == "" {
				tokenFlag = envOr("COOP_MUX_TOKEN", cfg.AuthToken)
			}
			if upstreamTok == "" {
				upstreamTok = envOr("COOP_AUTH_TOKEN", cfg.UpstreamToken)
			}
			if launchScript == "" {
				launchScript = cfg.LaunchScript
			}
			if logLevel == "" {
				logLevel = cfg.LogLevel
			}
			if logFormat == "" {
				logFormat = cfg.LogFormat
			}
			if logFile == "" {
				logFile = cfg.LogFile
			}

			if err := logger.Init(logLevel, logFormat, logFile); err != nil {
				return fmt.Errorf("logger: %w", err)
			}

			manager := mux.NewManager(mux.ManagerConfig{
				HealthInterval:    time.Duration(cfg.HealthCheckMS) * time.Millisecond,
				MaxHealthFailures: cfg.MaxHealthFailures,
				BatchInterval:     time.Duration(cfg.BatchMS) * time.Millisecond,
				ScreenPollEvery:   time.Duration(cfg.ScreenPollMS) * time.Millisecond,
				UpstreamToken:     upstreamTok,
			})
			srv := mux.NewServer(manager, tokenFlag, launchScript)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
			go func() {
				sig := <-sigCh
				logger.Info("received signal, shutting down", "signal", sig)
				cancel()
			}()

			addr := fmt.Sprintf("%s:%d", hostFlag, portFlag)
			if err := srv.Run(ctx, addr); err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		},
	}

	root.Flags().StringVar(&hostFlag, "host", "", "bind address (default 127.0.0.1)")
	root.Flags().IntVar(&portFlag, "port", 8081, "bind port")
	root.Flags().StringVar(&tokenFlag, "auth-token", "", "bearer token for mux clients (env COOP_MUX_TOKEN)")
	root.Flags().StringVar(&upstreamTok, "upstream-token", "", "bearer token presented to coops (env COOP_AUTH_TOKEN)")
	root.Flags().StringVar(&configFlag, "config", "coopmux.yaml", "config file path")
	root.Flags().StringVar(&launchScript, "launch-script", "", "script invoked by POST /api/v1/sessions/launch")
	root.Flags().StringVar(&logLevel, "log-level", "", "debug, info, warn, error")
	root.Flags().StringVar(&logFormat, "log-format", "", "text or json")
	root.Flags().StringVar(&logFile, "log-file", "", "also append logs to this file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "coopmux:", err)
		os.Exit(1)
	}
}
