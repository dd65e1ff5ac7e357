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
	"github.com/groblegark/coop/internal/hooks"
	"github.com/groblegark/coop/internal/logger"
	"github.com/groblegark/coop/internal/server"
	"github.com/groblegark/coop/internal/session"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	var (
		hostFlag   string
		portFlag   int
		tokenFlag  string
		agentFlag  string
		cwdFlag    string
		colsFlag   int
		rowsFlag   int
		configFlag string
		logLevel   string
		logFormat  string
		logFile    string
	)

	root := &cobra.Command{
		Use:   "coop [flags] -- [agent argv...]",
		Short: "coop — cooperative terminal supervisor for AI coding agents",
		Long: "Runs an interactive coding agent under a PTY and exposes the live session\n" +
			"over HTTP and WebSocket: replayable output, screen snapshots, agent state,\n" +
			"hook gating, and credential switching without dropping clients.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadCoop(configFlag, cmd.Flags().Changed("config"))
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
				tokenFlag = envOr("COOP_AUTH_TOKEN", cfg.AuthToken)
			}
			if agentFlag == "" {
				agentFlag = cfg.Agent
			}
			if agentFlag == "" {
				agentFlag = "claude"
			}
			if cwdFlag == "" {
				cwdFlag = cfg.CWD
			}
			if !cmd.Flags().Changed("cols") && cfg.Cols != 0 {
				colsFlag = cfg.Cols
			}
			if !cmd.Flags().Changed("rows") && cfg.Rows != 0 {
				rowsFlag = cfg.Rows
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

			sess, err := session.New(session.Config{
				AgentKind:     agentFlag,
				ExtraArgv:     args,
				Env:           cfg.Env,
				CWD:           cwdFlag,
				Cols:          colsFlag,
				Rows:          rowsFlag,
				RingCapacity:  cfg.RingCapacity,
				IdleGrace:     cfg.IdleGrace(),
				SwitchTimeout: time.Duration(cfg.SwitchTimeout) * time.Second,
			})
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
			go func() {
				sig := <-sigCh
				logger.Info("received signal, shutting down", "signal", sig)
				cancel()
			}()

			if err := sess.Start(ctx); err != nil {
				return fmt.Errorf("spawn agent: %w", err)
			}

			gate := hooks.NewGate(func() (string, string) {
				state, _, _ := sess.State()
				cat, _ := sess.ErrorInfo()
				return state, cat
			})
			if cfg.StopHook != nil {
				if err := gate.SetStopConfig(*cfg.StopHook); err != nil {
					return fmt.Errorf("stop_hook config: %w", err)
				}
			}
			if cfg.StartHook != nil {
				gate.SetStartConfig(*cfg.StartHook)
			}

			srv := server.New(sess, gate, tokenFlag)
			addr := fmt.Sprintf("%s:%d", hostFlag, portFlag)
			if err := srv.Run(ctx, addr); err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shCancel()
			sess.Shutdown(shCtx)
			return nil
		},
	}

	root.Flags().StringVar(&hostFlag, "host", "", "bind address (default 127.0.0.1)")
	root.Flags().IntVar(&portFlag, "port", 8080, "bind port")
	root.Flags().StringVar(&tokenFlag, "auth-token", "", "bearer token (env COOP_AUTH_TOKEN)")
	root.Flags().StringVar(&agentFlag, "agent", "", "agent kind: claude, codex, gemini")
	root.Flags().StringVar(&cwdFlag, "cwd", "", "working directory for the agent")
	root.Flags().IntVar(&colsFlag, "cols", 120, "initial terminal columns")
	root.Flags().IntVar(&rowsFlag, "rows", 32, "initial terminal rows")
	root.Flags().StringVar(&configFlag, "config", "coop.yaml", "config file path")
	root.Flags().StringVar(&logLevel, "log-level", "", "debug, info, warn, error")
	root.Flags().StringVar(&logFormat, "log-format", "", "text or json")
	root.Flags().StringVar(&logFile, "log-file", "", "also append logs to this file")

	root.AddCommand(attachCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "coop:", err)
		os.Exit(1)
	}
}
