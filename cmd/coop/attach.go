package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/groblegark/coop/internal/client"
	"github.com/groblegark/coop/internal/wire"
)

// attachCmd connects the local terminal to a running coop: raw mode, live
// bytes through the client-side replay gate, stdin forwarded as raw input.
func attachCmd() *cobra.Command {
	var urlFlag string
	var tokenFlag string

	cmd := &cobra.Command{
		Use:   "attach",
		Short: "Attach this terminal to a running coop session",
		RunE: func(cmd *cobra.Command, args []string) error {
			token := tokenFlag
			if token == "" {
				token = os.Getenv("COOP_AUTH_TOKEN")
			}

			fd := int(os.Stdin.Fd())
			if !term.IsTerminal(fd) {
				return fmt.Errorf("attach requires a terminal")
			}
			oldState, err := term.MakeRaw(fd)
			if err != nil {
				return fmt.Errorf("raw mode: %w", err)
			}
			defer term.Restore(fd, oldState)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			c := &client.Client{
				URL:       urlFlag,
				Token:     token,
				Subscribe: []string{"pty", "state"},
				OnBytes: func(data []byte, isFirst bool) {
					if isFirst {
						// Fresh replay: clear the terminal before repainting.
						os.Stdout.WriteString("\x1b[2J\x1b[H")
					}
					os.Stdout.Write(data)
				},
				OnExit: func(e wire.Exit) {
					term.Restore(fd, oldState)
					fmt.Printf("\nagent exited (code %d)\n", e.Code)
					cancel()
				},
				OnConnState: func(state string, err error) {
					if state == "connected" {
						// Re-auth and sync our window size on every (re)connect.
						go func() {
							c.SendAuth(ctx)
							if cols, rows, err := term.GetSize(fd); err == nil {
								c.SendResize(ctx, cols, rows)
							}
						}()
					}
				},
			}

			// Propagate local window size changes.
			winch := make(chan os.Signal, 1)
			signal.Notify(winch, syscall.SIGWINCH)
			go func() {
				for range winch {
					if cols, rows, err := term.GetSize(fd); err == nil {
						c.SendResize(ctx, cols, rows)
					}
				}
			}()

			// Forward stdin verbatim. Ctrl-Q detaches.
			go func() {
				buf := make([]byte, 1024)
				for {
					n, err := os.Stdin.Read(buf)
					if err != nil {
						cancel()
						return
					}
					if n == 1 && buf[0] == 0x11 { // ctrl-q
						cancel()
						return
					}
					c.SendRaw(ctx, append([]byte(nil), buf[:n]...))
				}
			}()

			err = c.Run(ctx)
			if ctx.Err() != nil {
				return nil // clean detach
			}
			return err
		},
	}

	cmd.Flags().StringVar(&urlFlag, "url", "ws://127.0.0.1:8080/ws", "coop WebSocket URL")
	cmd.Flags().StringVar(&tokenFlag, "token", "", "bearer token (env COOP_AUTH_TOKEN)")
	return cmd
}
