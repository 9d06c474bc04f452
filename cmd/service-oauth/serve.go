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
)

const shutdownTimeout = 15 * time.Second

type serveOptions struct {
	addr    string
	tlsCert string
	tlsKey  string
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the OAuth authorization and callback endpoints",
		Long: `Serve the HTTP endpoints that start authorization flows, receive
provider callbacks and report token status:

  GET  /oauth/authorize/{service}
  GET  /oauth/callback/{service}
  POST /oauth/revoke/{service}
  GET  /api/status
  GET  /api/auth-urls

The server stops gracefully on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, root, opts)
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", "", "listen address (overrides OAUTH_LISTEN_ADDR)")
	cmd.Flags().StringVar(&opts.tlsCert, "tls-cert", "", "TLS certificate file")
	cmd.Flags().StringVar(&opts.tlsKey, "tls-key", "", "TLS key file")
	cmd.MarkFlagsRequiredTogether("tls-cert", "tls-key")
	return cmd
}

func runServe(cmd *cobra.Command, root *rootOptions, opts *serveOptions) error {
	svc, cfg, err := root.openService(cmd)
	if err != nil {
		return err
	}
	defer svc.Close()
	logger := cfg.Logger

	addr := cfg.ListenAddr
	if opts.addr != "" {
		addr = opts.addr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           svc.Handler.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", "addr", addr, "tls", opts.tlsCert != "")
		if opts.tlsCert != "" {
			errCh <- srv.ListenAndServeTLS(opts.tlsCert, opts.tlsKey)
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}
