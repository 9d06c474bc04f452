package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	oauth "github.com/giantswarm/service-oauth"
	"github.com/giantswarm/service-oauth/server"
)

// Exit codes for CLI commands
const (
	ExitCodeSuccess = 0
	ExitCodeError   = 1

	// ExitCodeNotAuthenticated means the service has no usable token
	ExitCodeNotAuthenticated = 2

	// ExitCodeUnknownService means the service is not configured
	ExitCodeUnknownService = 3
)

// rootOptions carries flags and hooks shared by all subcommands
type rootOptions struct {
	envFile string
	debug   bool

	// loadConfig reads the service configuration; tests replace it
	loadConfig func() (*oauth.Config, error)
}

func newRootCmd(version string) *cobra.Command {
	opts := &rootOptions{loadConfig: oauth.LoadConfig}
	return newRootCmdWithOptions(version, opts)
}

func newRootCmdWithOptions(version string, opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service-oauth",
		Short: "Manage OAuth tokens for third-party services",
		Long: `service-oauth runs the OAuth authorization endpoints for the configured
third-party services and manages the resulting tokens.

Providers are enabled by setting their credentials in the environment
(for example SLACK_CLIENT_ID and SLACK_CLIENT_SECRET). A .env file in the
working directory is loaded first when present.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate(`{{printf "service-oauth version %s\n" .Version}}`)

	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	cmd.AddCommand(
		newServeCmd(opts),
		newStatusCmd(opts),
		newAuthURLCmd(opts),
		newTokenCmd(opts),
		newRevokeCmd(opts),
		newKeygenCmd(),
	)
	return cmd
}

// Execute runs the root command and exits with a code derived from the error
func Execute(version string) {
	cmd := newRootCmd(version)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitCodeSuccess
	case errors.Is(err, server.ErrNotAuthenticated):
		return ExitCodeNotAuthenticated
	case errors.Is(err, server.ErrUnknownService):
		return ExitCodeUnknownService
	default:
		return ExitCodeError
	}
}

// newLogger writes text logs to w, at debug level when requested
func (o *rootOptions) newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if o.debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// openService loads the environment and wires a Service. The caller owns
// the returned Service and must Close it.
func (o *rootOptions) openService(cmd *cobra.Command) (*oauth.Service, *oauth.Config, error) {
	if o.envFile != "" {
		// Existing environment variables take precedence over the file
		if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("failed to load %s: %w", o.envFile, err)
		}
	}

	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = o.newLogger(cmd.ErrOrStderr())
	}

	svc, err := oauth.New(cfg)
	if err != nil {
		return nil, nil, err
	}
	return svc, cfg, nil
}
