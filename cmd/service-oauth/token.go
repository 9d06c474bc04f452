package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/giantswarm/service-oauth/server"
)

func newAuthURLCmd(root *rootOptions) *cobra.Command {
	var next string
	cmd := &cobra.Command{
		Use:   "auth-url <service>",
		Short: "Print an authorization URL for a service",
		Long: `Print an authorization URL for a service. Open it in a browser to grant
access; the provider redirects back to the running server's callback.

The callback only completes the flow when the serving process shares the
flow store, which requires the valkey backend.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := root.openService(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			var opts []server.AuthorizeOption
			if next != "" {
				opts = append(opts, server.WithContinuation(next))
			}
			authURL, _, err := svc.Server.GetAuthorizationURL(cmd.Context(), args[0], opts...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), authURL)
			return nil
		},
	}
	cmd.Flags().StringVar(&next, "next", "", "URL to continue to after the callback")
	return cmd
}

func newTokenCmd(root *rootOptions) *cobra.Command {
	var header bool
	cmd := &cobra.Command{
		Use:   "token <service>",
		Short: "Print a valid access token, refreshing it when needed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := root.openService(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			rec, err := svc.Server.GetValidToken(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if header {
				fmt.Fprintln(cmd.OutOrStdout(), server.AuthorizationHeader(rec))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), rec.AccessToken)
			return nil
		},
	}
	cmd.Flags().BoolVar(&header, "header", false, "print an Authorization header value instead of the bare token")
	return cmd
}

func newRevokeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <service>",
		Short: "Revoke a service's tokens and sign it out",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := root.openService(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			if err := svc.Server.Revoke(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Revoked %s\n", args[0])
			return nil
		},
	}
}
