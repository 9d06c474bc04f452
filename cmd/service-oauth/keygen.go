package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/giantswarm/service-oauth/security"
)

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a random OAUTH_ENCRYPTION_KEY",
		Long: `Generate a random 32-byte AES-256 key, base64 encoded, for use as
OAUTH_ENCRYPTION_KEY. Tokens written with one key cannot be read with another.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := security.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), security.KeyToBase64(key))
			return nil
		},
	}
}
