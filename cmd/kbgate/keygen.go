package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

const signingKeyBytes = 32

func newKeygenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "gen-signing-key",
		Short: "Print a random value suitable for OAUTH_SIGNING_KEY",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := generateSigningKey(rand.Reader)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), key)
			return err
		},
	}
}

func generateSigningKey(r io.Reader) (string, error) {
	buf := make([]byte, signingKeyBytes)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
