package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/danmuck/hostlink/internal/protocol/session"
	"github.com/spf13/cobra"
)

const defaultKeyBytes = 32

func newKeygenCmd() *cobra.Command {
	var size int
	var label string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a pre-shared key and print its fingerprint",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := generateKey(size)
			if err != nil {
				return err
			}
			desc := session.NewSecurityDescriptor(key, label)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "psk_hex = %q\n# fingerprint %s label %s\n", hex.EncodeToString(key), desc.Fingerprint(), desc.Label)
			return nil
		},
	}
	cmd.Flags().IntVar(&size, "bytes", defaultKeyBytes, "Key length in bytes")
	cmd.Flags().StringVar(&label, "label", session.DefaultPSKLabel, "PSK identity label")
	return cmd
}

func generateKey(size int) ([]byte, error) {
	if size < session.MinPSKBytes {
		return nil, fmt.Errorf("%w: %d bytes", session.ErrPSKTooShort, size)
	}
	key := make([]byte, size)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return key, nil
}
