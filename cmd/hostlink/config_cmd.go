package main

import (
	"encoding/hex"
	"fmt"

	"github.com/danmuck/hostlink/internal/config"
	"github.com/danmuck/hostlink/internal/protocol/session"
	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write or validate link config files",
	}
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigValidateCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init <host|remote>",
		Short: "Write a starter config with a fresh pre-shared key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			pskHex, _ := cmd.Flags().GetString("psk")
			if pskHex != "" {
				if _, err := session.ParsePSK(pskHex); err != nil {
					return err
				}
			} else {
				key, err := generateKey(defaultKeyBytes)
				if err != nil {
					return err
				}
				pskHex = hex.EncodeToString(key)
			}
			if err := config.WriteTemplate(path, args[0], pskHex, force); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s config to %s\n", args[0], path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			sec, err := cfg.Security()
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "valid: %s (fingerprint %s)\n", path, sec.Fingerprint())
			return nil
		},
	}
}
