package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/hostlink/internal/config"
	"github.com/danmuck/hostlink/internal/logging"
	"github.com/danmuck/hostlink/internal/protocol/session"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "hostlink.toml"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "hostlink",
		Short:         "Authenticated device link between a host and its remotes",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.ConfigureRuntime()
			raw, _ := cmd.Flags().GetString("log-level")
			if strings.TrimSpace(raw) == "" {
				return nil
			}
			lvl, ok := logging.ParseLevel(raw)
			if !ok {
				return fmt.Errorf("invalid --log-level %q", raw)
			}
			zerolog.SetGlobalLevel(lvl)
			return nil
		},
	}
	cmd.PersistentFlags().String("config", defaultConfigPath, "Link config file (TOML)")
	cmd.PersistentFlags().String("log-level", "", "Log level: trace|debug|info|warn|error (overrides "+logging.EnvLogLevel+")")
	cmd.PersistentFlags().String("psk", "", "Hex pre-shared key (overrides psk_hex)")

	cmd.AddCommand(newHostCmd())
	cmd.AddCommand(newRemoteCmd())
	cmd.AddCommand(newKeygenCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// loadLinkConfig reads --config, falling back to defaults when the default
// path is absent, then applies --psk.
func loadLinkConfig(cmd *cobra.Command) (config.LinkConfig, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg := config.Default()
	if _, err := os.Stat(path); err == nil {
		loaded, err := config.Load(path)
		if err != nil {
			return config.LinkConfig{}, err
		}
		cfg = loaded
	} else if cmd.Flags().Changed("config") || !errors.Is(err, os.ErrNotExist) {
		return config.LinkConfig{}, fmt.Errorf("config %s: %w", path, err)
	}

	if raw, _ := cmd.Flags().GetString("psk"); strings.TrimSpace(raw) != "" {
		key, err := session.ParsePSK(raw)
		if err != nil {
			return config.LinkConfig{}, err
		}
		cfg.PSK = key
	}
	return cfg, nil
}
