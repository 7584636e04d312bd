package main

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/hostlink/internal/discovery"
	"github.com/danmuck/hostlink/internal/link"
	"github.com/danmuck/hostlink/internal/protocol/frame"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newRemoteCmd() *cobra.Command {
	var peers []string
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Run the initiating role: find a host and send stdin lines as text input",
		Long: "Each stdin line is sent as text_input. The commands /reset, /tap and\n" +
			"/listen send request_reset, button_tap and toggle_listening_mode.",
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadLinkConfig(cmd)
			if err != nil {
				return err
			}
			if len(peers) > 0 {
				cfg.Peers = peers
			}
			inCfg, err := cfg.InitiatorConfig()
			if err != nil {
				return err
			}
			in, err := link.NewInitiator(inCfg)
			if err != nil {
				return err
			}
			defer in.Shutdown()

			msgs, err := in.Connect(runCtx)
			if err != nil {
				return err
			}
			if _, static := inCfg.Browser.(discovery.StaticBrowser); !static {
				log.Info().Str("service", cfg.ServiceType).Msg("browsing for host")
			}
			go logStates(in.States())
			if cfg.StatusAddr != "" {
				go serveStatus(runCtx, cfg, in.Core)
			}
			go func() {
				sendLines(runCtx, cmd.InOrStdin(), in)
				stop()
			}()
			for msg := range msgs {
				log.Info().Str("payload", msg.Payload.String()).Str("text", printable(msg.Data)).Msg("message received")
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&peers, "peer", nil, "Host address host:port (repeatable, skips mDNS)")
	return cmd
}

// sendLines forwards r line by line until EOF or ctx is done. Lines sent
// while the link is down are dropped by the link.
func sendLines(ctx context.Context, r io.Reader, s sender) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		payload, body := lineMessage(scanner.Text())
		if payload == frame.PayloadUnknown {
			continue
		}
		s.Send(payload, body)
	}
}

func lineMessage(line string) (frame.Payload, []byte) {
	switch strings.TrimSpace(line) {
	case "":
		return frame.PayloadUnknown, nil
	case "/reset":
		return frame.PayloadRequestReset, frame.EmptyData
	case "/tap":
		return frame.PayloadButtonTap, frame.EmptyData
	case "/listen":
		return frame.PayloadToggleListeningMode, frame.EmptyData
	default:
		return frame.PayloadTextInput, []byte(line)
	}
}
