package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/hostlink/internal/auth"
	"github.com/danmuck/hostlink/internal/config"
	"github.com/danmuck/hostlink/internal/discovery"
	"github.com/danmuck/hostlink/internal/link"
	"github.com/danmuck/hostlink/internal/protocol/frame"
	"github.com/danmuck/hostlink/internal/status"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newHostCmd() *cobra.Command {
	var listenAddr string
	var noAdvertise bool
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Run the accepting role: advertise, listen, and answer remotes",
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadLinkConfig(cmd)
			if err != nil {
				return err
			}
			if listenAddr != "" {
				cfg.ListenAddr = listenAddr
			}
			accCfg, err := cfg.AcceptorConfig()
			if err != nil {
				return err
			}
			if noAdvertise {
				accCfg.Advertiser = discovery.NopAdvertiser{}
			}
			acc, err := link.NewAcceptor(accCfg)
			if err != nil {
				return err
			}
			defer acc.Shutdown()

			msgs, err := acc.Listen(runCtx)
			if err != nil {
				return err
			}
			log.Info().
				Str("addr", acc.Addr().String()).
				Str("fingerprint", accCfg.Security.Fingerprint()).
				Msg("host ready")

			go logStates(acc.States())
			if cfg.StatusAddr != "" {
				go serveStatus(runCtx, cfg, acc.Core)
			}
			for msg := range msgs {
				handleHostMessage(acc, msg)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address (overrides listen_addr)")
	cmd.Flags().BoolVar(&noAdvertise, "no-advertise", false, "Skip mDNS advertisement")
	return cmd
}

// sender is the outbound half of a link role.
type sender interface {
	Send(payload frame.Payload, body []byte)
}

// handleHostMessage logs inbound traffic and completes reset requests.
func handleHostMessage(s sender, msg frame.Message) {
	evt := log.Info()
	switch msg.Payload {
	case frame.PayloadHeartbeat, frame.PayloadHello:
		evt = log.Debug()
	case frame.PayloadUnknown:
		evt = log.Warn()
	}
	evt.Str("payload", msg.Payload.String()).Int("bytes", len(msg.Data)).Str("text", printable(msg.Data)).Msg("message received")

	if msg.Payload == frame.PayloadRequestReset {
		s.Send(frame.PayloadResponseDone, frame.EmptyData)
	}
}

func logStates(states <-chan link.State) {
	for st := range states {
		log.Debug().Str("state", st.String()).Msg("state observed")
	}
}

func serveStatus(ctx context.Context, cfg config.LinkConfig, l status.Link) {
	id := cfg.Instance
	if id == "" {
		id = "hostlink"
	}
	srv := status.New(id, cfg.StatusAddr, l, cfg.CorsOrigins)
	if cfg.StatusToken != "" {
		srv.ProtectControl(auth.StaticToken{Token: cfg.StatusToken})
	}
	if err := srv.Serve(ctx); err != nil {
		log.Error().Err(err).Str("addr", cfg.StatusAddr).Msg("status server stopped")
	}
}

// printable returns data as text when it is short printable UTF-8.
func printable(data []byte) string {
	if len(data) == 0 || len(data) > 256 {
		return ""
	}
	for _, b := range data {
		if b < 0x20 && b != '\t' {
			return ""
		}
	}
	return string(data)
}
