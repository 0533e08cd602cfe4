package main

import (
	"context"
	"net"
	"os/signal"
	"syscall"
	"time"

	"baas/internal/audio"
	"baas/internal/logging"
	"baas/internal/preview"
	tlsutil "baas/internal/tls"

	"github.com/spf13/cobra"
)

func newServeCmd(a *app) *cobra.Command {
	p := &a.cfg.Preview
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a live WHEP preview of the device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.ValidatePreview(); err != nil {
				return err
			}
			log := logging.Component(a.log, "serve")

			pcfg := preview.Config{
				Addr:           p.Addr,
				Token:          p.Token,
				Stats:          p.Stats,
				OfferTimeout:   p.OfferTimeout,
				AllowedOrigins: p.AllowedOrigins,
				AuthFailLimit:  p.AuthFailLimit,
				AuthFailWindow: p.AuthFailWindow,
				TLSCert:        p.TLSCert,
				TLSKey:         p.TLSKey,
			}
			if p.TLSCert == "" && p.TLS {
				host, _, _ := net.SplitHostPort(p.Addr)
				tc, err := tlsutil.SelfSigned([]string{host}, log)
				if err != nil {
					return err
				}
				pcfg.TLS = tc
			}
			if a.cfg.Scrcpy.Audio {
				pcfg.NewAudioEncoder = audio.NewEncoder
				if p.PlayAudio {
					sink, err := audio.NewPulseSink(log)
					if err != nil {
						log.WithError(err).Warn("serve: host playback unavailable")
					} else {
						defer sink.Close()
						pcfg.Sink = sink
					}
				}
			}

			dev, err := a.openDevice()
			if err != nil {
				return err
			}
			defer dev.Close()

			srv := preview.New(pcfg, dev, log)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errc := make(chan error, 1)
			go func() { errc <- srv.ListenAndServe() }()

			select {
			case err := <-errc:
				srv.Teardown()
				return err
			case <-ctx.Done():
				log.Info("serve: shutting down")
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	f := cmd.Flags()
	f.StringVar(&p.Addr, "addr", p.Addr, "listen address")
	f.StringVar(&p.Token, "token", p.Token, "bearer token viewers must present (required)")
	f.BoolVar(&p.Stats, "stats", p.Stats, "log relay stats every 5s")
	f.DurationVar(&p.OfferTimeout, "offer-timeout", p.OfferTimeout, "timeout for WHEP offer processing and ICE gathering")
	f.StringSliceVar(&p.AllowedOrigins, "allow-origin", p.AllowedOrigins, "CORS origins allowed to connect (default: any)")
	f.IntVar(&p.AuthFailLimit, "auth-fail-limit", p.AuthFailLimit, "max failed auth attempts per client IP per window")
	f.DurationVar(&p.AuthFailWindow, "auth-fail-window", p.AuthFailWindow, "window for auth failure rate limiting")
	f.BoolVar(&p.TLS, "tls", p.TLS, "serve TLS with a generated self-signed certificate")
	f.StringVar(&p.TLSCert, "tls-cert", p.TLSCert, "TLS certificate file (PEM)")
	f.StringVar(&p.TLSKey, "tls-key", p.TLSKey, "TLS private key file (PEM)")
	f.BoolVar(&p.PlayAudio, "play-audio", p.PlayAudio, "also play device audio on this host (needs --audio)")
	return cmd
}
