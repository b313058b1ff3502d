package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/TheusHen/gkt/gkt/distribution"
	"github.com/TheusHen/gkt/gkt/identity"
	"github.com/TheusHen/gkt/gkt/transport/quic"
)

func newServeCmd(load loader) *cobra.Command {
	var (
		members     []string
		listen      string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the key distribution aggregator",
		Long: `Run the aggregator. Members that join over QUIC are added to the
group, the group is re-keyed and the new key record is sent to the joining
member wrapped under a key only it can derive.

The aggregator public key is logged at startup; members pass it to
gkt join --aggregator to pin it.

Examples:
  gkt serve --listen 0.0.0.0:7443
  gkt serve -m alice -m bob --metrics-addr :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := load()
			if err != nil {
				return err
			}
			defer e.Close()
			ctx := cmd.Context()

			if listen == "" {
				listen = e.cfg.Distribution.ListenAddr
			}
			if metricsAddr == "" {
				metricsAddr = e.cfg.Metrics.Addr
			}

			agg, err := e.aggregator(ctx)
			if err != nil {
				return err
			}
			for _, m := range members {
				if _, err := agg.AddMember(ctx, identity.MemberID(m)); err != nil {
					return fmt.Errorf("add %s: %w", m, err)
				}
			}

			ln, err := quic.Listen(listen)
			if err != nil {
				return fmt.Errorf("listen: %w", err)
			}
			defer ln.Close()

			if metricsAddr != "" {
				srv := serveMetrics(e, metricsAddr)
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}

			pub := agg.Identity().PublicKey()
			e.log.WithFields(logrus.Fields{
				"addr":       ln.AddrString(),
				"aggregator": hex.EncodeToString(pub[:]),
				"members":    len(agg.Members()),
			}).Info("aggregator listening")

			err = distribution.NewServer(agg.Identity().Keys, agg, e.log).Serve(ctx, ln)
			e.log.Info("aggregator stopped")
			return err
		},
	}

	f := cmd.Flags()
	f.StringSliceVarP(&members, "member", "m", nil, "initial member from the local keystore (repeatable)")
	f.StringVar(&listen, "listen", "", "QUIC listen address (default from config)")
	f.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

func serveMetrics(e *env, addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		e.log.WithField("addr", addr).Info("metrics server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.log.WithError(err).Error("metrics server")
		}
	}()
	return srv
}
