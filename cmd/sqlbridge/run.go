package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/tetratelabs/wazero"
	"golang.org/x/sync/errgroup"

	wasihost "github.com/tomyedwab/sqlbridge/wasi/host"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		dir         string
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "run GUEST.wasm [ARGS...]",
		Short: "Run a WASI guest with access to the SQL host",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wasm, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read guest: %w", err)
			}
			if metricsAddr == "" {
				metricsAddr = a.cfg.Metrics.Addr
			}

			runCfg := wasihost.RunConfig{
				Name:   filepath.Base(args[0]),
				Args:   args[1:],
				Stdin:  cmd.InOrStdin(),
				Stdout: cmd.OutOrStdout(),
				Stderr: cmd.ErrOrStderr(),
			}
			if dir != "" {
				runCfg.FS = wazero.NewFSConfig().WithDirMount(dir, "/")
			}
			return runGuest(cmd.Context(), a, wasm, runCfg, metricsAddr)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "host directory mounted at the guest's root")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while the guest runs")
	return cmd
}

// runGuest runs the guest to completion, serving metrics alongside it when
// metricsAddr is set.
func runGuest(ctx context.Context, a *app, wasm []byte, runCfg wasihost.RunConfig, metricsAddr string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if metricsAddr == "" {
		return wasihost.Run(ctx, wasm, a.host, runCfg)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", metricsAddr).Info("serving metrics")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		return wasihost.Run(ctx, wasm, a.host, runCfg)
	})
	return g.Wait()
}
