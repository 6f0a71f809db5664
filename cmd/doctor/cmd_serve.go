package main

import (
	"context"
	"fmt"
	"io"

	"github.com/paulyops/sysdoctor/internal/api"
	"github.com/paulyops/sysdoctor/internal/config"
	"github.com/paulyops/sysdoctor/internal/doctor"
	"github.com/paulyops/sysdoctor/internal/fsys"
	"github.com/paulyops/sysdoctor/internal/telemetry"
	"github.com/spf13/cobra"
)

func newServeCmd(stderr io.Writer) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the doctor HTTP API",
		Long: `Serve the doctor over HTTP until interrupted.

  POST /doctor/run     {"mode": "scan"|"repair"|"surgical"} runs the doctor
  GET  /doctor/status  returns the last status snapshot
  GET  /metrics        Prometheus gauges of the last run

Surgical runs are refused unless allowSurgical is set in the config.
Concurrent runs are rejected with 409.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if doServe(cmd.Context(), addr, stderr) != 0 {
				return errExit
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8787", "listen address")
	return cmd
}

func doServe(ctx context.Context, addr string, stderr io.Writer) int {
	logger := newLogger(stderr)
	dir := workDir()
	cfg, err := config.Load(fsys.OSFS{}, dir)
	if err != nil {
		fmt.Fprintf(stderr, "doctor serve: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	statusPath, err := doctor.StatusPath(doctor.Options{Dir: dir})
	if err != nil {
		fmt.Fprintf(stderr, "doctor serve: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}

	tp, err := telemetry.Init(ctx, "doctor", version)
	if err != nil {
		logger.Warn("telemetry disabled", "error", err)
	} else {
		defer tp.Shutdown(context.Background()) //nolint:errcheck // best-effort flush
	}

	runner := api.RunnerFunc(func(ctx context.Context, mode config.Mode) (*doctor.Report, error) {
		// A client hanging up must not abort a repair halfway.
		return doctor.Run(context.WithoutCancel(ctx), doctor.Options{Mode: mode, Dir: dir, Logger: logger})
	})
	srv := api.NewServer(api.Config{
		Runner:        runner,
		StatusPath:    statusPath,
		AllowSurgical: cfg.AllowSurgical,
		Logger:        logger,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := srv.Watch(ctx); err != nil {
			logger.Warn("status watcher stopped", "error", err)
		}
	}()

	if err := srv.Serve(ctx, addr); err != nil {
		fmt.Fprintf(stderr, "doctor serve: %v\n", err) //nolint:errcheck // best-effort stderr
		return 1
	}
	return 0
}
