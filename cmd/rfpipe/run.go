package main

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pipelined/rfpipe"
	"github.com/pipelined/rfpipe/internal/config"
	"github.com/pipelined/rfpipe/log"
	"github.com/pipelined/rfpipe/metric"
)

// shutdownTimeout limits the graceful stop of metrics server.
const shutdownTimeout = 5 * time.Second

func newRunCmd(opts *rootOptions) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFile(opts.configPath)
			if err != nil {
				return err
			}
			log.SetDebug(opts.debug || cfg.Run.Debug)
			l := log.GetLogger()
			l.SetOutput(cmd.ErrOrStderr())
			return run(cmd.Context(), cfg, metricsAddr, l)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics and /debug/vars on this address during the run, e.g. :9090")
	return cmd
}

func run(ctx context.Context, cfg *config.Config, metricsAddr string, l *logrus.Logger) error {
	stream, err := newStream(cfg.Stream)
	if err != nil {
		return err
	}
	transforms, err := newTransforms(cfg.Transforms)
	if err != nil {
		return err
	}

	if metricsAddr != "" {
		s, err := startMetrics(metricsAddr)
		if err != nil {
			return err
		}
		l.WithField("addr", s.Addr()).Info("serving metrics")
		defer func() {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := s.Stop(ctx); err != nil {
				l.WithError(err).Warn("stop metrics server")
			}
		}()
	}

	start := time.Now()
	if err := rfpipe.Run(stream, transforms, runOptions(cfg.Run, l, metricsAddr != "")...); err != nil {
		return err
	}
	entry := l.WithField("elapsed", time.Since(start))
	for component, counters := range metric.GetAll() {
		entry = entry.WithField(component, counters)
	}
	entry.Info("pipeline done")
	return nil
}
