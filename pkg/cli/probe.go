package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/nimburion/txcoord/pkg/config"
	"github.com/nimburion/txcoord/pkg/connection"
	"github.com/nimburion/txcoord/pkg/observability/logger"
	"github.com/nimburion/txcoord/pkg/observability/metrics"
	"github.com/nimburion/txcoord/pkg/observability/tracing"
	"github.com/nimburion/txcoord/pkg/session"
	"github.com/nimburion/txcoord/pkg/transaction"
	"github.com/nimburion/txcoord/pkg/txerr"
)

const defaultProbeQuery = "SELECT 1"

// ProbeResult reports one probe run.
type ProbeResult struct {
	Backend  string
	Value    string
	Duration time.Duration
}

// Probe opens a session over provider, runs query inside a transaction and commits it.
func Probe(ctx context.Context, cfg *config.Config, provider connection.Provider, platform transaction.Platform, log logger.Logger, query string) (result ProbeResult, err error) {
	opts, err := session.OptionsFromConfig(cfg, provider, platform, log)
	if err != nil {
		return ProbeResult{}, err
	}
	s, err := session.New(ctx, opts)
	if err != nil {
		return ProbeResult{}, err
	}
	defer func() {
		err = errors.Join(err, s.Close(ctx))
	}()

	result.Backend = s.Coordinator().Backend()
	start := time.Now()
	err = s.WithTransaction(ctx, func(ctx context.Context) error {
		if cfg.Database.QueryTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.Database.QueryTimeout)
			defer cancel()
		}
		value, err := session.Perform(ctx, s, func(ctx context.Context, conn connection.Connection) (string, error) {
			executor, ok := conn.(connection.Executor)
			if !ok {
				return "", txerr.Newf(txerr.ErrIllegalState, "connection %T cannot run SQL", conn)
			}
			var value string
			err := executor.QueryRowContext(ctx, query).Scan(&value)
			return value, err
		})
		result.Value = value
		return err
	})
	result.Duration = time.Since(start)
	return result, err
}

func newProbeCommand(
	loadConfig func(*pflag.FlagSet) (*config.Config, logger.Logger, error),
	open ProviderFactory,
	platform func() transaction.Platform,
) *cobra.Command {
	var query string
	var showMetrics bool

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Run one unit of work (begin, query, commit) through a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, log, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}

			tp, err := tracing.NewTracerProvider(ctx, tracing.TracerConfig{
				Enabled:     cfg.Observability.TracingEnabled,
				ServiceName: cfg.Observability.ServiceName,
				Endpoint:    cfg.Observability.TracingEndpoint,
				SampleRate:  cfg.Observability.TracingSampleRate,
			})
			if err != nil {
				return err
			}
			defer func() {
				if err := tp.Shutdown(context.WithoutCancel(ctx)); err != nil {
					log.Warn("tracer shutdown failed", "error", err)
				}
			}()
			registry := metrics.NewRegistry()

			provider, err := open(cfg.Database, log)
			if err != nil {
				return err
			}
			defer func() {
				if err := provider.Close(); err != nil {
					log.Warn("closing database failed", "error", err)
				}
			}()

			result, err := Probe(ctx, cfg, provider, platform(), log, query)
			if err != nil {
				return fmt.Errorf("probe failed: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "probe succeeded: backend=%s result=%s duration=%s\n",
				result.Backend, result.Value, result.Duration.Round(time.Microsecond))
			if showMetrics {
				return writeMetrics(out, registry)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&query, "query", defaultProbeQuery, "statement returning a single value")
	cmd.Flags().BoolVar(&showMetrics, "metrics", false, "print transaction and connection metrics after the probe")
	return cmd
}

func writeMetrics(out io.Writer, registry *metrics.Registry) error {
	families, err := registry.Gatherer().Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	var lines []string
	for _, family := range families {
		if !strings.HasPrefix(family.GetName(), "txcoord_") {
			continue
		}
		for _, metric := range family.GetMetric() {
			labels := make([]string, 0, len(metric.GetLabel()))
			for _, label := range metric.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", label.GetName(), label.GetValue()))
			}
			value := metric.GetCounter().GetValue() + metric.GetGauge().GetValue()
			lines = append(lines, fmt.Sprintf("%s{%s} %g", family.GetName(), strings.Join(labels, ","), value))
		}
	}
	sort.Strings(lines)
	for _, line := range lines {
		if _, err := fmt.Fprintln(out, line); err != nil {
			return err
		}
	}
	return nil
}
