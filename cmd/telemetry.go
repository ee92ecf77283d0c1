// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/cardinalhq/oteltools/pkg/telemetry"
	slogmulti "github.com/samber/slog-multi"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/instrumentation/host"
	iruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/transformer/internal/helpers"
	"github.com/cardinalhq/transformer/internal/idgen"
)

var (
	// commonAttributes tag the process-level gauges.
	commonAttributes attribute.Set

	meter = otel.Meter("github.com/cardinalhq/transformer")

	scratchFreeBytes metric.Int64Gauge
	upGauge          metric.Int64Gauge
)

func init() {
	var err error
	if scratchFreeBytes, err = meter.Int64Gauge("transformer.scratch.free",
		metric.WithUnit("By"),
		metric.WithDescription("Bytes available on the filesystem holding downloads and scratch tables"),
	); err != nil {
		panic(fmt.Errorf("failed to create scratch.free gauge: %w", err))
	}
	if upGauge, err = meter.Int64Gauge("transformer.exists",
		metric.WithDescription("Always 1 while a worker process is running"),
	); err != nil {
		panic(fmt.Errorf("failed to create exists gauge: %w", err))
	}
}

func otlpEnabled() bool {
	return os.Getenv("OTEL_SERVICE_NAME") != "" && helpers.GetBoolEnv("ENABLE_OTLP_TELEMETRY", false)
}

// newLogger writes text to w, and also to the otel log bridge when otlp is
// set.
func newLogger(w io.Writer, servicename string, instanceID int64, otlp bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if helpers.AnyEnvSet("DEBUG", "TRANSFORMER_DEBUG") {
		opts.Level = slog.LevelDebug
	}
	var h slog.Handler = slog.NewTextHandler(w, opts)
	if otlp {
		h = slogmulti.Fanout(h, otelslog.NewHandler(servicename))
	}
	return slog.New(h).With(
		slog.String("service", servicename),
		slog.Int64("instanceID", instanceID),
	)
}

// startOTLP brings up the exporters and the runtime and host collectors.
func startOTLP(ctx context.Context) (func(context.Context) error, error) {
	shutdown, err := telemetry.SetupOTelSDK(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to setup OpenTelemetry SDK: %w", err)
	}
	if err := iruntime.Start(iruntime.WithMinimumReadMemStatsInterval(10 * time.Second)); err != nil {
		slog.Warn("failed to start runtime metrics", slog.Any("error", err))
	}
	if err := host.Start(); err != nil {
		slog.Warn("failed to start host metrics", slog.Any("error", err))
	}
	return shutdown, nil
}

// setupTelemetry installs the default logger and, when enabled, the OTLP
// pipeline. The returned context ends on SIGINT or SIGTERM. The returned
// func flushes telemetry and releases the signal handler.
func setupTelemetry(servicename, action string) (context.Context, func() error, error) {
	instanceID := idgen.InstanceID()
	ctx, stop := handleSignals(context.Background())

	commonAttributes = attribute.NewSet(
		attribute.Int64("instanceID", instanceID),
		attribute.String("action", action),
	)

	otlp := otlpEnabled()
	slog.SetDefault(newLogger(os.Stdout, servicename, instanceID, otlp))
	upGauge.Record(ctx, 1, metric.WithAttributeSet(commonAttributes))

	if !otlp {
		return ctx, func() error { stop(); return nil }, nil
	}

	slog.Info("OpenTelemetry exporting enabled")
	shutdown, err := startOTLP(ctx)
	if err != nil {
		stop()
		return ctx, nil, err
	}
	return ctx, func() error {
		defer stop()
		slog.Info("Shutting down OpenTelemetry SDK")
		flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return shutdown(flushCtx)
	}, nil
}
