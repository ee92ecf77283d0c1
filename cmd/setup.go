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
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/transformer/config"
	"github.com/cardinalhq/transformer/internal/awsclient"
	"github.com/cardinalhq/transformer/internal/azureclient"
	"github.com/cardinalhq/transformer/internal/chunker"
	"github.com/cardinalhq/transformer/internal/cloudstorage"
	"github.com/cardinalhq/transformer/internal/columns"
	"github.com/cardinalhq/transformer/internal/columnsource"
	"github.com/cardinalhq/transformer/internal/fly"
	"github.com/cardinalhq/transformer/internal/gcpclient"
	"github.com/cardinalhq/transformer/internal/healthcheck"
	"github.com/cardinalhq/transformer/internal/helpers"
	"github.com/cardinalhq/transformer/internal/pipelineerr"
	"github.com/cardinalhq/transformer/internal/publish"
	"github.com/cardinalhq/transformer/internal/pubsub"
	"github.com/cardinalhq/transformer/internal/report"
	"github.com/cardinalhq/transformer/internal/transformer"
	"github.com/cardinalhq/transformer/internal/wirebatch"
)

const queueConnected = "queue_connected"

// Destinations accepted by --result-destination.
const (
	destinationKafka       = "kafka"
	destinationObjectStore = "object-store"
	destinationBoth        = "both"
)

// workerFlags override values loaded by config.Load. Only flags the user
// set are applied.
type workerFlags struct {
	brokers           []string
	columns           string
	chunkSize         int64
	batchRows         int64
	eventLimit        int64
	compression       string
	resultDestination string
	resultFormat      string
	bucket            string
	backend           string
	queue             string
}

func addWorkerFlags(cmd *cobra.Command, f *workerFlags) {
	fs := cmd.Flags()
	fs.StringSliceVar(&f.brokers, "brokers", nil, "Kafka bootstrap servers")
	fs.StringVar(&f.columns, "columns", "", "default comma-separated Collection.field list")
	fs.Int64Var(&f.chunkSize, "chunk-size", 0, "entries read per chunk")
	fs.Int64Var(&f.batchRows, "batch-rows", 0, "maximum rows per Arrow batch")
	fs.Int64Var(&f.eventLimit, "event-limit", 0, "read at most this many entries per file (0 for all)")
	fs.StringVar(&f.compression, "compression", "", "Arrow IPC body compression: none, lz4 or zstd")
	fs.StringVar(&f.resultDestination, "result-destination", "", "kafka, object-store or both")
	fs.StringVar(&f.resultFormat, "result-format", "", "object store table format: arrow or parquet")
	fs.StringVar(&f.bucket, "bucket", "", "object store bucket (default: one bucket per request)")
	fs.StringVar(&f.backend, "queue-backend", "", "work queue backend: kafka, sqs, gcp or azure")
	fs.StringVar(&f.queue, "queue", "", "work queue name")
}

// loadConfig reads the configuration and applies the flags that were set.
// The queue flag is returned for the caller to place.
func loadConfig(cmd *cobra.Command, f *workerFlags) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	changed := cmd.Flags().Changed
	if changed("brokers") {
		cfg.Kafka.Brokers = f.brokers
	}
	if changed("columns") {
		cfg.Transform.Columns = f.columns
	}
	if changed("chunk-size") {
		cfg.Transform.ChunkSize = f.chunkSize
	}
	if changed("batch-rows") {
		cfg.Transform.BatchRows = f.batchRows
	}
	if changed("event-limit") {
		cfg.Transform.EventLimit = f.eventLimit
	}
	if changed("compression") {
		cfg.Transform.Compression = f.compression
	}
	if changed("result-format") {
		cfg.ObjectStore.ResultFormat = f.resultFormat
	}
	if changed("bucket") {
		cfg.ObjectStore.Bucket = f.bucket
	}
	if changed("queue-backend") {
		cfg.Queue.Backend = pubsub.BackendType(f.backend)
	}
	if changed("result-destination") {
		switch f.resultDestination {
		case destinationKafka:
			cfg.Transform.PublishToKafka, cfg.ObjectStore.Enabled = true, false
		case destinationObjectStore:
			cfg.Transform.PublishToKafka, cfg.ObjectStore.Enabled = false, true
		case destinationBoth:
			cfg.Transform.PublishToKafka, cfg.ObjectStore.Enabled = true, true
		default:
			return nil, pipelineerr.NewConfiguration("result-destination", fmt.Sprintf("unsupported destination %q", f.resultDestination))
		}
	}
	return cfg, nil
}

// workerRuntime holds the clients shared by the commands.
type workerRuntime struct {
	cfg      *config.Config
	tmpDir   string
	kafka    *fly.Factory
	producer fly.Producer
	clouds   *cloudstorage.CloudManagers
	store    cloudstorage.Client
	reporter *report.Reporter
}

func newWorkerRuntime(ctx context.Context, cfg *config.Config) (*workerRuntime, error) {
	tmpDir, err := helpers.PrepareScratchDir(cfg.Transform.TmpDir, "work")
	if err != nil {
		return nil, err
	}

	rt := &workerRuntime{
		cfg:    cfg,
		tmpDir: tmpDir,
		kafka:  fly.NewFactory(&cfg.Kafka),
		clouds: cloudstorage.NewCloudManagers(),
	}

	if cfg.BusEnabled() {
		if rt.producer, err = rt.kafka.CreateProducer(); err != nil {
			return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
		}
	}
	if cfg.ObjectStore.Enabled {
		if rt.store, err = rt.clouds.NewClient(ctx, cfg.ObjectStore.Profile); err != nil {
			rt.Close()
			return nil, fmt.Errorf("failed to create object store client: %w", err)
		}
	}

	var notifier report.FailureNotifier
	if rt.producer != nil && cfg.Transform.FailureTopic != "" {
		notifier = report.NewBusFailureNotifier(rt.producer, cfg.Transform.FailureTopic)
	}
	rt.reporter = report.NewReporter(&http.Client{Timeout: cfg.Status.Timeout}, notifier)
	return rt, nil
}

func (rt *workerRuntime) Close() {
	if rt.producer != nil {
		if err := rt.producer.Close(); err != nil {
			slog.Error("Error closing Kafka producer", slog.Any("error", err))
		}
	}
	if rt.clouds.GCP != nil {
		if err := rt.clouds.GCP.Close(); err != nil {
			slog.Error("Error closing GCP clients", slog.Any("error", err))
		}
	}
}

func (rt *workerRuntime) source() columnsource.Source {
	src := columnsource.NewParquetSource()
	if rt.cfg.Transform.DefaultCollection != "" {
		src.SingleFileCollection = rt.cfg.Transform.DefaultCollection
	}
	return src
}

func (rt *workerRuntime) fetcher() *transformer.InputFetcher {
	return transformer.NewInputFetcher(rt.clouds, rt.cfg.ObjectStore.Profile, rt.tmpDir)
}

func (rt *workerRuntime) defaultColumns() (*columns.Requested, error) {
	if rt.cfg.Transform.Columns == "" {
		return nil, nil
	}
	return columns.ParseList(rt.cfg.Transform.Columns)
}

func (rt *workerRuntime) newWorker() (*transformer.Worker, error) {
	t := rt.cfg.Transform
	req, err := rt.defaultColumns()
	if err != nil {
		return nil, err
	}
	compression, err := wirebatch.ParseCompression(t.Compression)
	if err != nil {
		return nil, err
	}
	format, err := publish.ParseFormat(rt.cfg.ObjectStore.ResultFormat)
	if err != nil {
		return nil, err
	}

	wcfg := transformer.Config{
		Columns: req,
		Chunk: chunker.Options{
			ChunkSize:   t.ChunkSize,
			EventLimit:  t.EventLimit,
			ReadTimeout: t.ReadTimeout,
		},
		BatchRows:   t.BatchRows,
		Compression: compression,
		Bucket:      rt.cfg.ObjectStore.Bucket,
		Format:      format,
		TmpDir:      rt.tmpDir,
	}
	if rt.producer != nil {
		wcfg.Bus = rt.producer
	}
	if rt.store != nil {
		wcfg.Store = rt.store
	}
	return transformer.NewWorker(wcfg, rt.source(), rt.fetcher(), rt.reporter)
}

// ensureTopics creates bus topics the worker writes to outside of requests.
func (rt *workerRuntime) ensureTopics(ctx context.Context, names ...string) {
	if rt.producer == nil {
		return
	}
	if err := rt.kafka.CreateTopicSyncer().EnsureTopics(ctx, names...); err != nil {
		slog.Warn("Failed to ensure Kafka topics", slog.Any("topics", names), slog.Any("error", err))
	}
}

func (rt *workerRuntime) backend(ctx context.Context, queue, service string) (pubsub.Backend, error) {
	clients := pubsub.Clients{Kafka: rt.kafka}

	var err error
	switch rt.cfg.Queue.Backend {
	case pubsub.BackendTypeSQS:
		if rt.clouds.AWS == nil {
			if rt.clouds.AWS, err = awsclient.NewManager(ctx); err != nil {
				return nil, fmt.Errorf("failed to create AWS manager: %w", err)
			}
		}
		clients.AWS = rt.clouds.AWS
	case pubsub.BackendTypeGCPPubSub:
		if rt.clouds.GCP == nil {
			if rt.clouds.GCP, err = gcpclient.NewManager(ctx); err != nil {
				return nil, fmt.Errorf("failed to create GCP manager: %w", err)
			}
		}
		clients.GCP = rt.clouds.GCP
	case pubsub.BackendTypeAzure:
		if rt.clouds.Azure == nil {
			if rt.clouds.Azure, err = azureclient.NewManager(ctx); err != nil {
				return nil, fmt.Errorf("failed to create Azure manager: %w", err)
			}
		}
		clients.Azure = rt.clouds.Azure
	}
	return pubsub.NewBackend(ctx, rt.cfg.Queue, queue, service, clients)
}

func startHealthServer(ctx context.Context, cfg healthcheck.Config) *healthcheck.Server {
	server := healthcheck.NewServer(cfg)
	server.SetReadyCondition(queueConnected, false)
	if cfg.Enabled {
		go func() {
			if err := server.Start(ctx); err != nil {
				slog.Error("Health check server stopped", slog.Any("error", err))
			}
		}()
	}
	return server
}

// runQueue feeds every delivery of backend to handler until ctx ends.
func runQueue(ctx context.Context, health *healthcheck.Server, backend pubsub.Backend, handler pubsub.Handler) error {
	defer func() {
		if err := backend.Close(); err != nil {
			slog.Error("Error closing work queue", slog.Any("error", err))
		}
	}()

	health.SetReadyCondition(queueConnected, true)
	health.SetStatus(healthcheck.StatusHealthy)
	slog.Info("Consuming work items", slog.String("queue", backend.GetName()))

	err := backend.Run(ctx, handler)
	health.SetReadyCondition(queueConnected, false)
	if ctx.Err() != nil {
		return stopError{reason: shutdownReason(ctx)}
	}
	if err == nil {
		err = errors.New("work queue closed")
	}
	health.SetStatus(healthcheck.StatusUnhealthy)
	return fmt.Errorf("work queue %s: %w", backend.GetName(), err)
}
