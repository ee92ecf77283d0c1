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
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/transformer/config"
	"github.com/cardinalhq/transformer/internal/fly"
)

func init() {
	topicsCmd := &cobra.Command{
		Use:   "kafka-topics",
		Short: "Manage the Kafka topics the transformer uses",
	}

	var (
		file string
		fix  bool
	)
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Compare topics against a kafka-sync file, creating or updating them with --fix",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, factory, done, err := topicsFactory("sync")
			if err != nil {
				return err
			}
			defer done()

			topicsConfig, err := fly.LoadTopicsConfig(file)
			if err != nil {
				return fmt.Errorf("failed to load topics file %s: %w", file, err)
			}
			return factory.CreateTopicSyncer().SyncTopics(ctx, topicsConfig, fix)
		},
	}
	syncCmd.Flags().StringVar(&file, "file", "topics.yaml", "kafka-sync topics file")
	syncCmd.Flags().BoolVar(&fix, "fix", false, "apply changes instead of only reporting them")
	topicsCmd.AddCommand(syncCmd)

	ensureCmd := &cobra.Command{
		Use:   "ensure TOPIC...",
		Short: "Create topics that do not exist, using the configured defaults",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ctx, factory, done, err := topicsFactory("ensure")
			if err != nil {
				return err
			}
			defer done()
			return factory.CreateTopicSyncer().EnsureTopics(ctx, args...)
		},
	}
	topicsCmd.AddCommand(ensureCmd)

	rootCmd.AddCommand(topicsCmd)
}

func topicsFactory(action string) (context.Context, *fly.Factory, func(), error) {
	ctx, doneFx, err := setupTelemetry("transformer-kafka-topics", "kafka-topics-"+action)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to setup telemetry: %w", err)
	}
	done := func() {
		if err := doneFx(); err != nil {
			slog.Error("Error shutting down telemetry", slog.Any("error", err))
		}
	}

	cfg, err := config.Load()
	if err != nil {
		done()
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if len(cfg.Kafka.Brokers) == 0 {
		done()
		return nil, nil, nil, fmt.Errorf("no Kafka brokers configured")
	}
	return ctx, fly.NewFactory(&cfg.Kafka), done, nil
}
