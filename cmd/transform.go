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
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/transformer/internal/debugging"
)

func init() {
	var flags workerFlags

	cmd := &cobra.Command{
		Use:   "transform",
		Short: "Transform files named by work items from the transform queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			servicename := "transformer-transform"
			ctx, doneFx, err := setupTelemetry(servicename, "transform")
			if err != nil {
				return fmt.Errorf("failed to setup telemetry: %w", err)
			}
			defer func() {
				if err := doneFx(); err != nil {
					slog.Error("Error shutting down telemetry", slog.Any("error", err))
				}
			}()

			cfg, err := loadConfig(cmd, &flags)
			if err != nil {
				return err
			}
			if flags.queue != "" {
				cfg.Queue.TransformName = flags.queue
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			debugging.RunPprof(ctx, cfg.Debug.PprofPort)
			health := startHealthServer(ctx, cfg.Health)

			rt, err := newWorkerRuntime(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.Close()
			go diskUsageLoop(ctx, rt.tmpDir)

			worker, err := rt.newWorker()
			if err != nil {
				return err
			}
			rt.ensureTopics(ctx, cfg.Transform.FailureTopic)

			backend, err := rt.backend(ctx, cfg.Queue.TransformName, "transform")
			if err != nil {
				return fmt.Errorf("failed to create work queue: %w", err)
			}
			return runQueue(ctx, health, backend, worker.Handle)
		},
	}
	addWorkerFlags(cmd, &flags)

	rootCmd.AddCommand(cmd)
}
