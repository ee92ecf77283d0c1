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
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/transformer/internal/columns"
	"github.com/cardinalhq/transformer/internal/debugging"
	"github.com/cardinalhq/transformer/internal/validation"
)

func init() {
	var (
		flags          workerFlags
		path           string
		avgBytes       int64
		measureColumns bool
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate requests from the validation queue, or one file with --path",
		RunE: func(cmd *cobra.Command, _ []string) error {
			servicename := "transformer-validate"
			ctx, doneFx, err := setupTelemetry(servicename, "validate")
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
				cfg.Queue.ValidationName = flags.queue
			}
			if cmd.Flags().Changed("avg-bytes") {
				cfg.Transform.AvgBytesPerColumn = avgBytes
			}

			rt, err := newWorkerRuntime(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			req, err := rt.defaultColumns()
			if err != nil {
				return err
			}
			vcfg := validation.Config{
				Columns:           req,
				AvgBytesPerColumn: cfg.Transform.AvgBytesPerColumn,
				MeasureColumns:    measureColumns,
			}
			if rt.producer != nil {
				vcfg.Topics = rt.kafka.CreateTopicSyncer()
			}
			validator := validation.NewValidator(vcfg, rt.source(), rt.fetcher(), rt.reporter)

			if path != "" {
				return validateOne(ctx, validator, path, req)
			}

			debugging.RunPprof(ctx, cfg.Debug.PprofPort)
			health := startHealthServer(ctx, cfg.Health)
			backend, err := rt.backend(ctx, cfg.Queue.ValidationName, "validate")
			if err != nil {
				return fmt.Errorf("failed to create work queue: %w", err)
			}
			return runQueue(ctx, health, backend, validator.Handle)
		},
	}
	addWorkerFlags(cmd, &flags)
	cmd.Flags().StringVar(&path, "path", "", "validate this one file against --columns and exit")
	cmd.Flags().Int64Var(&avgBytes, "avg-bytes", 0, "average bytes per column per event")
	cmd.Flags().BoolVar(&measureColumns, "measure-columns", false, "estimate bytes per column from the file's column sizes")

	rootCmd.AddCommand(cmd)
}

func validateOne(ctx context.Context, v *validation.Validator, path string, req *columns.Requested) error {
	if req == nil {
		return fmt.Errorf("--columns is required with --path")
	}
	res, err := v.Validate(ctx, path, req)
	if err != nil {
		return err
	}

	out := map[string]any{"valid": res.Valid}
	if res.Valid {
		out["info"] = res.Info()
	} else {
		out["info"] = res.Reason
	}
	enc := json.NewEncoder(os.Stdout)
	if err := enc.Encode(out); err != nil {
		return err
	}
	if !res.Valid {
		return exitCodeError{code: 1, msg: res.Reason}
	}
	return nil
}
