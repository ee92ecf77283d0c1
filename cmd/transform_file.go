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
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/transformer/internal/idgen"
	"github.com/cardinalhq/transformer/internal/report"
	"github.com/cardinalhq/transformer/internal/workitem"
)

func init() {
	var (
		flags           workerFlags
		requestID       string
		serviceEndpoint string
	)

	cmd := &cobra.Command{
		Use:   "transform-file PATH",
		Short: "Transform a single file and publish it to the configured sinks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			servicename := "transformer-file"
			ctx, doneFx, err := setupTelemetry(servicename, "transform-file")
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
			if err := cfg.Validate(); err != nil {
				return err
			}

			rt, err := newWorkerRuntime(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			worker, err := rt.newWorker()
			if err != nil {
				return err
			}

			if requestID == "" {
				requestID = idgen.RequestID("local")
			}
			rt.ensureTopics(ctx, requestID)

			item := &workitem.Item{
				RequestID:       requestID,
				FilePath:        args[0],
				ServiceEndpoint: serviceEndpoint,
			}
			status := worker.Process(ctx, item)
			fmt.Fprintf(os.Stdout, "%s %s %s\n", strings.ToUpper(string(status)), requestID, item.FilePath)
			if status != report.StatusSuccess {
				return exitCodeError{code: 1, msg: "transformation failed"}
			}
			return nil
		},
	}
	addWorkerFlags(cmd, &flags)
	cmd.Flags().StringVar(&requestID, "request-id", "", "request id, also the Kafka topic (default: generated)")
	cmd.Flags().StringVar(&serviceEndpoint, "service-endpoint", "", "coordinator URL to report progress to")

	rootCmd.AddCommand(cmd)
}
