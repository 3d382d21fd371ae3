/*
 * Copyright 2025 Olake By Datazip
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package protocol

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/datazip-inc/olake-mssql-cdc/drivers/abstract"
	"github.com/datazip-inc/olake-mssql-cdc/types"
	"github.com/datazip-inc/olake-mssql-cdc/utils/logger"
)

// checkReport is the decision part of the check message.
type checkReport struct {
	Modes          string   `json:"modes,omitempty"`
	Warnings       []string `json:"warnings,omitempty"`
	CapturedTables []string `json:"captured_tables,omitempty"`
	// tables without a capture instance
	UncapturedTables []string `json:"uncaptured_tables,omitempty"`
}

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "check command",
	RunE: func(cmd *cobra.Command, _ []string) error {
		defer connector.Close()

		report := &checkReport{}
		message := types.Message{
			Type: types.ConnectionStatusMessage,
			ConnectionStatus: &types.StatusRow{
				Status: types.ConnectionSucceed,
			},
			Decision: report,
		}
		if err := checkConnection(cmd.Context(), report); err != nil {
			message.ConnectionStatus.Status = types.ConnectionFailed
			message.ConnectionStatus.Message = err.Error()
			logger.Errorf("connection check failed: %s", err)
		}
		return writeOutput(os.Stdout, outputFormat, message)
	},
}

func checkConnection(ctx context.Context, report *checkReport) error {
	if err := setupConnector(ctx); err != nil {
		return err
	}

	decision, err := abstract.ResolveMode(connector.Options(), connector.IsReadOnly())
	if err != nil {
		return err
	}
	report.Modes = decision.String()
	report.Warnings = decision.Warnings()

	captured, err := connector.CapturedTables(ctx)
	if err != nil {
		return err
	}
	report.CapturedTables = captured

	tables, err := connector.Tables(ctx)
	if err != nil {
		return err
	}
	capturedSet := types.NewSet(captured...)
	for _, table := range tables {
		if !capturedSet.Exists(table) {
			report.UncapturedTables = append(report.UncapturedTables, table)
		}
	}
	return nil
}
