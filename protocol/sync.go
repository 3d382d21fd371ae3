package protocol

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/datazip-inc/olake-mssql-cdc/constants"
	"github.com/datazip-inc/olake-mssql-cdc/drivers/abstract"
	"github.com/datazip-inc/olake-mssql-cdc/offsets"
	"github.com/datazip-inc/olake-mssql-cdc/telemetry"
	"github.com/datazip-inc/olake-mssql-cdc/types"
	"github.com/datazip-inc/olake-mssql-cdc/utils"
	"github.com/datazip-inc/olake-mssql-cdc/utils/logger"
	"github.com/datazip-inc/olake-mssql-cdc/utils/safego"
)

var incrementalTables []string

// syncCmd takes the baseline snapshot and streams changes until interrupted
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync command",
	Long:  `Sync takes the baseline snapshot the snapshot mode asks for and then streams committed changes as JSON lines on stdout until interrupted`,
	Example: `
// Base command:
olake-mssql-cdc sync --config path/to/config

// Snapshot two tables incrementally while streaming, serving metrics:
olake-mssql-cdc sync --config path/to/config --incremental dbo.orders,dbo.customers --metrics-addr :9090
`,
	PreRunE: func(cmd *cobra.Command, _ []string) error {
		return setupConnector(cmd.Context())
	},
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context(), func(ctx context.Context, driver *abstract.AbstractDriver, out *eventWriter) error {
			return driver.Sync(ctx, out.Emit, incrementalTables...)
		})
	},
}

// snapshotCmd only takes the baseline snapshot
var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Take the baseline snapshot without streaming",
	PreRunE: func(cmd *cobra.Command, _ []string) error {
		return setupConnector(cmd.Context())
	},
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context(), func(ctx context.Context, driver *abstract.AbstractDriver, out *eventWriter) error {
			decision, err := driver.ResolveMode()
			if err != nil {
				return err
			}
			coordinator, result, err := driver.RunSnapshot(ctx, decision, out.Emit)
			if err != nil {
				return err
			}
			logger.Infof("snapshot finished in state %s at %s after %v", result.State, result.Position, coordinator.StateTransitions())
			return nil
		})
	},
}

// run opens the offset store and runs fn next to the metrics endpoint.
// Interrupts stop fn cleanly and the committed progress is written to the
// state file.
func run(ctx context.Context, fn func(ctx context.Context, driver *abstract.AbstractDriver, out *eventWriter) error) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := offsets.OpenPebbleStore(viper.GetString(constants.OffsetsPath))
	if err != nil {
		return err
	}
	defer store.Close()

	metricsAddr := viper.GetString(constants.MetricsAddr)
	if metricsAddr != "" {
		telemetry.InitializeTelemetry(connector.Database())
	}

	driver := abstract.NewAbstractDriver(connector, store, connector.Options())
	defer driver.Close()

	out := newEventWriter(os.Stdout)
	decision, err := driver.ResolveMode()
	if err != nil {
		return err
	}
	if err := out.WriteMessage(types.Message{
		Type:     types.DecisionMessage,
		Decision: checkReport{Modes: decision.String(), Warnings: decision.Warnings()},
	}); err != nil {
		return err
	}

	startedAt := time.Now()
	ctx, cancel := context.WithCancel(ctx)
	err = utils.ErrExec(ctx,
		func(ctx context.Context) error {
			return serveMetrics(ctx, metricsAddr)
		},
		func(ctx context.Context) error {
			defer cancel()
			return fn(ctx, driver, out)
		},
	)
	cancel()
	if errors.Is(err, context.Canceled) {
		logger.Info("interrupted, stopping")
		err = nil
	}
	logger.Infof("emitted %d events in %s", out.Written(), time.Since(startedAt).Round(time.Millisecond))

	if stateErr := persistState(context.Background(), store); stateErr != nil && !errors.Is(stateErr, constants.ErrNoOffset) {
		logger.Errorf("failed to write state file: %s", stateErr)
	}
	return err
}

// serveMetrics serves the prometheus endpoint on addr until ctx is done.
func serveMetrics(ctx context.Context, addr string) error {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.GetMetricsHandler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	safego.Run(func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("failed to shut down metrics server: %s", err)
		}
	})

	logger.Infof("serving metrics on %s/metrics", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server failed: %s", err)
	}
	return nil
}

func init() {
	syncCmd.Flags().StringSliceVarP(&incrementalTables, "incremental", "", nil, "(Optional) Tables to snapshot incrementally while streaming, as schema.table")
}
