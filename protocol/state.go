package protocol

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/datazip-inc/olake-mssql-cdc/constants"
	"github.com/datazip-inc/olake-mssql-cdc/drivers/abstract"
	"github.com/datazip-inc/olake-mssql-cdc/offsets"
	"github.com/datazip-inc/olake-mssql-cdc/types"
	"github.com/datazip-inc/olake-mssql-cdc/utils"
	"github.com/datazip-inc/olake-mssql-cdc/utils/logger"
)

// loadState reads the committed progress into a state message.
func loadState(ctx context.Context, store abstract.OffsetStore) (types.Message, error) {
	offset, err := store.LoadOffset(ctx)
	if err != nil {
		return types.Message{}, fmt.Errorf("failed to load offset: %s", err)
	}
	if offset == nil {
		return types.Message{}, constants.ErrNoOffset
	}
	progress, err := store.LoadProgress(ctx)
	if err != nil {
		return types.Message{}, fmt.Errorf("failed to load incremental snapshot progress: %s", err)
	}
	return types.Message{Type: types.StateMessage, Offset: offset, Progress: progress}, nil
}

// persistState writes the committed progress to the state file.
func persistState(ctx context.Context, store abstract.OffsetStore) error {
	state, err := loadState(ctx, store)
	if err != nil {
		return err
	}
	path := viper.GetString(constants.StatePath)
	if err := utils.WriteJSONFile(path, state); err != nil {
		return err
	}
	logger.Infof("committed position %s written to %s", state.Offset.Position, path)
	return nil
}

// stateCmd prints the committed progress of the offset store
var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Print the committed offset",
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := offsets.OpenPebbleStore(viper.GetString(constants.OffsetsPath))
		if err != nil {
			return err
		}
		defer store.Close()

		state, err := loadState(cmd.Context(), store)
		if err != nil {
			return err
		}
		return writeOutput(os.Stdout, outputFormat, state)
	},
}
