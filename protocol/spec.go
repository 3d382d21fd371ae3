package protocol

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/datazip-inc/olake-mssql-cdc/types"
)

// specCmd prints a config template holding the defaults
var specCmd = &cobra.Command{
	Use:   "spec",
	Short: "spec command",
	RunE: func(_ *cobra.Command, _ []string) error {
		return writeOutput(os.Stdout, outputFormat, types.Message{
			Type: types.SpecMessage,
			Spec: map[string]any{
				"type":   connector.Type(),
				"config": connector.Spec(),
			},
		})
	},
}
