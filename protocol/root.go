package protocol

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/datazip-inc/olake-mssql-cdc/constants"
	"github.com/datazip-inc/olake-mssql-cdc/utils"
	"github.com/datazip-inc/olake-mssql-cdc/utils/logger"
)

const notSet = "not-set"

var (
	configPath   string
	outputFormat string

	commands  = []*cobra.Command{}
	connector Driver
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "olake-mssql-cdc",
	Short: "SQL Server change data capture connector",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		configFolder := utils.Ternary(configPath == notSet, os.TempDir(), filepath.Dir(configPath)).(string)
		viper.SetDefault(constants.ConfigFolder, configFolder)
		viper.SetDefault(constants.OffsetsPath, filepath.Join(configFolder, "offsets"))
		viper.SetDefault(constants.StatePath, filepath.Join(configFolder, "state.json"))
		viper.SetDefault(constants.LogLevel, "info")
		viper.AutomaticEnv()

		// logger uses CONFIG_FOLDER
		logger.Init()
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return cmd.Help()
		}
		return fmt.Errorf("'%s' is an invalid command. Use 'olake-mssql-cdc --help' to display usage guide", args[0])
	},
}

func CreateRootCommand(driver Driver) *cobra.Command {
	connector = driver
	RootCmd.AddCommand(commands...)
	return RootCmd
}

// setupConnector loads the source config and connects.
func setupConnector(ctx context.Context) error {
	if configPath == notSet {
		return fmt.Errorf("--config is required")
	}
	if err := utils.UnmarshalFile(configPath, connector.GetConfigRef(), false); err != nil {
		return err
	}
	return connector.Setup(ctx)
}

func init() {
	commands = append(commands, specCmd, checkCmd, snapshotCmd, syncCmd, stateCmd)
	flags := RootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "", notSet, "(Required) Config for connector")
	flags.StringVarP(&outputFormat, "format", "", "json", "(Optional) Output format of spec, check and state: json or yaml")
	flags.StringP("offsets", "", "", "(Optional) Directory of the offset store, defaults to <config folder>/offsets")
	flags.StringP("state", "", "", "(Optional) File the committed offset is written to on exit, defaults to <config folder>/state.json")
	flags.StringP("log-level", "", "", "(Optional) Log level: debug, info, warn or error")
	flags.StringP("metrics-addr", "", "", "(Optional) Address sync and snapshot serve prometheus metrics on, e.g. :9090")

	for key, flag := range map[string]string{
		constants.OffsetsPath: "offsets",
		constants.StatePath:   "state",
		constants.LogLevel:    "log-level",
		constants.MetricsAddr: "metrics-addr",
	} {
		if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}

	// Disable Cobra CLI's built-in usage and error handling
	RootCmd.SilenceUsage = true
	RootCmd.SilenceErrors = true
}
