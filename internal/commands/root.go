// Package commands holds the mortar CLI.
package commands

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/compose-network/mortar/configs"
	"github.com/compose-network/mortar/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const appName = "mortar"

// NewRoot returns the root command with every subcommand attached.
func NewRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           appName,
		Short:         "Deploy contract modules and keep a ledger of what each network holds",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig()
		},
	}

	if err := declareFlags(root, stringFlags); err != nil {
		panic(err)
	}
	if err := declareFlags(root, intFlags); err != nil {
		panic(err)
	}

	root.AddCommand(newDeployCmd())
	root.AddCommand(newDiffCmd())

	return root
}

func loadConfig() error {
	logger.Initialize(slog.LevelInfo)

	if err := configs.SetDefaults(viper.GetViper()); err != nil {
		return err
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	if execPath, err := os.Executable(); err == nil {
		viper.AddConfigPath(filepath.Dir(execPath))
	}
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")

	// flags and embedded defaults can provide the whole configuration
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			const errMsg = "error reading config file"
			slog.With("err", err.Error()).Error(errMsg)
			return errors.Join(err, errors.New(errMsg))
		}
		slog.Debug("no config file found, will rely on flags and defaults")
	} else {
		slog.With("config_file", viper.ConfigFileUsed()).Debug("config file loaded")
	}

	if err := viper.Unmarshal(&configs.Values); err != nil {
		const errMsg = "unable to decode application config"
		slog.With("err", err.Error()).Error(errMsg)
		return errors.Join(err, errors.New(errMsg))
	}

	logger.Initialize(logger.ParseLevel(configs.Values.Log.Level))
	slog.With("network_id", configs.Values.Network.ID, "ledger_backend", configs.Values.Ledger.Backend).
		Debug("configuration loaded")

	return nil
}
