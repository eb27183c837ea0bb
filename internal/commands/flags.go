package commands

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type (
	flagType interface {
		string | int | bool
	}

	// flagDef is a flag whose value feeds a viper configuration key.
	flagDef[T flagType] struct {
		name         string
		viperKey     string
		defaultValue T
		description  string
	}
)

var (
	stringFlags = []flagDef[string]{
		{"network-id", "network.id", "", "Network the ledger entry is recorded under"},
		{"rpc-url", "network.rpc-url", "", "JSON-RPC endpoint of the target network"},
		{"ledger-backend", "ledger.backend", "", "Ledger backend (file or s3)"},
		{"ledger-dir", "ledger.dir", "", "Directory of the file ledger"},
		{"max-gas-price", "gas-price.max-price", "", "Gas price ceiling in wei; enables backoff when set"},
		{"log-level", "log.level", "", "Log level (debug, info, warn, error)"},
	}

	intFlags = []flagDef[int]{
		{"gas-price-retries", "gas-price.number-of-retries", 0, "Gas price checks before giving up"},
		{"test-env-port", "test-env.port", 0, "Host port of the throwaway anvil node"},
	}
)

// declareFlags declares persistent flags on cmd and binds them to viper keys.
// Flags left at their zero value fall back to the config file and embedded defaults.
func declareFlags[T flagType](cmd *cobra.Command, flags []flagDef[T]) error {
	for _, flag := range flags {
		if err := declareFlag(cmd, flag); err != nil {
			return err
		}
	}
	return nil
}

func declareFlag[T flagType](cmd *cobra.Command, flag flagDef[T]) error {
	switch value := any(flag.defaultValue).(type) {
	case string:
		cmd.PersistentFlags().String(flag.name, value, flag.description)
	case int:
		cmd.PersistentFlags().Int(flag.name, value, flag.description)
	case bool:
		cmd.PersistentFlags().Bool(flag.name, value, flag.description)
	}
	return viper.BindPFlag(flag.viperKey, cmd.PersistentFlags().Lookup(flag.name))
}
