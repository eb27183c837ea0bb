package commands

import (
	"github.com/compose-network/mortar/configs"
	"github.com/compose-network/mortar/internal/logger"
	"github.com/compose-network/mortar/internal/module/definition"
	"github.com/compose-network/mortar/internal/orchestrator"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func newDiffCmd() *cobra.Command {
	var states string

	cmd := &cobra.Command{
		Use:   "diff <modulePath>",
		Short: "Show what deploying a module would change, without sending transactions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			log := logger.Named("diff").With("module_path", args[0])
			defer func() {
				if err != nil {
					err = fail(log, err)
				}
			}()

			cfg := configs.Values
			if err := cfg.Ledger.Validate(); err != nil {
				return err
			}

			mod, err := definition.NewLoader(afero.NewOsFs()).Load(args[0])
			if err != nil {
				return err
			}

			store, err := openStore(cmd.Context(), cfg.Ledger)
			if err != nil {
				return err
			}

			// no transactions are sent, so neither a chain nor keys are needed
			svc := orchestrator.NewService(store, nil, nil, cmd.OutOrStdout())
			diff, err := svc.Diff(cmd.Context(), mod, orchestrator.Options{
				NetworkID: cfg.Network.ID,
				States:    splitStates(states),
			})
			if err != nil {
				return err
			}

			log.With("new", len(diff.New), "changed", len(diff.Changed), "removed", len(diff.Removed)).Debug("diff computed")
			return nil
		},
	}

	cmd.Flags().StringVar(&states, "state", "", "Comma-separated ledger entries; the first is compared, the rest resolve external references")

	return cmd
}
