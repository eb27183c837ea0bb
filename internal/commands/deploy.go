package commands

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/compose-network/mortar/configs"
	"github.com/compose-network/mortar/internal/ledger"
	"github.com/compose-network/mortar/internal/logger"
	"github.com/compose-network/mortar/internal/module/definition"
	"github.com/compose-network/mortar/internal/orchestrator"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

type deployFlags struct {
	states      string
	parallelize bool
	testEnv     bool
	yes         bool
}

func newDeployCmd() *cobra.Command {
	var flags deployFlags

	cmd := &cobra.Command{
		Use:   "deploy <modulePath>",
		Short: "Deploy a module definition and record the outcome in the ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			log := logger.Named("deploy").With("module_path", args[0])
			defer func() {
				if err != nil {
					err = fail(log, err)
				}
			}()

			cfg := configs.Values
			if err := cfg.Validate(flags.testEnv); err != nil {
				return err
			}

			mod, err := definition.NewLoader(afero.NewOsFs()).Load(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			store, err := deployStore(ctx, cfg.Ledger, flags.testEnv)
			if err != nil {
				return err
			}

			net, err := connectNetwork(ctx, cfg, flags.testEnv)
			if err != nil {
				return err
			}
			defer func() {
				err = errors.Join(err, net.close(ctx))
			}()

			svc, release, err := newService(store, net, cfg.GasPrice, confirmDiff, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer release()

			result, err := svc.Deploy(ctx, mod, orchestrator.DeployOptions{
				Options: orchestrator.Options{
					NetworkID: cfg.Network.ID,
					States:    splitStates(flags.states),
				},
				Parallelize: flags.parallelize,
				Confirm:     !flags.yes,
			})
			if err != nil {
				return err
			}

			log.With(slog.Bool("no_op", result.NoOp), "network_id", cfg.Network.ID).Info("deploy finished")
			return nil
		},
	}

	cmd.Flags().StringVar(&flags.states, "state", "", "Comma-separated ledger entries; the first is written, the rest resolve external references")
	cmd.Flags().BoolVar(&flags.parallelize, "parallelize", false, "Execute independent elements of a batch concurrently")
	cmd.Flags().BoolVar(&flags.testEnv, "testEnv", false, "Deploy to a throwaway anvil node in docker")
	cmd.Flags().BoolVarP(&flags.yes, "yes", "y", false, "Skip the confirmation prompt")

	return cmd
}

// deployStore keeps the ledger of a test environment run in memory: the chain
// is discarded afterwards, so nothing may reach the configured ledger.
func deployStore(ctx context.Context, cfg configs.Ledger, testEnv bool) (ledger.Store, error) {
	if testEnv {
		logger.Named("deploy").Info("test environment: ledger is kept in memory and not stored")
		return ledger.NewMemoryStore(), nil
	}
	return openStore(ctx, cfg)
}

func splitStates(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	var states []string
	for _, name := range strings.Split(value, ",") {
		if name = strings.TrimSpace(name); name != "" {
			states = append(states, name)
		}
	}
	return states
}
