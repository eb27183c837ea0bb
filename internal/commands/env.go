package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/charmbracelet/huh"
	"github.com/compose-network/mortar/configs"
	"github.com/compose-network/mortar/internal/actorqueue"
	"github.com/compose-network/mortar/internal/chain"
	"github.com/compose-network/mortar/internal/devnet"
	"github.com/compose-network/mortar/internal/ledger"
	"github.com/compose-network/mortar/internal/ledger/filestore"
	"github.com/compose-network/mortar/internal/ledger/objectstore"
	"github.com/compose-network/mortar/internal/orchestrator"
	"github.com/compose-network/mortar/internal/resolver"
	"github.com/compose-network/mortar/internal/txmanager"
	"github.com/spf13/afero"
)

// openStore returns the ledger backend selected by configuration.
func openStore(ctx context.Context, cfg configs.Ledger) (ledger.Store, error) {
	switch cfg.Backend {
	case configs.LedgerBackendS3:
		store, err := objectstore.New(cfg.S3)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx, cfg.S3.Region); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return filestore.New(afero.NewOsFs(), cfg.Dir), nil
	}
}

// network is a connected chain plus the keys allowed to sign on it.
type network struct {
	backend chain.Backend
	keys    []string
	close   func(ctx context.Context) error
}

var connectNetwork = connect

// connect dials the configured RPC endpoint, or starts a throwaway anvil node
// when testEnv is set. The caller must call close.
func connect(ctx context.Context, cfg configs.Config, testEnv bool) (*network, error) {
	if testEnv {
		node, err := devnet.Start(ctx, cfg.TestEnv)
		if err != nil {
			return nil, fmt.Errorf("failed to start test environment: %w", err)
		}
		return &network{
			backend: node.Client,
			keys:    append([]string{node.PrivateKey}, cfg.Signer.PrivateKeys...),
			close:   node.Stop,
		}, nil
	}

	client, err := chain.Dial(ctx, cfg.Network.RPCURL)
	if err != nil {
		return nil, err
	}
	return &network{
		backend: client,
		keys:    cfg.Signer.PrivateKeys,
		close: func(context.Context) error {
			client.Close()
			return nil
		},
	}, nil
}

// newService wires the orchestrator for a run. The returned function releases
// the actor queue.
func newService(store ledger.Store, net *network, cfg configs.GasPrice, confirm orchestrator.Confirmer, out io.Writer) (*orchestrator.Service, func(), error) {
	keyring, err := txmanager.NewKeyring(net.keys)
	if err != nil {
		return nil, nil, err
	}

	queue := actorqueue.New()
	tx := txmanager.NewManager(net.backend, keyring, queue, txmanager.PolicyFromConfig(cfg))

	return orchestrator.NewService(store, tx, confirm, out), queue.Close, nil
}

func confirmDiff(ctx context.Context, diff resolver.Diff) (bool, error) {
	confirmed := false
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(fmt.Sprintf("Deploy module %s?", diff.Module)).
			Description(fmt.Sprintf("%d new, %d changed", len(diff.New), len(diff.Changed))).
			Affirmative("Deploy").
			Negative("Abort").
			Value(&confirmed),
	))

	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return false, err
	}
	return confirmed, nil
}

// fail logs err with its category. The process exit code is decided by main.
func fail(log *slog.Logger, err error) error {
	log.With("category", orchestrator.Categorize(err), "err", err.Error()).Error("command failed")
	return err
}
