package lifecycle

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/compose-network/mortar/internal/actorqueue"
	"github.com/compose-network/mortar/internal/chain/chaintest"
	"github.com/compose-network/mortar/internal/ledger"
	"github.com/compose-network/mortar/internal/module"
	"github.com/compose-network/mortar/internal/module/moduletest"
	"github.com/compose-network/mortar/internal/resolver"
	"github.com/compose-network/mortar/internal/scheduler"
	"github.com/compose-network/mortar/internal/txmanager"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const deployerKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var (
	deployer = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	testKey  = ledger.Key{NetworkID: "local", Module: "example"}
)

type testEnv struct {
	backend *chaintest.Backend
	store   *ledger.MemoryStore
	tx      *txmanager.Manager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	backend := chaintest.New(1337)
	keyring, err := txmanager.NewKeyring([]string{deployerKey})
	require.NoError(t, err)
	queue := actorqueue.New()
	t.Cleanup(queue.Close)

	return &testEnv{
		backend: backend,
		store:   ledger.NewMemoryStore(),
		tx:      txmanager.NewManager(backend, keyring, queue, nil),
	}
}

// run executes one pass of mod the way a deployment does.
func (e *testEnv) run(t *testing.T, ctx context.Context, mod *module.Module) error {
	t.Helper()
	l, err := ledger.Open(context.Background(), e.store, testKey)
	require.NoError(t, err)

	graph, err := Wire(mod)
	require.NoError(t, err)
	snapshot, err := l.Snapshot()
	require.NoError(t, err)
	plan, err := resolver.Resolve(graph, snapshot)
	require.NoError(t, err)
	batches, err := scheduler.Schedule(plan)
	require.NoError(t, err)

	executor := scheduler.NewExecutor(NewDriver(l, e.tx, plan), true)
	executor.OnBatchComplete = func(ctx context.Context, _ scheduler.Batch) error {
		return l.Flush(context.Background())
	}
	_, runErr := executor.Execute(ctx, batches)
	require.NoError(t, l.Flush(context.Background()))
	return runErr
}

func (e *testEnv) entry(t *testing.T) *ledger.Entry {
	t.Helper()
	entry, err := e.store.Load(context.Background(), testKey)
	require.NoError(t, err)
	return entry
}

func storageModule(t *testing.T, initial int, setup func(b *module.Builder)) *module.Module {
	t.Helper()
	b := module.NewBuilder("example")
	b.Bind("Storage", "Storage", moduletest.Storage(t), module.Lit(initial))
	if setup != nil {
		setup(b)
	}
	mod, err := b.Build()
	require.NoError(t, err)
	return mod
}

func setter(value int) module.HookFunc {
	return func(ctx context.Context, hc module.HookContext) error {
		_, err := hc.Call(ctx, "Storage", "set", value)
		return err
	}
}

func TestDriver_Bindings(t *testing.T) {
	ctx := context.Background()

	t.Run("Should deploy references with the address of the referenced binding", func(t *testing.T) {
		env := newTestEnv(t)
		mod := storageModule(t, 1, func(b *module.Builder) {
			b.Bind("Proxy", "Proxy", moduletest.Proxy(t), module.Ref("Storage"))
		})

		require.NoError(t, env.run(t, ctx, mod))

		entry := env.entry(t)
		storage, ok := entry.Binding("Storage")
		require.True(t, ok)
		require.True(t, storage.Deployed())
		assert.Equal(t, crypto.CreateAddress(deployer, 0).Hex(), storage.DeployState.Address)
		assert.Len(t, storage.TransactionRecords, 1)

		sent := env.backend.Sent()
		require.Len(t, sent, 2)
		data := sent[1].Data()
		assert.Equal(t, common.LeftPadBytes(crypto.CreateAddress(deployer, 0).Bytes(), 32), data[len(data)-32:])
	})

	t.Run("Should skip unchanged bindings on the next run", func(t *testing.T) {
		env := newTestEnv(t)
		mod := storageModule(t, 1, nil)

		require.NoError(t, env.run(t, ctx, mod))
		require.NoError(t, env.run(t, ctx, mod))

		assert.Len(t, env.backend.Sent(), 1)
	})

	t.Run("Should fail on a reverted deployment and retry it on the next run", func(t *testing.T) {
		env := newTestEnv(t)
		env.backend.Revert = func(tx *types.Transaction) bool { return tx.To() == nil }
		mod := storageModule(t, 1, nil)

		err := env.run(t, ctx, mod)
		require.ErrorIs(t, err, ErrTransactionReverted)
		storage, _ := env.entry(t).Binding("Storage")
		assert.False(t, storage.Deployed())

		env.backend.Revert = nil
		require.NoError(t, env.run(t, ctx, mod))
		storage, _ = env.entry(t).Binding("Storage")
		assert.True(t, storage.Deployed())
		assert.Len(t, storage.TransactionRecords, 2)
	})

	t.Run("Should wait for a deployment broadcast by an interrupted run", func(t *testing.T) {
		env := newTestEnv(t)
		env.backend.Hold()
		mod := storageModule(t, 1, nil)

		interrupted, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer cancel()
		require.Error(t, env.run(t, interrupted, mod))

		storage, _ := env.entry(t).Binding("Storage")
		require.Len(t, storage.TransactionRecords, 1)
		assert.True(t, storage.TransactionRecords[0].Pending())

		env.backend.Release()
		require.NoError(t, env.run(t, ctx, mod))

		assert.Len(t, env.backend.Sent(), 1)
		storage, _ = env.entry(t).Binding("Storage")
		require.Len(t, storage.TransactionRecords, 1)
		assert.False(t, storage.TransactionRecords[0].Pending())
		assert.True(t, storage.Deployed())
	})

	t.Run("Should resend a recorded deployment the network never saw", func(t *testing.T) {
		env := newTestEnv(t)
		mod := storageModule(t, 1, nil)
		storage, _ := mod.Binding("Storage")
		args, err := storage.ArgRecords()
		require.NoError(t, err)
		encoded, err := json.Marshal(args)
		require.NoError(t, err)

		seed := ledger.NewEntry()
		seed.Elements["Storage"] = &ledger.Record{
			Type:         ledger.ElementTypeBinding,
			Name:         "Storage",
			Kind:         "Storage",
			Args:         args,
			ArtifactHash: storage.Artifact.Hash().Hex(),
			TransactionRecords: []ledger.TransactionRecord{{
				Input:  ledger.CallInput{Kind: ledger.CallKindDeploy, Target: "Storage", Args: encoded, From: deployer.Hex()},
				TxHash: common.HexToHash("0x01").Hex(),
			}},
		}
		require.NoError(t, env.store.Save(ctx, testKey, seed))

		require.NoError(t, env.run(t, ctx, mod))

		record, _ := env.entry(t).Binding("Storage")
		require.Len(t, record.TransactionRecords, 1)
		assert.Equal(t, env.backend.Sent()[0].Hash().Hex(), record.TransactionRecords[0].TxHash)
		assert.True(t, record.Deployed())
	})
}

func TestDriver_Hooks(t *testing.T) {
	ctx := context.Background()

	t.Run("Should replay recorded calls of unconditional hooks", func(t *testing.T) {
		env := newTestEnv(t)
		mod := storageModule(t, 1, func(b *module.Builder) {
			b.On("configure", module.AfterDeployment, "Storage", setter(7))
		})

		require.NoError(t, env.run(t, ctx, mod))
		require.Len(t, env.backend.Sent(), 2)

		require.NoError(t, env.run(t, ctx, mod))
		assert.Len(t, env.backend.Sent(), 2)

		event, ok := env.entry(t).Get("configure")
		require.True(t, ok)
		assert.True(t, event.Executed)
		assert.Len(t, event.TransactionRecordsByDependent["Storage"], 1)
	})

	t.Run("Should execute a diverging call fresh and drop the stale record", func(t *testing.T) {
		env := newTestEnv(t)
		first := storageModule(t, 1, func(b *module.Builder) {
			b.On("configure", module.AfterDeployment, "Storage", setter(7))
		})
		require.NoError(t, env.run(t, ctx, first))

		second := storageModule(t, 1, func(b *module.Builder) {
			b.On("configure", module.AfterDeployment, "Storage", setter(8))
		})
		require.NoError(t, env.run(t, ctx, second))

		assert.Len(t, env.backend.Sent(), 3)
		event, _ := env.entry(t).Get("configure")
		records := event.TransactionRecordsByDependent["Storage"]
		require.Len(t, records, 1)
		assert.JSONEq(t, `[8]`, string(records[0].Input.Args))
	})

	t.Run("Should run deploy hooks only around a deployment", func(t *testing.T) {
		env := newTestEnv(t)
		counts := map[string]int{}
		count := func(name string) module.HookFunc {
			return func(context.Context, module.HookContext) error {
				counts[name]++
				return nil
			}
		}
		build := func(initial int) *module.Module {
			return storageModule(t, initial, func(b *module.Builder) {
				b.On("before", module.BeforeDeploy, "Storage", count("before"))
				b.On("changed", module.OnChange, "Storage", count("changed"))
				b.On("after", module.AfterDeploy, "Storage", count("after"))
				b.On("always", module.BeforeDeployment, "Storage", count("always"))
			})
		}

		require.NoError(t, env.run(t, ctx, build(1)))
		assert.Equal(t, map[string]int{"before": 1, "after": 1, "always": 1}, counts)

		require.NoError(t, env.run(t, ctx, build(1)))
		assert.Equal(t, map[string]int{"before": 1, "after": 1, "always": 2}, counts)

		require.NoError(t, env.run(t, ctx, build(2)))
		assert.Equal(t, map[string]int{"before": 2, "changed": 1, "after": 2, "always": 3}, counts)
	})

	t.Run("Should start over calls against a redeployed binding", func(t *testing.T) {
		env := newTestEnv(t)
		build := func(initial int) *module.Module {
			return storageModule(t, initial, func(b *module.Builder) {
				b.On("configure", module.AfterDeploy, "Storage", setter(7))
			})
		}

		require.NoError(t, env.run(t, ctx, build(1)))
		require.NoError(t, env.run(t, ctx, build(2)))

		// two deployments and two calls
		assert.Len(t, env.backend.Sent(), 4)
		event, _ := env.entry(t).Get("configure")
		assert.Len(t, event.TransactionRecordsByDependent["Storage"], 1)
	})

	t.Run("Should decode read-only calls", func(t *testing.T) {
		env := newTestEnv(t)
		env.backend.CallHandler = func(ethereum.CallMsg) ([]byte, error) {
			return common.LeftPadBytes(big.NewInt(42).Bytes(), 32), nil
		}
		var got []any
		mod := storageModule(t, 1, func(b *module.Builder) {
			b.On("check", module.AfterDeploy, "Storage", func(ctx context.Context, hc module.HookContext) error {
				var err error
				got, err = hc.Read(ctx, "Storage", "get")
				return err
			})
		})

		require.NoError(t, env.run(t, ctx, mod))
		require.Len(t, got, 1)
		assert.Equal(t, big.NewInt(42), got[0])
	})

	t.Run("Should leave a failed hook unexecuted", func(t *testing.T) {
		env := newTestEnv(t)
		env.backend.Revert = func(tx *types.Transaction) bool { return tx.To() != nil }
		mod := storageModule(t, 1, func(b *module.Builder) {
			b.On("configure", module.AfterDeployment, "Storage", setter(7))
		})

		err := env.run(t, ctx, mod)
		require.ErrorIs(t, err, ErrTransactionReverted)
		event, ok := env.entry(t).Get("configure")
		require.True(t, ok)
		assert.False(t, event.Executed)
	})

	t.Run("Should send a reverted hook call again on the next run", func(t *testing.T) {
		env := newTestEnv(t)
		env.backend.Revert = func(tx *types.Transaction) bool { return tx.To() != nil }
		mod := storageModule(t, 1, func(b *module.Builder) {
			b.On("configure", module.AfterDeployment, "Storage", setter(7))
		})

		require.ErrorIs(t, env.run(t, ctx, mod), ErrTransactionReverted)
		require.Len(t, env.backend.Sent(), 2)

		env.backend.Revert = nil
		require.NoError(t, env.run(t, ctx, mod))
		assert.Len(t, env.backend.Sent(), 3)

		event, ok := env.entry(t).Get("configure")
		require.True(t, ok)
		assert.True(t, event.Executed)
		records := event.TransactionRecordsByDependent["Storage"]
		require.Len(t, records, 1)
		require.NotNil(t, records[0].Output)
		assert.Equal(t, types.ReceiptStatusSuccessful, records[0].Output.Status)
	})
}

func TestDriver_Address(t *testing.T) {
	t.Run("Should refuse bindings that are not deployed", func(t *testing.T) {
		env := newTestEnv(t)
		l, err := ledger.Open(context.Background(), env.store, testKey)
		require.NoError(t, err)
		mod := storageModule(t, 1, nil)
		graph, err := Wire(mod)
		require.NoError(t, err)
		plan, err := resolver.Resolve(graph, ledger.NewEntry())
		require.NoError(t, err)

		driver := NewDriver(l, env.tx, plan)
		_, err = driver.Address("Storage")
		assert.ErrorIs(t, err, ErrDependencyNotDeployed)
		_, err = driver.Address("Unknown")
		assert.ErrorIs(t, err, ErrDependencyNotDeployed)
	})
}
