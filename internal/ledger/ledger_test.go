package ledger

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = Key{NetworkID: "local", Module: "example"}

func openLedger(t *testing.T, store Store) *Ledger {
	t.Helper()
	l, err := Open(context.Background(), store, testKey)
	require.NoError(t, err)
	return l
}

func TestLedger_RoundTrip(t *testing.T) {
	t.Run("Should reproduce a binding and an event after flush and reload", func(t *testing.T) {
		ctx := context.Background()
		store := NewMemoryStore()
		l := openLedger(t, store)

		l.PutBinding("Example", "Example", "0xabc", []ArgRecord{{Value: json.RawMessage(`1`)}, {Ref: "Other"}})
		idx := l.AppendTransaction("Example", TransactionRecord{
			Input:  CallInput{Kind: CallKindDeploy, Target: "Example", Args: json.RawMessage(`[1]`)},
			TxHash: "0x01",
		})
		require.NoError(t, l.CompleteTransaction("Example", idx, CallOutput{TxHash: "0x01", ContractAddress: "0xAA", Status: 1}))
		l.MarkDeployed("Example", "0xAA")
		l.AppendEventTransaction("setup", "Example", TransactionRecord{
			Input:  CallInput{Kind: CallKindCall, Target: "Example", Method: "set"},
			TxHash: "0x02",
			Output: &CallOutput{TxHash: "0x02", Status: 1},
		})
		l.MarkExecuted("setup")
		require.NoError(t, l.Flush(ctx))

		reloaded := openLedger(t, store)
		binding, ok := reloaded.Record("Example")
		require.True(t, ok)
		assert.Equal(t, ElementTypeBinding, binding.Type)
		assert.True(t, binding.Deployed())
		assert.Equal(t, "0xAA", binding.DeployState.Address)
		require.Len(t, binding.TransactionRecords, 1)
		assert.False(t, binding.TransactionRecords[0].Pending())
		assert.Equal(t, "Other", binding.Args[1].Ref)

		event, ok := reloaded.Record("setup")
		require.True(t, ok)
		assert.True(t, event.Executed)
		assert.Len(t, event.TransactionRecordsByDependent["Example"], 1)
	})

	t.Run("Should skip saving when nothing changed", func(t *testing.T) {
		store := NewMemoryStore()
		l := openLedger(t, store)
		require.NoError(t, l.Flush(context.Background()))
		assert.Equal(t, 0, store.Saves())
	})

	t.Run("Should preserve records of elements it never touched", func(t *testing.T) {
		ctx := context.Background()
		store := NewMemoryStore()
		seed := NewEntry()
		seed.Elements["B"] = &Record{Type: ElementTypeBinding, Name: "B", DeployState: &DeployState{Address: "0xBB", LogicallyDeployed: true}}
		require.NoError(t, store.Save(ctx, testKey, seed))

		l := openLedger(t, store)
		l.MarkDeployed("A", "0xAA")
		require.NoError(t, l.Flush(ctx))

		entry, err := store.Load(ctx, testKey)
		require.NoError(t, err)
		require.Contains(t, entry.Elements, "B")
		assert.Equal(t, "0xBB", entry.Elements["B"].DeployState.Address)
	})
}

func TestLedger_ResetDependent(t *testing.T) {
	l := openLedger(t, NewMemoryStore())
	l.AppendEventTransaction("a", "X", TransactionRecord{Input: CallInput{Target: "X"}})
	l.AppendEventTransaction("a", "Y", TransactionRecord{Input: CallInput{Target: "Y"}})
	l.AppendEventTransaction("b", "X", TransactionRecord{Input: CallInput{Target: "X"}})

	l.ResetDependent("X")

	assert.Empty(t, l.EventTransactions("a", "X"))
	assert.Empty(t, l.EventTransactions("b", "X"))
	assert.Len(t, l.EventTransactions("a", "Y"), 1)
}

func TestLedger_ConcurrentMutations(t *testing.T) {
	l := openLedger(t, NewMemoryStore())
	l.PutBinding("A", "A", "0x", nil)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.AppendTransaction("A", TransactionRecord{Input: CallInput{Kind: CallKindDeploy, Target: "A"}})
		}()
	}
	wg.Wait()

	record, ok := l.Record("A")
	require.True(t, ok)
	assert.Len(t, record.TransactionRecords, 50)
}

func TestCallInput_Equal(t *testing.T) {
	a := CallInput{Kind: CallKindCall, Target: "X", Method: "set", Args: json.RawMessage(`[1, {"ref": "Y"}]`)}
	b := CallInput{Kind: CallKindCall, Target: "X", Method: "set", Args: json.RawMessage("[\n  1,\n  {\n    \"ref\": \"Y\"\n  }\n]")}
	assert.True(t, a.Equal(b))

	b.Method = "other"
	assert.False(t, a.Equal(b))
}

func TestLedger_ReplaceTransaction(t *testing.T) {
	t.Run("Should overwrite a pending record in place", func(t *testing.T) {
		l := openLedger(t, NewMemoryStore())
		idx := l.AppendTransaction("Example", TransactionRecord{Input: CallInput{Kind: CallKindDeploy, Target: "Example"}, TxHash: "0x01"})

		require.NoError(t, l.ReplaceTransaction("Example", idx, TransactionRecord{Input: CallInput{Kind: CallKindDeploy, Target: "Example"}, TxHash: "0x02"}))

		record, ok := l.Record("Example")
		require.True(t, ok)
		require.Len(t, record.TransactionRecords, 1)
		assert.Equal(t, "0x02", record.TransactionRecords[0].TxHash)
		assert.Error(t, l.ReplaceTransaction("Example", 5, TransactionRecord{}))
	})
}
