package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/compose-network/mortar/internal/logger"
)

// Ledger is the in-memory working copy of one entry. Every mutation method is
// one unit of mutation guarded by the same lock, and Flush writes the whole
// entry back, so concurrent callers never interleave partial updates.
// Records of elements that are no longer declared are carried through untouched.
type Ledger struct {
	mu     sync.Mutex
	key    Key
	store  Store
	entry  *Entry
	dirty  bool
	logger *slog.Logger
}

// Open loads the entry for key from store.
func Open(ctx context.Context, store Store, key Key) (*Ledger, error) {
	entry, err := store.Load(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger entry for module '%s' on network '%s': %w", key.Module, key.NetworkID, err)
	}
	if entry.Elements == nil {
		entry.Elements = make(map[string]*Record)
	}

	return &Ledger{
		key:    key,
		store:  store,
		entry:  entry,
		logger: logger.Named("ledger").With("module", key.Module, "network_id", key.NetworkID),
	}, nil
}

func (l *Ledger) Key() Key {
	return l.key
}

// Snapshot returns a deep copy of the current entry.
func (l *Ledger) Snapshot() (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entry.Clone()
}

// Record returns a copy of the record stored under name.
func (l *Ledger) Record(name string) (*Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.entry.Get(name)
	if !ok {
		return nil, false
	}
	clone := *record
	clone.TransactionRecords = append([]TransactionRecord(nil), record.TransactionRecords...)
	if record.DeployState != nil {
		state := *record.DeployState
		clone.DeployState = &state
	}
	if record.TransactionRecordsByDependent != nil {
		clone.TransactionRecordsByDependent = make(map[string][]TransactionRecord, len(record.TransactionRecordsByDependent))
		for dependent, records := range record.TransactionRecordsByDependent {
			clone.TransactionRecordsByDependent[dependent] = append([]TransactionRecord(nil), records...)
		}
	}
	return &clone, true
}

// PutBinding stores the declaration part of a binding record (kind, args,
// artifact hash), keeping its deploy state and transaction history.
func (l *Ledger) PutBinding(name, kind, artifactHash string, args []ArgRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	record := l.bindingLocked(name)
	record.Kind = kind
	record.ArtifactHash = artifactHash
	record.Args = args
	l.dirty = true
}

// AppendTransaction appends a transaction record to a binding and returns its index.
func (l *Ledger) AppendTransaction(name string, tx TransactionRecord) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	record := l.bindingLocked(name)
	record.TransactionRecords = append(record.TransactionRecords, tx)
	l.dirty = true
	return len(record.TransactionRecords) - 1
}

// CompleteTransaction sets the output of a previously appended binding transaction.
func (l *Ledger) CompleteTransaction(name string, index int, output CallOutput) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.entry.Get(name)
	if !ok || index < 0 || index >= len(record.TransactionRecords) {
		return fmt.Errorf("no transaction record %d for '%s'", index, name)
	}
	record.TransactionRecords[index].Output = &output
	l.dirty = true
	return nil
}

// ReplaceTransaction overwrites the binding transaction at index, used when a
// recorded broadcast never reached the network.
func (l *Ledger) ReplaceTransaction(name string, index int, tx TransactionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.entry.Get(name)
	if !ok || index < 0 || index >= len(record.TransactionRecords) {
		return fmt.Errorf("no transaction record %d for '%s'", index, name)
	}
	record.TransactionRecords[index] = tx
	l.dirty = true
	return nil
}

// MarkDeployed commits the address of a binding and flips it logically deployed.
func (l *Ledger) MarkDeployed(name, address string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	record := l.bindingLocked(name)
	record.DeployState = &DeployState{Address: address, LogicallyDeployed: true}
	l.dirty = true
}

// MarkUndeployed clears the logically deployed flag, keeping the last address for reference.
func (l *Ledger) MarkUndeployed(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	record := l.bindingLocked(name)
	if record.DeployState == nil {
		record.DeployState = &DeployState{}
	}
	record.DeployState.LogicallyDeployed = false
	l.dirty = true
}

// EnsureEvent creates the record of an event if it does not exist yet.
func (l *Ledger) EnsureEvent(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.eventLocked(name)
}

// MarkExecuted flips the executed flag of an event.
func (l *Ledger) MarkExecuted(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.eventLocked(name).Executed = true
	l.dirty = true
}

// EventTransactions returns a copy of the calls an event recorded against dependent.
func (l *Ledger) EventTransactions(event, dependent string) []TransactionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.entry.Get(event)
	if !ok {
		return nil
	}
	return append([]TransactionRecord(nil), record.TransactionRecordsByDependent[dependent]...)
}

// AppendEventTransaction appends a call made by an event against dependent.
func (l *Ledger) AppendEventTransaction(event, dependent string, tx TransactionRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	record := l.eventLocked(event)
	record.TransactionRecordsByDependent[dependent] = append(record.TransactionRecordsByDependent[dependent], tx)
	l.dirty = true
}

// CompleteEventTransaction sets the output of the call recorded at index.
func (l *Ledger) CompleteEventTransaction(event, dependent string, index int, output CallOutput) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.entry.Get(event)
	if !ok || index < 0 || index >= len(record.TransactionRecordsByDependent[dependent]) {
		return fmt.Errorf("no call record %d of '%s' against '%s'", index, event, dependent)
	}
	record.TransactionRecordsByDependent[dependent][index].Output = &output
	l.dirty = true
	return nil
}

// TruncateEventTransactions drops the calls recorded against dependent from index on.
func (l *Ledger) TruncateEventTransactions(event, dependent string, index int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.entry.Get(event)
	if !ok {
		return
	}
	records := record.TransactionRecordsByDependent[dependent]
	if index < 0 || index >= len(records) {
		return
	}
	record.TransactionRecordsByDependent[dependent] = records[:index]
	l.dirty = true
}

// ResetDependent forgets every call any event made against dependent. It is
// used when dependent is redeployed, since calls against the old instance do
// not apply to the new one.
func (l *Ledger) ResetDependent(dependent string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, record := range l.entry.Elements {
		if record.Type != ElementTypeEvent {
			continue
		}
		if _, ok := record.TransactionRecordsByDependent[dependent]; ok {
			delete(record.TransactionRecordsByDependent, dependent)
			l.dirty = true
		}
	}
}

// Flush persists the entry if anything changed since the last flush.
func (l *Ledger) Flush(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.dirty {
		return nil
	}
	if err := l.store.Save(ctx, l.key, l.entry); err != nil {
		return fmt.Errorf("failed to save ledger entry: %w", err)
	}
	l.dirty = false
	l.logger.With("elements", len(l.entry.Elements)).Debug("ledger flushed")

	return nil
}

func (l *Ledger) bindingLocked(name string) *Record {
	record, ok := l.entry.Elements[name]
	if !ok || record.Type != ElementTypeBinding {
		record = &Record{Type: ElementTypeBinding, Name: name}
		l.entry.Elements[name] = record
		l.dirty = true
	}
	return record
}

func (l *Ledger) eventLocked(name string) *Record {
	record, ok := l.entry.Elements[name]
	if !ok || record.Type != ElementTypeEvent {
		record = &Record{Type: ElementTypeEvent, Name: name}
		l.entry.Elements[name] = record
		l.dirty = true
	}
	if record.TransactionRecordsByDependent == nil {
		record.TransactionRecordsByDependent = make(map[string][]TransactionRecord)
	}
	return record
}
