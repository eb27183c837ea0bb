package ledger

import (
	"bytes"
	"encoding/json"
)

type (
	// ElementType discriminates the two kinds of ledger records.
	ElementType string

	// Key addresses one ledger entry.
	Key struct {
		NetworkID string
		Module    string
	}

	// Entry is the persisted state of one module on one network.
	Entry struct {
		Elements map[string]*Record `json:"elements"`
	}

	// Record is the committed projection of a binding or an event.
	// Binding fields and event fields are mutually exclusive, selected by Type.
	Record struct {
		Type ElementType `json:"type"`
		Name string      `json:"name"`

		Kind               string              `json:"kind,omitempty"`
		Args               []ArgRecord         `json:"args,omitempty"`
		ArtifactHash       string              `json:"artifactHash,omitempty"`
		DeployState        *DeployState        `json:"deployState,omitempty"`
		TransactionRecords []TransactionRecord `json:"transactionRecords,omitempty"`

		Executed                      bool                           `json:"executed,omitempty"`
		TransactionRecordsByDependent map[string][]TransactionRecord `json:"transactionRecordsByDependent,omitempty"`
	}

	// ArgRecord is a constructor argument as persisted: either a JSON literal or
	// the name of the referenced binding.
	ArgRecord struct {
		Value json.RawMessage `json:"value,omitempty"`
		Ref   string          `json:"ref,omitempty"`
	}

	DeployState struct {
		Address           string `json:"address,omitempty"`
		LogicallyDeployed bool   `json:"logicallyDeployed,omitempty"`
	}

	// TransactionRecord pairs the attempted call with its receipt. A nil Output
	// means the transaction was broadcast but its receipt was never observed.
	TransactionRecord struct {
		Input  CallInput   `json:"input"`
		TxHash string      `json:"txHash,omitempty"`
		Output *CallOutput `json:"output,omitempty"`
	}

	// CallInput identifies a logical side effect independent of addresses, so
	// that a rerun can compare it against what was attempted before.
	CallInput struct {
		Kind   CallKind        `json:"kind"`
		Target string          `json:"target"`
		Method string          `json:"method,omitempty"`
		Args   json.RawMessage `json:"args,omitempty"`
		Value  string          `json:"value,omitempty"`
		From   string          `json:"from,omitempty"`
	}

	CallOutput struct {
		TxHash          string `json:"txHash"`
		BlockNumber     uint64 `json:"blockNumber,omitempty"`
		ContractAddress string `json:"contractAddress,omitempty"`
		GasUsed         uint64 `json:"gasUsed,omitempty"`
		Status          uint64 `json:"status"`
	}

	CallKind string
)

const (
	ElementTypeBinding ElementType = "binding"
	ElementTypeEvent   ElementType = "event"

	CallKindDeploy CallKind = "deploy"
	CallKindCall   CallKind = "call"
)

// NewEntry returns an empty entry.
func NewEntry() *Entry {
	return &Entry{Elements: make(map[string]*Record)}
}

// Get returns the record stored under name, if any.
func (e *Entry) Get(name string) (*Record, bool) {
	if e == nil || e.Elements == nil {
		return nil, false
	}
	record, ok := e.Elements[name]
	return record, ok
}

// Binding returns the binding record stored under name.
func (e *Entry) Binding(name string) (*Record, bool) {
	record, ok := e.Get(name)
	if !ok || record.Type != ElementTypeBinding {
		return nil, false
	}
	return record, true
}

// Clone returns a deep copy through the JSON representation, which is the
// only representation the ledger guarantees to round-trip.
func (e *Entry) Clone() (*Entry, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	clone := NewEntry()
	if err := json.Unmarshal(data, clone); err != nil {
		return nil, err
	}
	if clone.Elements == nil {
		clone.Elements = make(map[string]*Record)
	}
	return clone, nil
}

// Deployed reports whether the record holds a committed, logically deployed address.
func (r *Record) Deployed() bool {
	return r != nil && r.DeployState != nil && r.DeployState.LogicallyDeployed && r.DeployState.Address != ""
}

// LastTransaction returns the most recent transaction record of a binding.
func (r *Record) LastTransaction() (*TransactionRecord, bool) {
	if r == nil || len(r.TransactionRecords) == 0 {
		return nil, false
	}
	return &r.TransactionRecords[len(r.TransactionRecords)-1], true
}

// Pending reports whether the transaction was broadcast without an observed receipt.
func (t *TransactionRecord) Pending() bool {
	return t.Output == nil && t.TxHash != ""
}

// Equal compares two inputs. Argument JSON is compared after compaction since
// the file store re-indents raw messages.
func (c CallInput) Equal(other CallInput) bool {
	if c.Kind != other.Kind || c.Target != other.Target || c.Method != other.Method ||
		c.Value != other.Value || c.From != other.From {
		return false
	}
	return bytes.Equal(CompactJSON(c.Args), CompactJSON(other.Args))
}

// CompactJSON strips insignificant whitespace, returning the input unchanged
// when it is not valid JSON.
func CompactJSON(raw []byte) []byte {
	if len(raw) == 0 {
		return raw
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}
