package ledger

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/core/types"
)

// ErrCallDivergence is returned when the next attempted call differs from the
// call recorded at the same position on a previous run.
var ErrCallDivergence = errors.New("call diverges from the recorded history")

// CallLedger replays the append-only call log one event keeps for one
// dependent binding. The cursor is the position of the next attempted call;
// attempts are matched against recorded inputs strictly by position.
type CallLedger struct {
	ledger    *Ledger
	event     string
	dependent string
	records   []TransactionRecord
	cursor    int
}

// Calls returns the call ledger of event for dependent, positioned at the start.
func (l *Ledger) Calls(event, dependent string) *CallLedger {
	return &CallLedger{
		ledger:    l,
		event:     event,
		dependent: dependent,
		records:   l.EventTransactions(event, dependent),
	}
}

// Cursor returns the position of the next call.
func (c *CallLedger) Cursor() int {
	return c.cursor
}

// Len returns the number of recorded calls.
func (c *CallLedger) Len() int {
	return len(c.records)
}

// Next matches input against the record at the cursor.
//
// It returns the record and true when the call already completed and can be
// skipped; the cursor advances past it. It returns the record and false when
// the call was broadcast but never confirmed, leaving the cursor on it so the
// caller can Complete it once the receipt is found. It returns nil and false
// when nothing is recorded at the cursor or the recorded call reverted; Begin
// then replaces the record. A record with a different input yields
// ErrCallDivergence.
func (c *CallLedger) Next(input CallInput) (*TransactionRecord, bool, error) {
	if c.cursor >= len(c.records) {
		return nil, false, nil
	}

	recorded := c.records[c.cursor]
	if !recorded.Input.Equal(input) {
		return &recorded, false, fmt.Errorf("%w: call %d of '%s' against '%s' was %s.%s, now %s.%s",
			ErrCallDivergence, c.cursor, c.event, c.dependent,
			recorded.Input.Target, recorded.Input.Method, input.Target, input.Method)
	}
	if recorded.Output == nil {
		return &recorded, false, nil
	}
	if recorded.Output.Status != types.ReceiptStatusSuccessful {
		return nil, false, nil
	}

	c.cursor++
	return &recorded, true, nil
}

// Truncate discards the recorded calls from the cursor on, so the divergent
// call and everything after it execute fresh.
func (c *CallLedger) Truncate() {
	if c.cursor >= len(c.records) {
		return
	}
	c.ledger.TruncateEventTransactions(c.event, c.dependent, c.cursor)
	c.records = c.records[:c.cursor]
}

// Begin records a broadcast call at the cursor, replacing any stale tail.
func (c *CallLedger) Begin(input CallInput, txHash string) {
	c.Truncate()
	record := TransactionRecord{Input: input, TxHash: txHash}
	c.ledger.AppendEventTransaction(c.event, c.dependent, record)
	c.records = append(c.records, record)
}

// Complete stores the receipt of the call at the cursor and advances.
func (c *CallLedger) Complete(output CallOutput) error {
	if c.cursor >= len(c.records) {
		return fmt.Errorf("no pending call at position %d of '%s' against '%s'", c.cursor, c.event, c.dependent)
	}
	if err := c.ledger.CompleteEventTransaction(c.event, c.dependent, c.cursor, output); err != nil {
		return err
	}
	c.records[c.cursor].Output = &output
	c.cursor++
	return nil
}
