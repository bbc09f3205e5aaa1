package generic

import (
	"context"
	"time"
)

// =============================================================================
// ACTIVITY LOG - Append-only audit trail of balance-affecting operations
// =============================================================================

// Action names a balance-affecting operation on a MonthlyLedger.
type Action string

const (
	ActionOpen     Action = "open"
	ActionLift     Action = "lift"
	ActionArrange  Action = "arrange"
	ActionEdit     Action = "edit"
	ActionComplete Action = "complete"
	ActionLock     Action = "lock"
	ActionUnlock   Action = "unlock"
	ActionReset    Action = "reset"
	ActionSync     Action = "sync"
)

// ActivityEntry is never mutated or deleted once appended.
type ActivityEntry struct {
	ID        EntryID
	LedgerID  LedgerID
	Action    Action
	Amounts   CategoryAmounts
	Notes     string
	ActorID   string
	Timestamp time.Time
}

// ActivityLog stores activity entries. Append-only: there is no update or
// delete method.
type ActivityLog interface {
	AppendActivity(ctx context.Context, entry ActivityEntry) error
	// Activity returns a ledger's entries in append order.
	Activity(ctx context.Context, ledgerID LedgerID) ([]ActivityEntry, error)
}
