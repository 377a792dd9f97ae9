package model

import "time"

type LedgerEntryKind string

const (
	LedgerEntryGrant  LedgerEntryKind = "grant"
	LedgerEntryDebit  LedgerEntryKind = "debit"
	LedgerEntryRefund LedgerEntryKind = "refund"
)

// Signed returns the entry's effect on the account balance. Amounts are
// stored positive; the kind decides the sign.
func (e *LedgerEntry) Signed() int64 {
	if e.Kind == LedgerEntryDebit {
		return -e.Amount
	}
	return e.Amount
}

// LedgerEntry is one immutable row in the credit ledger. A refund references
// the debit it compensates via DebitID; the original debit is never mutated,
// so the audit trail shows both the attempt and its reversal.
type LedgerEntry struct {
	ID        string
	AccountID string
	Kind      LedgerEntryKind
	Amount    int64
	Reason    string
	JobID     string
	DebitID   string
	CreatedAt time.Time
}

// DebitReceipt is handed back by Reserve and later presented to Settle.
// ID is the id of the debit ledger entry.
type DebitReceipt struct {
	ID        string
	AccountID string
	Amount    int64
	JobID     string
}
