package domain

import "time"

// EntryKind enumerates balance-affecting ledger events.
type EntryKind string

const (
	EntryKindPurchase        EntryKind = "PURCHASE"
	EntryKindGenerationDebit EntryKind = "GENERATION_DEBIT"
	EntryKindRefund          EntryKind = "REFUND"
)

// LedgerEntry is an immutable, signed credit movement. Negative amounts are debits.
type LedgerEntry struct {
	ID                string
	OwnerID           string
	Amount            int64
	Kind              EntryKind
	ExternalReference *string
	CreatedAt         time.Time
}
