package model

import "time"

type LedgerEntryType string

const (
	LedgerDebit  LedgerEntryType = "debit"
	LedgerRefund LedgerEntryType = "refund"
	LedgerGrant  LedgerEntryType = "grant"
	LedgerReset  LedgerEntryType = "reset"
)

// LedgerEntry is an append-only record of a single balance change.
type LedgerEntry struct {
	ID           int64           `json:"id"`
	UserID       int64           `json:"userId"`
	PolishID     *int64          `json:"polishId"`
	EntryType    LedgerEntryType `json:"entryType"`
	Amount       int             `json:"amount"`
	BalanceAfter int             `json:"balanceAfter"`
	CreatedAt    time.Time       `json:"createdAt"`
}
