package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerType classifies a ledger bucket.
const (
	LedgerTypeAsset     = "asset"
	LedgerTypeLiability = "liability"
	LedgerTypeIncome    = "income"
	LedgerTypeExpense   = "expense"
	LedgerTypeEquity    = "equity"
)

// Ledger is a named account bucket with a running balance. Balances are
// NUMERIC(14,2) in storage; only transaction postings mutate them.
type Ledger struct {
	ID          string          `json:"id" db:"id"`
	Name        string          `json:"name" db:"name"`
	Type        string          `json:"type" db:"type"`
	Balance     decimal.Decimal `json:"balance" db:"balance"`
	Description string          `json:"description,omitempty" db:"description"`
	CreatedBy   string          `json:"created_by" db:"created_by"`
	Active      bool            `json:"active" db:"active"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// LedgerTypeSummary aggregates active ledgers of one type.
type LedgerTypeSummary struct {
	Type         string          `json:"type"`
	Count        int             `json:"count"`
	TotalBalance decimal.Decimal `json:"total_balance"`
}

// LedgerSummary is the /ledgers/summary payload.
type LedgerSummary struct {
	ByType       []LedgerTypeSummary `json:"by_type"`
	TotalBalance decimal.Decimal     `json:"total_balance"`
}
