package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction (voucher) types.
const (
	TxnTypePayment  = "payment"
	TxnTypeReceipt  = "receipt"
	TxnTypeJournal  = "journal"
	TxnTypeContra   = "contra"
	TxnTypeSales    = "sales"
	TxnTypePurchase = "purchase"
)

// Transaction is a single posted voucher referencing a debit and a credit
// ledger. Deleted rows stay in storage with the soft-delete fields set.
type Transaction struct {
	ID             string          `json:"id" db:"id"`
	VoucherNo      string          `json:"voucher_no" db:"voucher_no"`
	Date           time.Time       `json:"date" db:"date"`
	DebitLedgerID  string          `json:"debit_ledger_id" db:"debit_ledger_id"`
	CreditLedgerID string          `json:"credit_ledger_id" db:"credit_ledger_id"`
	Amount         decimal.Decimal `json:"amount" db:"amount"`
	Narration      string          `json:"narration,omitempty" db:"narration"`
	Type           string          `json:"type" db:"type"`
	CreatedBy      string          `json:"created_by" db:"created_by"`
	IsDeleted      bool            `json:"is_deleted" db:"is_deleted"`
	DeletedAt      *time.Time      `json:"deleted_at,omitempty" db:"deleted_at"`
	DeletedBy      *string         `json:"deleted_by,omitempty" db:"deleted_by"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`

	// Denormalized on the read path.
	DebitLedgerName  string `json:"debit_ledger_name,omitempty" db:"-"`
	CreditLedgerName string `json:"credit_ledger_name,omitempty" db:"-"`
}

// TxnTypeStats aggregates live transactions of one voucher type.
type TxnTypeStats struct {
	Type        string          `json:"type"`
	Count       int             `json:"count"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// TxnStats is the /transactions/stats payload.
type TxnStats struct {
	Overall struct {
		Count       int             `json:"count"`
		TotalAmount decimal.Decimal `json:"total_amount"`
		AvgAmount   decimal.Decimal `json:"avg_amount"`
		MinAmount   decimal.Decimal `json:"min_amount"`
		MaxAmount   decimal.Decimal `json:"max_amount"`
	} `json:"overall"`
	ByType []TxnTypeStats `json:"by_type"`
}
