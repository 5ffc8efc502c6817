package models

import (
	"time"
)

type SessionStatus string

const (
	SessionOpen         SessionStatus = "open"
	SessionPendingCount SessionStatus = "pending_count"
	SessionClosed       SessionStatus = "closed"
)

type CashTransactionKind string

const (
	CashSale   CashTransactionKind = "sale"
	CashRefund CashTransactionKind = "refund"
	CashPayout CashTransactionKind = "payout"
	CashPayIn  CashTransactionKind = "pay_in"
)

// EntryKind maps a drawer transaction to the ledger entry it produces.
func (k CashTransactionKind) EntryKind() EntryKind {
	switch k {
	case CashSale:
		return EntryCashSale
	case CashRefund:
		return EntryCashRefund
	case CashPayout:
		return EntryCashPayout
	default:
		return EntryCashPayIn
	}
}

// Outflow reports whether the transaction takes cash out of the drawer.
func (k CashTransactionKind) Outflow() bool {
	return k == CashRefund || k == CashPayout
}

// Rounded reports whether customer-facing cash rounding applies.
func (k CashTransactionKind) Rounded() bool {
	return k == CashSale || k == CashRefund
}

type CashDrawerSession struct {
	ID               string        `json:"id" db:"id"`
	OrgID            string        `json:"orgId" db:"org_id"`
	DrawerID         string        `json:"drawerId" db:"drawer_id"`
	LocationID       string        `json:"locationId" db:"location_id"`
	OperatorID       string        `json:"operatorId" db:"operator_id"`
	Currency         string        `json:"currency" db:"currency"`
	OpeningFloat     int64         `json:"openingFloat" db:"opening_float"` // in minor units
	RunningTotal     int64         `json:"runningTotal" db:"running_total"`
	ExpectedTotal    *int64        `json:"expectedTotal,omitempty" db:"expected_total"`
	CountedTotal     *int64        `json:"countedTotal,omitempty" db:"counted_total"`
	Variance         *int64        `json:"variance,omitempty" db:"variance"`
	Status           SessionStatus `json:"status" db:"status"`
	OpenedAt         time.Time     `json:"openedAt" db:"opened_at"`
	CloseRequestedAt *time.Time    `json:"closeRequestedAt,omitempty" db:"close_requested_at"`
	ClosedAt         *time.Time    `json:"closedAt,omitempty" db:"closed_at"`
}

type CashCount struct {
	SessionID     string           `json:"sessionId" db:"session_id"`
	Denominations map[string]int64 `json:"denominations" db:"denominations"`
	CountedTotal  int64            `json:"countedTotal" db:"counted_total"`
	ExpectedTotal int64            `json:"expectedTotal" db:"expected_total"`
	Variance      int64            `json:"variance" db:"variance"` // counted - expected
	SubmittedBy   string           `json:"submittedBy" db:"submitted_by"`
	CreatedAt     time.Time        `json:"createdAt" db:"created_at"`
}

// CountResult is the outcome of a drawer count. A non-zero variance is
// recorded, not rejected; VarianceRecorded flags it for review.
type CountResult struct {
	Session          *CashDrawerSession `json:"session"`
	Count            CashCount          `json:"count"`
	VarianceRecorded bool               `json:"varianceRecorded"`
}

// CashTransactionResult reports what the drawer recorded for one
// transaction. Settled differs from Requested when cash rounding applied.
type CashTransactionResult struct {
	Session   *CashDrawerSession  `json:"session"`
	Kind      CashTransactionKind `json:"kind"`
	Requested int64               `json:"requested"`
	Settled   int64               `json:"settled"`
	EntryID   int64               `json:"entryId"`
}

// ZReport is the end-of-shift summary of a drawer session.
type ZReport struct {
	SessionID        string              `json:"sessionId"`
	DrawerID         string              `json:"drawerId"`
	LocationID       string              `json:"locationId"`
	OperatorID       string              `json:"operatorId"`
	Currency         string              `json:"currency"`
	Status           SessionStatus       `json:"status"`
	OpeningFloat     int64               `json:"openingFloat"`
	Totals           map[EntryKind]int64 `json:"totals"`
	TransactionCount int                 `json:"transactionCount"`
	RunningTotal     int64               `json:"runningTotal"`
	ExpectedTotal    *int64              `json:"expectedTotal,omitempty"`
	CountedTotal     *int64              `json:"countedTotal,omitempty"`
	Variance         *int64              `json:"variance,omitempty"`
	OpenedAt         time.Time           `json:"openedAt"`
	ClosedAt         *time.Time          `json:"closedAt,omitempty"`
}

type OpenDrawerRequest struct {
	LocationID   string `json:"locationId" validate:"required,max=64"`
	OperatorID   string `json:"operatorId" validate:"required,max=64"`
	OpeningFloat string `json:"openingFloat" validate:"required,numeric"`
	Currency     string `json:"currency" validate:"required,len=3"`
}

type CashTransactionRequest struct {
	Kind      CashTransactionKind `json:"kind" validate:"required,oneof=sale refund payout pay_in"`
	Amount    string              `json:"amount" validate:"required,numeric"`
	Reference string              `json:"reference" validate:"max=120"`
}

type SubmitCountRequest struct {
	Denominations map[string]int64 `json:"denominations" validate:"required,min=1,dive,keys,numeric,endkeys,gte=0"`
}
