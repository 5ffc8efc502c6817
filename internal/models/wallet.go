package models

import (
	"time"
)

// Wallet holds a customer's prepaid money and credit lots. Its balance is a
// projection of ledger entries and is never written directly.
type Wallet struct {
	ID         string    `json:"id" db:"id"`
	OrgID      string    `json:"orgId" db:"org_id"`
	CustomerID string    `json:"customerId" db:"customer_id"`
	Currency   string    `json:"currency" db:"currency"`
	Balance    int64     `json:"balance" db:"balance"` // in minor units
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
}

type CreditLot struct {
	ID                string     `json:"id" db:"id"`
	OrgID             string     `json:"orgId" db:"org_id"`
	WalletID          string     `json:"walletId" db:"wallet_id"`
	CreditType        string     `json:"creditType" db:"credit_type"`
	QuantityInitial   int64      `json:"quantityInitial" db:"quantity_initial"`
	QuantityRemaining int64      `json:"quantityRemaining" db:"quantity_remaining"`
	ExpiresAt         *time.Time `json:"expiresAt,omitempty" db:"expires_at"`
	Active            bool       `json:"active" db:"active"`
	SourceRef         string     `json:"sourceRef,omitempty" db:"source_ref"`
	CreatedAt         time.Time  `json:"createdAt" db:"created_at"`
	DeactivatedAt     *time.Time `json:"deactivatedAt,omitempty" db:"deactivated_at"`
}

// Expired reports whether the lot can no longer be consumed at now.
func (l *CreditLot) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && !l.ExpiresAt.After(now)
}

// LotDebit is the part of a consumption taken from one lot.
type LotDebit struct {
	LotID       string `json:"lotId"`
	Quantity    int64  `json:"quantity"`
	Remaining   int64  `json:"remaining"`
	Deactivated bool   `json:"deactivated"`
}

type ConsumeResult struct {
	WalletID     string     `json:"walletId"`
	CreditType   string     `json:"creditType"`
	Quantity     int64      `json:"quantity"`
	Debits       []LotDebit `json:"debits"`
	BalanceAfter int64      `json:"balanceAfter"`
	EntryID      int64      `json:"entryId"`
}

type CreateWalletRequest struct {
	Currency string `json:"currency" validate:"required,len=3"`
}

type GrantCreditsRequest struct {
	Quantity      int64      `json:"quantity" validate:"required,gt=0"`
	CreditType    string     `json:"creditType" validate:"required,max=40"`
	ExpiresAt     *time.Time `json:"expiresAt"`
	Complimentary bool       `json:"complimentary"`
	Reference     *Reference `json:"reference"`
}

type ConsumeCreditsRequest struct {
	Quantity   int64     `json:"quantity" validate:"required,gt=0"`
	CreditType string    `json:"creditType" validate:"required,max=40"`
	Reference  Reference `json:"reference" validate:"required"`
}

type WalletMovementRequest struct {
	Amount    string    `json:"amount" validate:"required,numeric"`
	Reference Reference `json:"reference" validate:"required"`
}
