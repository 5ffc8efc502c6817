package models

import (
	"strings"
	"time"
)

type AccountType string

const (
	AccountWallet     AccountType = "wallet"
	AccountGiftCard   AccountType = "gift_card"
	AccountCashDrawer AccountType = "cash_drawer"
	AccountBank       AccountType = "bank_account"
)

// AllowsNegative reports whether balances of this account type may go below zero.
func (t AccountType) AllowsNegative() bool {
	return t == AccountBank
}

// AccountRef identifies a balance-carrying account in the ledger.
type AccountRef struct {
	Type AccountType `json:"type"`
	ID   string      `json:"id"`
}

func WalletAccount(id string) AccountRef     { return AccountRef{Type: AccountWallet, ID: id} }
func GiftCardAccount(id string) AccountRef   { return AccountRef{Type: AccountGiftCard, ID: id} }
func CashDrawerAccount(id string) AccountRef { return AccountRef{Type: AccountCashDrawer, ID: id} }
func BankAccount(id string) AccountRef       { return AccountRef{Type: AccountBank, ID: id} }

type EntryKind string

const (
	EntryPurchase     EntryKind = "purchase"
	EntryRedemption   EntryKind = "redemption"
	EntryRefund       EntryKind = "refund"
	EntryExpiry       EntryKind = "expiry"
	EntryTransfer     EntryKind = "transfer"
	EntryAdjustment   EntryKind = "adjustment"
	EntryGift         EntryKind = "gift"
	EntryOpeningFloat EntryKind = "opening_float"
	EntryCashSale     EntryKind = "cash_sale"
	EntryCashRefund   EntryKind = "cash_refund"
	EntryCashPayout   EntryKind = "cash_payout"
	EntryCashPayIn    EntryKind = "cash_pay_in"
)

const creditUnitPrefix = "credit:"

// CreditUnit is the ledger unit under which credits of a type are tracked.
// Monetary balances use the currency code as their unit.
func CreditUnit(creditType string) string {
	return creditUnitPrefix + creditType
}

// IsCreditUnit reports whether a ledger unit holds credits rather than money.
func IsCreditUnit(unit string) bool {
	return strings.HasPrefix(unit, creditUnitPrefix)
}

// LedgerEntry is an immutable movement on one account in one unit.
type LedgerEntry struct {
	ID            int64       `json:"id" db:"id"`
	OrgID         string      `json:"orgId" db:"org_id"`
	AccountType   AccountType `json:"accountType" db:"account_type"`
	AccountID     string      `json:"accountId" db:"account_id"`
	Unit          string      `json:"unit" db:"unit"` // currency code or credit:<type>
	Kind          EntryKind   `json:"kind" db:"kind"`
	Delta         int64       `json:"delta" db:"delta"` // minor units or credit quantity
	BalanceBefore int64       `json:"balanceBefore" db:"balance_before"`
	BalanceAfter  int64       `json:"balanceAfter" db:"balance_after"`
	ReferenceType string      `json:"referenceType,omitempty" db:"reference_type"`
	ReferenceID   string      `json:"referenceId,omitempty" db:"reference_id"`
	Actor         string      `json:"actor,omitempty" db:"actor"`
	CreatedAt     time.Time   `json:"createdAt" db:"created_at"`
}

func (e *LedgerEntry) Account() AccountRef {
	return AccountRef{Type: e.AccountType, ID: e.AccountID}
}

// Reference points at the entity that caused a ledger movement.
type Reference struct {
	Type string `json:"type" validate:"required,max=40"`
	ID   string `json:"id" validate:"required,max=120"`
}
