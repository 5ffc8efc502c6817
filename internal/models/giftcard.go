package models

import (
	"time"
)

type GiftCard struct {
	ID                   string     `json:"id" db:"id"`
	OrgID                string     `json:"orgId" db:"org_id"`
	Code                 string     `json:"code" db:"code"`
	InitialAmount        int64      `json:"initialAmount" db:"initial_amount"` // in minor units
	Balance              int64      `json:"balance" db:"balance"`
	Currency             string     `json:"currency" db:"currency"`
	ExpiresAt            *time.Time `json:"expiresAt,omitempty" db:"expires_at"`
	Active               bool       `json:"active" db:"active"`
	Promotional          bool       `json:"promotional" db:"promotional"`
	BreakageAmount       int64      `json:"breakageAmount,omitempty" db:"breakage_amount"`
	BreakageRecognizedAt *time.Time `json:"breakageRecognizedAt,omitempty" db:"breakage_recognized_at"`
	CreatedAt            time.Time  `json:"createdAt" db:"created_at"`
}

// Expired reports whether the card is past its expiry at now.
func (g *GiftCard) Expired(now time.Time) bool {
	return g.ExpiresAt != nil && !g.ExpiresAt.After(now)
}

type IssueGiftCardRequest struct {
	Amount      string     `json:"amount" validate:"required,numeric"`
	Currency    string     `json:"currency" validate:"required,len=3"`
	ExpiresAt   *time.Time `json:"expiresAt"`
	Promotional bool       `json:"promotional"`
}

type RedeemGiftCardRequest struct {
	Amount   string `json:"amount" validate:"required,numeric"`
	OrderRef string `json:"orderRef" validate:"required,max=120"`
}

// BreakageResult summarizes one sweep over expired prepaid balances.
type BreakageResult struct {
	OrgID            string           `json:"orgId"`
	CardsProcessed   int              `json:"cardsProcessed"`
	AmountByCurrency map[string]int64 `json:"amountByCurrency"`
	LotsExpired      int              `json:"lotsExpired"`
	CreditsExpired   int64            `json:"creditsExpired"`
}
