package models

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientCredits         = errors.New("insufficient credits")
	ErrInsufficientGiftCardBalance = errors.New("insufficient gift card balance")
	ErrInactiveGiftCard            = errors.New("gift card is inactive")
	ErrGiftCardNotFound            = errors.New("gift card not found")
	ErrGiftCardNotExpired          = errors.New("gift card has not expired")
	ErrRefundExceedsRedeemed       = errors.New("refund exceeds redeemed amount")
	ErrCodeSpaceExhausted          = errors.New("could not generate a unique gift card code")
	ErrConcurrentModification      = errors.New("concurrent modification")
	ErrNegativeBalance             = errors.New("balance cannot go negative")
	ErrBalanceDrift                = errors.New("balance projection differs from ledger")
	ErrWalletNotFound              = errors.New("wallet not found")
	ErrCurrencyMismatch            = errors.New("currency mismatch")
	ErrInsufficientWalletBalance   = errors.New("insufficient wallet balance")
	ErrDrawerAlreadyOpen           = errors.New("drawer already open for location")
	ErrSessionNotFound             = errors.New("cash drawer session not found")
	ErrSessionClosed               = errors.New("cash drawer session is closed")
	ErrSessionPendingCount         = errors.New("cash drawer session is awaiting count")
	ErrSessionNotPendingCount      = errors.New("cash drawer session must be closed before counting")
	ErrInvalidDenomination         = errors.New("invalid denomination")
	ErrRuleUsageExceeded           = errors.New("price rule usage limit reached")
	ErrRuleNotFound                = errors.New("price rule not found")
	ErrInvalidPriceRule            = errors.New("invalid price rule")
	ErrCouponExists                = errors.New("coupon code already exists")
	ErrCouponNotFound              = errors.New("coupon code not recognised")
	ErrDiscountMismatch            = errors.New("discounts no longer match the active price rules")
	ErrUnknownRuleKind             = errors.New("unknown price rule kind")
	ErrUnmatchedStatementLine      = errors.New("statement line is unmatched")
	ErrStatementLineNotFound       = errors.New("statement line not found")
	ErrMatchTargetNotFound         = errors.New("match target not found")
	ErrTargetAlreadyMatched        = errors.New("match target is linked to another statement line")
	ErrUnsupportedStatementFormat  = errors.New("unsupported statement format")
	ErrInvalidExpiry               = errors.New("expiry must be in the future")
	ErrInvalidAmount               = errors.New("invalid amount")
	ErrRateLimited                 = errors.New("too many attempts")
)

// IsRetryable reports whether an operation failed only because another
// writer got there first and may succeed when retried with fresh state.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// InsufficientCreditsError carries the shortfall of a rejected consumption.
type InsufficientCreditsError struct {
	WalletID   string
	CreditType string
	Requested  int64
	Available  int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient %s credits in wallet %s: requested %d, available %d",
		e.CreditType, e.WalletID, e.Requested, e.Available)
}

func (e *InsufficientCreditsError) Unwrap() error {
	return ErrInsufficientCredits
}

// InsufficientGiftCardBalanceError carries the balance that blocked a redemption.
type InsufficientGiftCardBalanceError struct {
	Code      string
	Requested int64
	Balance   int64
	Currency  string
}

func (e *InsufficientGiftCardBalanceError) Error() string {
	return fmt.Sprintf("gift card %s has %s %s, cannot redeem %s",
		e.Code, FormatAmount(e.Balance, e.Currency), e.Currency, FormatAmount(e.Requested, e.Currency))
}

func (e *InsufficientGiftCardBalanceError) Unwrap() error {
	return ErrInsufficientGiftCardBalance
}

// BalanceDriftError reports a projection that no longer equals the sum of its entries.
type BalanceDriftError struct {
	Account   AccountRef
	Unit      string
	Projected int64
	Ledger    int64
}

func (e *BalanceDriftError) Error() string {
	return fmt.Sprintf("%s %s/%s: projected balance %d, ledger sum %d",
		e.Account.Type, e.Account.ID, e.Unit, e.Projected, e.Ledger)
}

func (e *BalanceDriftError) Unwrap() error {
	return ErrBalanceDrift
}
