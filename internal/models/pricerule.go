package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type RuleKind string

const (
	RuleCoupon         RuleKind = "coupon"
	RuleAutoDiscount   RuleKind = "auto_discount"
	RuleVolumeDiscount RuleKind = "volume_discount"
)

var hundred = decimal.NewFromInt(100)

// DiscountValue is either a percentage of the order subtotal or a fixed
// amount in minor units. Exactly one of the two is set.
type DiscountValue struct {
	Percent *decimal.Decimal `json:"percent,omitempty"`
	Amount  int64            `json:"amount,omitempty"`
}

func PercentOff(percent decimal.Decimal) DiscountValue {
	return DiscountValue{Percent: &percent}
}

func AmountOff(minor int64) DiscountValue {
	return DiscountValue{Amount: minor}
}

func (v DiscountValue) Validate() error {
	switch {
	case v.Percent != nil && v.Amount != 0:
		return errors.New("discount must be a percentage or an amount, not both")
	case v.Percent != nil:
		if !v.Percent.IsPositive() || v.Percent.GreaterThan(hundred) {
			return errors.New("discount percentage must be in (0, 100]")
		}
	case v.Amount <= 0:
		return errors.New("discount amount must be positive")
	}
	return nil
}

// Apply computes the discount against subtotal. Percentages round half-up to
// the minor unit. The result never exceeds subtotal.
func (v DiscountValue) Apply(subtotal int64) int64 {
	var amount int64
	if v.Percent != nil {
		amount = decimal.NewFromInt(subtotal).Mul(*v.Percent).Div(hundred).Round(0).IntPart()
	} else {
		amount = v.Amount
	}
	if amount > subtotal {
		amount = subtotal
	}
	if amount < 0 {
		amount = 0
	}
	return amount
}

func (v DiscountValue) Describe(currency string) string {
	if v.Percent != nil {
		return v.Percent.String() + "% off"
	}
	return FormatAmount(v.Amount, currency) + " " + currency + " off"
}

// RuleTerms is the closed set of price rule payloads. Each rule kind has
// exactly one terms type; the unexported marker keeps the set closed.
type RuleTerms interface {
	Kind() RuleKind
	Discount() DiscountValue
	Validate() error
	isRuleTerms()
}

type CouponTerms struct {
	Code  string        `json:"code"`
	Value DiscountValue `json:"value"`
}

type AutoDiscountTerms struct {
	MinSubtotal int64         `json:"minSubtotal"`
	Value       DiscountValue `json:"value"`
}

type VolumeDiscountTerms struct {
	MinQuantity int64         `json:"minQuantity"`
	Value       DiscountValue `json:"value"`
}

func (CouponTerms) Kind() RuleKind         { return RuleCoupon }
func (AutoDiscountTerms) Kind() RuleKind   { return RuleAutoDiscount }
func (VolumeDiscountTerms) Kind() RuleKind { return RuleVolumeDiscount }

func (t CouponTerms) Discount() DiscountValue         { return t.Value }
func (t AutoDiscountTerms) Discount() DiscountValue   { return t.Value }
func (t VolumeDiscountTerms) Discount() DiscountValue { return t.Value }

func (CouponTerms) isRuleTerms()         {}
func (AutoDiscountTerms) isRuleTerms()   {}
func (VolumeDiscountTerms) isRuleTerms() {}

func (t CouponTerms) Validate() error {
	if t.Code == "" {
		return errors.New("coupon code is required")
	}
	return t.Value.Validate()
}

func (t AutoDiscountTerms) Validate() error {
	if t.MinSubtotal < 0 {
		return errors.New("minimum subtotal cannot be negative")
	}
	return t.Value.Validate()
}

func (t VolumeDiscountTerms) Validate() error {
	if t.MinQuantity <= 0 {
		return errors.New("minimum quantity must be positive")
	}
	return t.Value.Validate()
}

// DecodeTerms restores the terms of a stored rule from its kind and JSON payload.
func DecodeTerms(kind RuleKind, raw []byte) (RuleTerms, error) {
	var (
		terms RuleTerms
		err   error
	)
	switch kind {
	case RuleCoupon:
		var t CouponTerms
		err = json.Unmarshal(raw, &t)
		terms = t
	case RuleAutoDiscount:
		var t AutoDiscountTerms
		err = json.Unmarshal(raw, &t)
		terms = t
	case RuleVolumeDiscount:
		var t VolumeDiscountTerms
		err = json.Unmarshal(raw, &t)
		terms = t
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRuleKind, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s terms: %w", kind, err)
	}
	return terms, nil
}

// PriceRule is a discount rule scoped to an organization.
type PriceRule struct {
	ID         string     `json:"id" db:"id"`
	OrgID      string     `json:"orgId" db:"org_id"`
	Name       string     `json:"name" db:"name"`
	Currency   string     `json:"currency" db:"currency"`
	Terms      RuleTerms  `json:"-" db:"terms"`
	Active     bool       `json:"active" db:"active"`
	StartsAt   *time.Time `json:"startsAt,omitempty" db:"starts_at"`
	EndsAt     *time.Time `json:"endsAt,omitempty" db:"ends_at"`
	UsageLimit *int64     `json:"usageLimit,omitempty" db:"usage_limit"`
	UsageCount int64      `json:"usageCount" db:"usage_count"`
	CreatedAt  time.Time  `json:"createdAt" db:"created_at"`
}

// AppliesTo reports whether the rule's amounts are denominated in currency.
func (r *PriceRule) AppliesTo(currency string) bool {
	return strings.EqualFold(r.Currency, currency)
}

func (r *PriceRule) Kind() RuleKind {
	return r.Terms.Kind()
}

// InWindow reports whether now falls inside [StartsAt, EndsAt).
func (r *PriceRule) InWindow(now time.Time) bool {
	if r.StartsAt != nil && now.Before(*r.StartsAt) {
		return false
	}
	if r.EndsAt != nil && !now.Before(*r.EndsAt) {
		return false
	}
	return true
}

func (r *PriceRule) Exhausted() bool {
	return r.UsageLimit != nil && r.UsageCount >= *r.UsageLimit
}

func (r PriceRule) MarshalJSON() ([]byte, error) {
	type alias PriceRule
	var kind RuleKind
	if r.Terms != nil {
		kind = r.Terms.Kind()
	}
	return json.Marshal(struct {
		alias
		Kind  RuleKind  `json:"kind"`
		Terms RuleTerms `json:"terms"`
	}{alias(r), kind, r.Terms})
}

type OrderItem struct {
	SKU       string `json:"sku" validate:"required"`
	Quantity  int64  `json:"quantity" validate:"required,gt=0"`
	UnitPrice int64  `json:"unitPrice" validate:"gte=0"` // in minor units
}

type Order struct {
	ID         string      `json:"id"`
	CustomerID string      `json:"customerId"`
	Currency   string      `json:"currency"`
	Items      []OrderItem `json:"items"`
}

func (o *Order) Subtotal() int64 {
	var total int64
	for _, item := range o.Items {
		total += item.Quantity * item.UnitPrice
	}
	return total
}

func (o *Order) TotalQuantity() int64 {
	var total int64
	for _, item := range o.Items {
		total += item.Quantity
	}
	return total
}

// Discount is the effect of one rule on one order.
type Discount struct {
	RuleID      string   `json:"ruleId" db:"rule_id"`
	RuleName    string   `json:"ruleName" db:"rule_name"`
	Kind        RuleKind `json:"kind" db:"kind"`
	Amount      int64    `json:"amount" db:"amount"`
	Description string   `json:"description" db:"description"`
}

type Evaluation struct {
	OrderID       string     `json:"orderId"`
	Currency      string     `json:"currency"`
	Subtotal      int64      `json:"subtotal"`
	Discounts     []Discount `json:"discounts"`
	TotalDiscount int64      `json:"totalDiscount"`
	Total         int64      `json:"total"`
}

type EvaluateDiscountsRequest struct {
	CustomerID string      `json:"customerId"`
	Currency   string      `json:"currency" validate:"required,len=3"`
	Items      []OrderItem `json:"items" validate:"required,min=1,dive"`
	CouponCode string      `json:"couponCode" validate:"max=64"`
}

// CommitDiscountsRequest repeats the priced order. Discounts, when given, are
// the amounts the customer was shown; the commit fails if they changed.
type CommitDiscountsRequest struct {
	EvaluateDiscountsRequest
	Discounts []Discount `json:"discounts" validate:"dive"`
}

// CreatePriceRuleRequest carries the kind-specific fields flat; only those
// relevant to Kind are read.
type CreatePriceRuleRequest struct {
	Name        string     `json:"name" validate:"required,max=120"`
	Kind        RuleKind   `json:"kind" validate:"required,oneof=coupon auto_discount volume_discount"`
	Code        string     `json:"code" validate:"required_if=Kind coupon,max=64"`
	MinSubtotal string     `json:"minSubtotal"`
	MinQuantity int64      `json:"minQuantity" validate:"required_if=Kind volume_discount"`
	Percent     string     `json:"percent" validate:"required_without=Amount"`
	Amount      string     `json:"amount" validate:"required_without=Percent"`
	Currency    string     `json:"currency" validate:"required,len=3"`
	StartsAt    *time.Time `json:"startsAt"`
	EndsAt      *time.Time `json:"endsAt"`
	UsageLimit  *int64     `json:"usageLimit" validate:"omitempty,gt=0"`
}
