package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/studiobook/backend/internal/audit"
	"github.com/studiobook/backend/internal/database"
	"github.com/studiobook/backend/internal/models"
)

const couponCodeConstraint = "price_rules_coupon_code"

// EvaluateRules computes the discounts rules grant to order. Every discount
// is taken from the original subtotal, so the result does not depend on the
// order of rules. The combined discount never exceeds the subtotal.
func EvaluateRules(rules []models.PriceRule, order models.Order, couponCode string, now time.Time) (*models.Evaluation, error) {
	code := strings.TrimSpace(couponCode)
	subtotal := order.Subtotal()
	quantity := order.TotalQuantity()
	couponFound := code == ""

	discounts := []models.Discount{}
	for i := range rules {
		rule := &rules[i]
		if !rule.Active || rule.Terms == nil || !rule.InWindow(now) || !rule.AppliesTo(order.Currency) {
			continue
		}

		switch terms := rule.Terms.(type) {
		case models.CouponTerms:
			if code == "" || terms.Code != code {
				continue
			}
			couponFound = true
			if rule.Exhausted() {
				return nil, fmt.Errorf("%w: coupon %s", models.ErrRuleUsageExceeded, code)
			}
		case models.AutoDiscountTerms:
			if rule.Exhausted() || subtotal < terms.MinSubtotal {
				continue
			}
		case models.VolumeDiscountTerms:
			if rule.Exhausted() || quantity < terms.MinQuantity {
				continue
			}
		default:
			return nil, fmt.Errorf("%w: %T", models.ErrUnknownRuleKind, terms)
		}

		value := rule.Terms.Discount()
		amount := value.Apply(subtotal)
		if amount == 0 {
			continue
		}
		discounts = append(discounts, models.Discount{
			RuleID:      rule.ID,
			RuleName:    rule.Name,
			Kind:        rule.Kind(),
			Amount:      amount,
			Description: rule.Name + ": " + value.Describe(order.Currency),
		})
	}

	if !couponFound {
		return nil, fmt.Errorf("%w: %s", models.ErrCouponNotFound, code)
	}

	sort.Slice(discounts, func(i, j int) bool { return discounts[i].RuleID < discounts[j].RuleID })

	var total int64
	applied := discounts[:0]
	for _, d := range discounts {
		if total+d.Amount > subtotal {
			d.Amount = subtotal - total
		}
		if d.Amount == 0 {
			continue
		}
		total += d.Amount
		applied = append(applied, d)
	}

	return &models.Evaluation{
		OrderID:       order.ID,
		Currency:      order.Currency,
		Subtotal:      subtotal,
		Discounts:     applied,
		TotalDiscount: total,
		Total:         subtotal - total,
	}, nil
}

// BuildRule turns a creation request into a validated rule.
func BuildRule(orgID string, req models.CreatePriceRuleRequest) (*models.PriceRule, error) {
	currency := strings.ToUpper(req.Currency)

	var value models.DiscountValue
	switch {
	case req.Percent != "" && req.Amount != "":
		return nil, fmt.Errorf("%w: set either percent or amount", models.ErrInvalidPriceRule)
	case req.Percent != "":
		pct, err := decimal.NewFromString(req.Percent)
		if err != nil {
			return nil, fmt.Errorf("%w: percent %q", models.ErrInvalidPriceRule, req.Percent)
		}
		value = models.PercentOff(pct)
	default:
		amount, err := models.ParseAmount(req.Amount, currency)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrInvalidPriceRule, err)
		}
		value = models.AmountOff(amount)
	}

	var terms models.RuleTerms
	switch req.Kind {
	case models.RuleCoupon:
		terms = models.CouponTerms{Code: strings.TrimSpace(req.Code), Value: value}
	case models.RuleAutoDiscount:
		var threshold int64
		if req.MinSubtotal != "" {
			var err error
			if threshold, err = models.ParseAmount(req.MinSubtotal, currency); err != nil {
				return nil, fmt.Errorf("%w: %v", models.ErrInvalidPriceRule, err)
			}
		}
		terms = models.AutoDiscountTerms{MinSubtotal: threshold, Value: value}
	case models.RuleVolumeDiscount:
		terms = models.VolumeDiscountTerms{MinQuantity: req.MinQuantity, Value: value}
	default:
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownRuleKind, req.Kind)
	}
	if err := terms.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidPriceRule, err)
	}
	if req.StartsAt != nil && req.EndsAt != nil && !req.EndsAt.After(*req.StartsAt) {
		return nil, fmt.Errorf("%w: window ends before it starts", models.ErrInvalidPriceRule)
	}

	return &models.PriceRule{
		ID:         uuid.NewString(),
		OrgID:      orgID,
		Name:       req.Name,
		Currency:   currency,
		Terms:      terms,
		Active:     true,
		StartsAt:   req.StartsAt,
		EndsAt:     req.EndsAt,
		UsageLimit: req.UsageLimit,
	}, nil
}

// PricingService stores price rules and applies them to orders.
type PricingService struct {
	db     *sql.DB
	ledger *LedgerService
	audit  *audit.Logger
	log    *logrus.Entry
	now    func() time.Time
}

func NewPricingService(db *sql.DB, ledger *LedgerService, auditLogger *audit.Logger, log *logrus.Entry) *PricingService {
	return &PricingService{
		db:     db,
		ledger: ledger,
		audit:  auditLogger,
		log:    log.WithField("component", "pricing"),
		now:    time.Now,
	}
}

func (s *PricingService) CreateRule(ctx context.Context, orgID string, req models.CreatePriceRuleRequest, actor string) (*models.PriceRule, error) {
	rule, err := BuildRule(orgID, req)
	if err != nil {
		return nil, err
	}
	rule.CreatedAt = s.now()

	terms, err := json.Marshal(rule.Terms)
	if err != nil {
		return nil, err
	}
	var couponCode *string
	if c, ok := rule.Terms.(models.CouponTerms); ok {
		couponCode = &c.Code
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO price_rules (id, org_id, name, currency, kind, coupon_code, terms, active, starts_at, ends_at, usage_limit, usage_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, $8, $9, $10, 0, $11)`,
		rule.ID, orgID, rule.Name, rule.Currency, string(rule.Kind()), couponCode, terms,
		rule.StartsAt, rule.EndsAt, rule.UsageLimit, rule.CreatedAt,
	)
	if database.IsUniqueViolation(err, couponCodeConstraint) {
		return nil, fmt.Errorf("%w: %s", models.ErrCouponExists, *couponCode)
	}
	if err != nil {
		return nil, fmt.Errorf("insert price rule: %w", err)
	}

	s.audit.LogOperation(orgID, "price_rule/"+rule.ID, "create_price_rule", actor, map[string]string{"kind": string(rule.Kind()), "name": rule.Name})
	return rule, nil
}

// ListRules returns every rule of the organization, inactive ones included.
func (s *PricingService) ListRules(ctx context.Context, orgID string) ([]models.PriceRule, error) {
	return s.loadRules(ctx, s.db, orgID, false, false)
}

func (s *PricingService) DeactivateRule(ctx context.Context, orgID, ruleID, actor string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE price_rules SET active = FALSE WHERE org_id = $1 AND id = $2`, orgID, ruleID)
	if err != nil {
		return fmt.Errorf("deactivate price rule: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return models.ErrRuleNotFound
	}
	s.audit.LogOperation(orgID, "price_rule/"+ruleID, "deactivate_price_rule", actor, nil)
	return nil
}

// EvaluateOrder prices an order against the organization's active rules
// without consuming any rule usage.
func (s *PricingService) EvaluateOrder(ctx context.Context, orgID, orderID string, req models.EvaluateDiscountsRequest) (*models.Evaluation, error) {
	rules, err := s.loadRules(ctx, s.db, orgID, true, false)
	if err != nil {
		return nil, err
	}
	order := models.Order{
		ID:         orderID,
		CustomerID: req.CustomerID,
		Currency:   strings.ToUpper(req.Currency),
		Items:      req.Items,
	}
	return EvaluateRules(rules, order, req.CouponCode, s.now())
}

// CommitOrder prices the order again against the organization's rules,
// locked for the transaction, records the discounts that apply and consumes
// one use of each rule. An order that already has discounts recorded gets
// them back unchanged.
func (s *PricingService) CommitOrder(ctx context.Context, orgID, orderID string, req models.CommitDiscountsRequest) (*models.Evaluation, error) {
	order := models.Order{
		ID:         orderID,
		CustomerID: req.CustomerID,
		Currency:   strings.ToUpper(req.Currency),
		Items:      req.Items,
	}

	var (
		eval      *models.Evaluation
		committed int
	)
	err := s.ledger.InTx(ctx, func(tx *sql.Tx) error {
		committed = 0
		rules, err := s.loadRules(ctx, tx, orgID, false, true)
		if err != nil {
			return err
		}
		recorded, err := s.recordedDiscounts(ctx, tx, orgID, orderID)
		if err != nil {
			return err
		}
		if len(recorded) > 0 {
			eval = recordedEvaluation(order, recorded)
			return nil
		}

		if eval, err = EvaluateRules(rules, order, req.CouponCode, s.now()); err != nil {
			return err
		}
		if err := checkShownDiscounts(rules, eval.Discounts, req.Discounts); err != nil {
			return err
		}

		for _, d := range eval.Discounts {
			result, err := tx.ExecContext(ctx, `
				INSERT INTO order_discounts (org_id, order_id, rule_id, amount, description, created_at)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (org_id, order_id, rule_id) DO NOTHING`,
				orgID, orderID, d.RuleID, d.Amount, d.Description, s.now(),
			)
			if err != nil {
				return fmt.Errorf("record discount: %w", err)
			}
			if n, _ := result.RowsAffected(); n == 0 {
				continue
			}

			result, err = tx.ExecContext(ctx, `
				UPDATE price_rules SET usage_count = usage_count + 1
				WHERE org_id = $1 AND id = $2 AND (usage_limit IS NULL OR usage_count < usage_limit)`,
				orgID, d.RuleID,
			)
			if err != nil {
				return fmt.Errorf("count rule usage: %w", err)
			}
			if n, _ := result.RowsAffected(); n == 0 {
				return fmt.Errorf("%w: rule %s", models.ErrRuleUsageExceeded, d.RuleID)
			}
			committed++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if committed > 0 {
		s.log.WithFields(logrus.Fields{"org_id": orgID, "order_id": orderID, "rules": committed}).Info("order discounts committed")
	}
	return eval, nil
}

// checkShownDiscounts compares what the customer was shown with what the
// rules grant now. Nothing shown means nothing to compare.
func checkShownDiscounts(rules []models.PriceRule, applied, shown []models.Discount) error {
	if len(shown) == 0 {
		return nil
	}
	known := make(map[string]bool, len(rules))
	for _, r := range rules {
		known[r.ID] = true
	}
	amounts := make(map[string]int64, len(applied))
	for _, d := range applied {
		amounts[d.RuleID] = d.Amount
	}

	seen := make(map[string]bool, len(shown))
	for _, d := range shown {
		if !known[d.RuleID] {
			return fmt.Errorf("%w: %s", models.ErrRuleNotFound, d.RuleID)
		}
		amount, ok := amounts[d.RuleID]
		switch {
		case seen[d.RuleID]:
			return fmt.Errorf("%w: rule %s listed twice", models.ErrDiscountMismatch, d.RuleID)
		case !ok:
			return fmt.Errorf("%w: rule %s no longer applies", models.ErrDiscountMismatch, d.RuleID)
		case amount != d.Amount:
			return fmt.Errorf("%w: rule %s grants %d, not %d", models.ErrDiscountMismatch, d.RuleID, amount, d.Amount)
		}
		seen[d.RuleID] = true
	}
	if len(seen) != len(applied) {
		return fmt.Errorf("%w: %d discounts apply, %d shown", models.ErrDiscountMismatch, len(applied), len(seen))
	}
	return nil
}

func (s *PricingService) recordedDiscounts(ctx context.Context, q queryer, orgID, orderID string) ([]models.Discount, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT d.rule_id, r.name, r.kind, d.amount, d.description
		FROM order_discounts d
		JOIN price_rules r ON r.id = d.rule_id
		WHERE d.org_id = $1 AND d.order_id = $2
		ORDER BY d.rule_id`,
		orgID, orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("query order discounts: %w", err)
	}
	defer rows.Close()

	var discounts []models.Discount
	for rows.Next() {
		var d models.Discount
		if err := rows.Scan(&d.RuleID, &d.RuleName, &d.Kind, &d.Amount, &d.Description); err != nil {
			return nil, err
		}
		discounts = append(discounts, d)
	}
	return discounts, rows.Err()
}

func recordedEvaluation(order models.Order, discounts []models.Discount) *models.Evaluation {
	subtotal := order.Subtotal()
	var total int64
	for _, d := range discounts {
		total += d.Amount
	}
	return &models.Evaluation{
		OrderID:       order.ID,
		Currency:      order.Currency,
		Subtotal:      subtotal,
		Discounts:     discounts,
		TotalDiscount: total,
		Total:         subtotal - total,
	}
}

// loadRules reads the organization's rules; forUpdate locks them for the
// surrounding transaction.
func (s *PricingService) loadRules(ctx context.Context, q queryer, orgID string, activeOnly, forUpdate bool) ([]models.PriceRule, error) {
	query := `
		SELECT id, org_id, name, currency, kind, terms, active, starts_at, ends_at, usage_limit, usage_count, created_at
		FROM price_rules
		WHERE org_id = $1 AND (active OR NOT $2)
		ORDER BY id`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	rows, err := q.QueryContext(ctx, query, orgID, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("query price rules: %w", err)
	}
	defer rows.Close()

	var rules []models.PriceRule
	for rows.Next() {
		var (
			rule       models.PriceRule
			kind       string
			raw        []byte
			startsAt   sql.NullTime
			endsAt     sql.NullTime
			usageLimit sql.NullInt64
		)
		if err := rows.Scan(&rule.ID, &rule.OrgID, &rule.Name, &rule.Currency, &kind, &raw, &rule.Active,
			&startsAt, &endsAt, &usageLimit, &rule.UsageCount, &rule.CreatedAt); err != nil {
			return nil, err
		}
		terms, err := models.DecodeTerms(models.RuleKind(kind), raw)
		if err != nil {
			if errors.Is(err, models.ErrUnknownRuleKind) {
				s.log.WithFields(logrus.Fields{"org_id": orgID, "rule_id": rule.ID}).Warn("skipping rule with unknown kind")
				continue
			}
			return nil, fmt.Errorf("rule %s: %w", rule.ID, err)
		}
		rule.Terms = terms
		if startsAt.Valid {
			rule.StartsAt = &startsAt.Time
		}
		if endsAt.Valid {
			rule.EndsAt = &endsAt.Time
		}
		if usageLimit.Valid {
			rule.UsageLimit = &usageLimit.Int64
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}
