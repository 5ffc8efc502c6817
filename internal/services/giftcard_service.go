package services

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/studiobook/backend/internal/audit"
	"github.com/studiobook/backend/internal/config"
	"github.com/studiobook/backend/internal/database"
	"github.com/studiobook/backend/internal/metrics"
	"github.com/studiobook/backend/internal/models"
)

// Codes avoid 0/O and 1/I so they survive being read aloud or retyped.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	giftCardCodeConstraint = "gift_cards_code_key"
	referenceGiftCard      = "gift_card"
	referenceOrder         = "order"
	breakageBatchSize      = 500
)

type GiftCardService struct {
	db      *sql.DB
	redis   *redis.Client
	ledger  *LedgerService
	audit   *audit.Logger
	cfg     *config.GiftCardConfig
	log     *logrus.Entry
	now     func() time.Time
	newCode func() (string, error)
}

// NewGiftCardService wires the service. A nil redis client disables the
// redemption rate limit.
func NewGiftCardService(db *sql.DB, rdb *redis.Client, ledger *LedgerService, auditLogger *audit.Logger, cfg *config.GiftCardConfig, log *logrus.Entry) *GiftCardService {
	s := &GiftCardService{
		db:     db,
		redis:  rdb,
		ledger: ledger,
		audit:  auditLogger,
		cfg:    cfg,
		log:    log.WithField("component", "gift_cards"),
		now:    time.Now,
	}
	s.newCode = s.randomCode
	return s
}

// NormalizeCode upper-cases a code typed by a customer and trims spaces.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (s *GiftCardService) randomCode() (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	groups := make([]string, s.cfg.CodeGroups)
	for g := range groups {
		var b strings.Builder
		for i := 0; i < s.cfg.CodeGroupLength; i++ {
			n, err := rand.Int(rand.Reader, max)
			if err != nil {
				return "", err
			}
			b.WriteByte(codeAlphabet[n.Int64()])
		}
		groups[g] = b.String()
	}
	return strings.Join(groups, "-"), nil
}

// Issue creates a card and funds it in one ledger entry. Promotional cards
// are recorded as gifts rather than purchases.
func (s *GiftCardService) Issue(ctx context.Context, orgID string, req models.IssueGiftCardRequest, actor string) (*models.GiftCard, error) {
	currency := strings.ToUpper(req.Currency)
	amount, err := models.ParseAmount(req.Amount, currency)
	if err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: gift card amount must be positive", models.ErrInvalidAmount)
	}
	now := s.now()
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return nil, models.ErrInvalidExpiry
	}

	kind := models.EntryPurchase
	if req.Promotional {
		kind = models.EntryGift
	}

	var card *models.GiftCard
	err = s.ledger.InTx(ctx, func(tx *sql.Tx) error {
		code, err := s.uniqueCode(ctx, tx)
		if err != nil {
			return err
		}

		c := &models.GiftCard{
			ID:            uuid.NewString(),
			OrgID:         orgID,
			Code:          code,
			InitialAmount: amount,
			Currency:      currency,
			ExpiresAt:     req.ExpiresAt,
			Active:        true,
			Promotional:   req.Promotional,
			CreatedAt:     now,
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO gift_cards (id, org_id, code, initial_amount, currency, expires_at, active, promotional, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7, $8)`,
			c.ID, orgID, c.Code, c.InitialAmount, c.Currency, c.ExpiresAt, c.Promotional, c.CreatedAt,
		)
		if database.IsUniqueViolation(err, giftCardCodeConstraint) {
			// Lost a race for the code; the whole transaction is replayed.
			return fmt.Errorf("%w: gift card code taken", models.ErrConcurrentModification)
		}
		if err != nil {
			return fmt.Errorf("insert gift card: %w", err)
		}

		account := models.GiftCardAccount(c.ID)
		c.Balance, err = s.ledger.Append(ctx, tx, &models.LedgerEntry{
			OrgID:         orgID,
			AccountType:   account.Type,
			AccountID:     account.ID,
			Unit:          currency,
			Kind:          kind,
			Delta:         amount,
			ReferenceType: referenceGiftCard,
			ReferenceID:   c.ID,
			Actor:         actor,
		})
		if err != nil {
			return err
		}
		card = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.LogMovement(orgID, "gift_card/"+card.ID, string(kind), amount, currency, actor, card.Balance)
	return card, nil
}

func (s *GiftCardService) uniqueCode(ctx context.Context, tx *sql.Tx) (string, error) {
	for attempt := 0; attempt < s.cfg.MaxCodeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM gift_cards WHERE code = $1)`, code).Scan(&exists); err != nil {
			return "", fmt.Errorf("check code: %w", err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", models.ErrCodeSpaceExhausted
}

// Redeem pays amount from the card. The balance check happens under the
// card's row lock, so a failed redemption leaves no trace in the ledger.
func (s *GiftCardService) Redeem(ctx context.Context, orgID, code string, amount int64, orderRef, actor string) (*models.GiftCard, error) {
	code = NormalizeCode(code)
	if amount <= 0 {
		return nil, fmt.Errorf("%w: redemption amount must be positive", models.ErrInvalidAmount)
	}
	if err := s.checkRateLimit(ctx, orgID, code); err != nil {
		metrics.GiftCardRedemptions.WithLabelValues("rate_limited").Inc()
		return nil, err
	}

	var card *models.GiftCard
	err := s.ledger.InTx(ctx, func(tx *sql.Tx) error {
		c, err := s.lockCard(ctx, tx, orgID, code)
		if err != nil {
			return err
		}

		account := models.GiftCardAccount(c.ID)
		c.Balance, err = s.ledger.LockedBalance(ctx, tx, orgID, account, c.Currency)
		if err != nil {
			return err
		}
		if !c.Active || c.Expired(s.now()) {
			return fmt.Errorf("%w: %s", models.ErrInactiveGiftCard, c.Code)
		}
		if c.Balance < amount {
			return &models.InsufficientGiftCardBalanceError{Code: c.Code, Requested: amount, Balance: c.Balance, Currency: c.Currency}
		}

		after, err := s.ledger.Append(ctx, tx, &models.LedgerEntry{
			OrgID:         orgID,
			AccountType:   account.Type,
			AccountID:     account.ID,
			Unit:          c.Currency,
			Kind:          models.EntryRedemption,
			Delta:         -amount,
			BalanceBefore: c.Balance,
			ReferenceType: referenceOrder,
			ReferenceID:   orderRef,
			Actor:         actor,
		})
		if err != nil {
			return err
		}
		if after == 0 {
			if _, err := tx.ExecContext(ctx, `UPDATE gift_cards SET active = FALSE WHERE id = $1`, c.ID); err != nil {
				return fmt.Errorf("deactivate gift card: %w", err)
			}
			c.Active = false
		}
		c.Balance = after
		card = c
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, models.ErrGiftCardNotFound), errors.Is(err, models.ErrInactiveGiftCard):
			s.recordFailedAttempt(ctx, orgID, code)
			metrics.GiftCardRedemptions.WithLabelValues("rejected").Inc()
		case errors.Is(err, models.ErrInsufficientGiftCardBalance):
			metrics.GiftCardRedemptions.WithLabelValues("insufficient").Inc()
		default:
			metrics.GiftCardRedemptions.WithLabelValues("error").Inc()
		}
		return nil, err
	}

	metrics.GiftCardRedemptions.WithLabelValues("success").Inc()
	s.audit.LogMovement(orgID, "gift_card/"+card.ID, string(models.EntryRedemption), -amount, card.Currency, actor, card.Balance)
	return card, nil
}

// Refund returns amount to the card, reactivating a card that was drained.
// The balance can never exceed what the card was issued with.
func (s *GiftCardService) Refund(ctx context.Context, orgID, code string, amount int64, orderRef, actor string) (*models.GiftCard, error) {
	code = NormalizeCode(code)
	if amount <= 0 {
		return nil, fmt.Errorf("%w: refund amount must be positive", models.ErrInvalidAmount)
	}

	var card *models.GiftCard
	err := s.ledger.InTx(ctx, func(tx *sql.Tx) error {
		c, err := s.lockCard(ctx, tx, orgID, code)
		if err != nil {
			return err
		}
		if c.Expired(s.now()) || c.BreakageRecognizedAt != nil {
			return fmt.Errorf("%w: %s has expired", models.ErrInactiveGiftCard, c.Code)
		}

		account := models.GiftCardAccount(c.ID)
		c.Balance, err = s.ledger.LockedBalance(ctx, tx, orgID, account, c.Currency)
		if err != nil {
			return err
		}
		if c.Balance+amount > c.InitialAmount {
			return fmt.Errorf("%w: card %s holds %s of %s", models.ErrRefundExceedsRedeemed, c.Code,
				models.FormatAmount(c.Balance, c.Currency), models.FormatAmount(c.InitialAmount, c.Currency))
		}

		c.Balance, err = s.ledger.Append(ctx, tx, &models.LedgerEntry{
			OrgID:         orgID,
			AccountType:   account.Type,
			AccountID:     account.ID,
			Unit:          c.Currency,
			Kind:          models.EntryRefund,
			Delta:         amount,
			BalanceBefore: c.Balance,
			ReferenceType: referenceOrder,
			ReferenceID:   orderRef,
			Actor:         actor,
		})
		if err != nil {
			return err
		}
		if !c.Active {
			if _, err := tx.ExecContext(ctx, `UPDATE gift_cards SET active = TRUE WHERE id = $1`, c.ID); err != nil {
				return fmt.Errorf("reactivate gift card: %w", err)
			}
			c.Active = true
		}
		card = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.LogMovement(orgID, "gift_card/"+card.ID, string(models.EntryRefund), amount, card.Currency, actor, card.Balance)
	return card, nil
}

// RecognizeBreakage zeroes the balance of an expired card with a terminal
// expiry entry and returns the amount recognized. Cards already at zero
// produce no entry, which makes repeated calls harmless.
func (s *GiftCardService) RecognizeBreakage(ctx context.Context, orgID, code string, now time.Time) (int64, error) {
	code = NormalizeCode(code)

	var recognized int64
	var card *models.GiftCard
	err := s.ledger.InTx(ctx, func(tx *sql.Tx) error {
		recognized = 0
		c, err := s.lockCard(ctx, tx, orgID, code)
		if err != nil {
			return err
		}
		if !c.Expired(now) {
			return fmt.Errorf("%w: %s", models.ErrGiftCardNotExpired, c.Code)
		}

		account := models.GiftCardAccount(c.ID)
		balance, err := s.ledger.LockedBalance(ctx, tx, orgID, account, c.Currency)
		if err != nil {
			return err
		}
		card = c
		if balance == 0 {
			if c.BreakageRecognizedAt == nil {
				_, err := tx.ExecContext(ctx, `
					UPDATE gift_cards SET active = FALSE, breakage_recognized_at = $1 WHERE id = $2`,
					now, c.ID,
				)
				return err
			}
			return nil
		}

		_, err = s.ledger.Append(ctx, tx, &models.LedgerEntry{
			OrgID:         orgID,
			AccountType:   account.Type,
			AccountID:     account.ID,
			Unit:          c.Currency,
			Kind:          models.EntryExpiry,
			Delta:         -balance,
			BalanceBefore: balance,
			ReferenceType: referenceGiftCard,
			ReferenceID:   c.ID,
			Actor:         "system",
			CreatedAt:     now,
		})
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE gift_cards SET active = FALSE, breakage_amount = breakage_amount + $1, breakage_recognized_at = $2
			WHERE id = $3`,
			balance, now, c.ID,
		)
		if err != nil {
			return fmt.Errorf("mark breakage: %w", err)
		}
		recognized = balance
		return nil
	})
	if err != nil {
		return 0, err
	}

	if recognized > 0 {
		metrics.BreakageRecognized.WithLabelValues(card.Currency).Add(float64(recognized))
		s.audit.LogMovement(orgID, "gift_card/"+card.ID, string(models.EntryExpiry), -recognized, card.Currency, "system", 0)
	}
	return recognized, nil
}

// SweepBreakage recognizes breakage on every expired card of an organization
// not yet processed. A failure on one card is logged and the sweep continues.
func (s *GiftCardService) SweepBreakage(ctx context.Context, orgID string, now time.Time) (*models.BreakageResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT code, currency FROM gift_cards
		WHERE org_id = $1 AND expires_at IS NOT NULL AND expires_at <= $2 AND breakage_recognized_at IS NULL
		ORDER BY expires_at
		LIMIT $3`,
		orgID, now, breakageBatchSize,
	)
	if err != nil {
		return nil, fmt.Errorf("query expired gift cards: %w", err)
	}
	type expired struct{ code, currency string }
	var cards []expired
	for rows.Next() {
		var c expired
		if err := rows.Scan(&c.code, &c.currency); err != nil {
			rows.Close()
			return nil, err
		}
		cards = append(cards, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := &models.BreakageResult{OrgID: orgID, AmountByCurrency: map[string]int64{}}
	for _, c := range cards {
		amount, err := s.RecognizeBreakage(ctx, orgID, c.code, now)
		if err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{"org_id": orgID, "code": c.code}).Error("breakage recognition failed")
			continue
		}
		result.CardsProcessed++
		if amount > 0 {
			result.AmountByCurrency[c.currency] += amount
		}
	}
	return result, nil
}

// Lookup returns a card with its current balance.
func (s *GiftCardService) Lookup(ctx context.Context, orgID, code string) (*models.GiftCard, error) {
	var c models.GiftCard
	var expiresAt, breakageAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT g.id, g.org_id, g.code, g.initial_amount, g.currency, g.expires_at, g.active, g.promotional,
			g.breakage_amount, g.breakage_recognized_at, g.created_at, COALESCE(b.balance, 0)
		FROM gift_cards g
		LEFT JOIN ledger_balances b
			ON b.org_id = g.org_id AND b.account_type = 'gift_card' AND b.account_id = g.id::text AND b.unit = g.currency
		WHERE g.org_id = $1 AND g.code = $2`,
		orgID, NormalizeCode(code),
	).Scan(&c.ID, &c.OrgID, &c.Code, &c.InitialAmount, &c.Currency, &expiresAt, &c.Active, &c.Promotional,
		&c.BreakageAmount, &breakageAt, &c.CreatedAt, &c.Balance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrGiftCardNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load gift card: %w", err)
	}
	c.ExpiresAt = nullTimePtr(expiresAt)
	c.BreakageRecognizedAt = nullTimePtr(breakageAt)
	return &c, nil
}

// QRCode renders the card code as a base64 PNG for printing.
func (s *GiftCardService) QRCode(ctx context.Context, orgID, code string) (string, error) {
	card, err := s.Lookup(ctx, orgID, code)
	if err != nil {
		return "", err
	}
	return RenderQRCode(card.Code, s.cfg.QRSize)
}

func (s *GiftCardService) lockCard(ctx context.Context, tx *sql.Tx, orgID, code string) (*models.GiftCard, error) {
	var c models.GiftCard
	var expiresAt, breakageAt sql.NullTime
	err := tx.QueryRowContext(ctx, `
		SELECT id, org_id, code, initial_amount, currency, expires_at, active, promotional, breakage_amount, breakage_recognized_at, created_at
		FROM gift_cards
		WHERE org_id = $1 AND code = $2
		FOR UPDATE`,
		orgID, code,
	).Scan(&c.ID, &c.OrgID, &c.Code, &c.InitialAmount, &c.Currency, &expiresAt, &c.Active, &c.Promotional,
		&c.BreakageAmount, &breakageAt, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrGiftCardNotFound, code)
	}
	if err != nil {
		return nil, fmt.Errorf("lock gift card: %w", err)
	}
	c.ExpiresAt = nullTimePtr(expiresAt)
	c.BreakageRecognizedAt = nullTimePtr(breakageAt)
	return &c, nil
}

func redeemAttemptsKey(orgID, code string) string {
	return fmt.Sprintf("giftcard:redeem:%s:%s", orgID, code)
}

// checkRateLimit blocks a code after too many failed redemption attempts
// within the window. Redis errors let the request through.
func (s *GiftCardService) checkRateLimit(ctx context.Context, orgID, code string) error {
	if s.redis == nil {
		return nil
	}
	attempts, err := s.redis.Get(ctx, redeemAttemptsKey(orgID, code)).Int()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		s.log.WithError(err).Warn("rate limit check failed")
		return nil
	}
	if attempts >= s.cfg.MaxRedeemAttempts {
		return fmt.Errorf("%w: gift card %s", models.ErrRateLimited, code)
	}
	return nil
}

func (s *GiftCardService) recordFailedAttempt(ctx context.Context, orgID, code string) {
	if s.redis == nil {
		return
	}
	key := redeemAttemptsKey(orgID, code)
	n, err := s.redis.Incr(ctx, key).Result()
	if err != nil {
		s.log.WithError(err).Warn("failed to record redemption attempt")
		return
	}
	if n == 1 {
		s.redis.Expire(ctx, key, s.cfg.RateLimitWindow)
	}
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
