package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/studiobook/backend/internal/audit"
	"github.com/studiobook/backend/internal/metrics"
	"github.com/studiobook/backend/internal/models"
)

const referenceCreditLot = "credit_lot"

// CreditService manages typed credit lots and consumes them soonest-expiring first.
type CreditService struct {
	db     *sql.DB
	ledger *LedgerService
	audit  *audit.Logger
	log    *logrus.Entry
	now    func() time.Time
}

func NewCreditService(db *sql.DB, ledger *LedgerService, auditLogger *audit.Logger, log *logrus.Entry) *CreditService {
	return &CreditService{
		db:     db,
		ledger: ledger,
		audit:  auditLogger,
		log:    log.WithField("component", "credits"),
		now:    time.Now,
	}
}

// SortLotsByUrgency orders lots by expiry ascending with never-expiring lots
// last. Ties fall back to creation time, then id.
func SortLotsByUrgency(lots []models.CreditLot) {
	sort.SliceStable(lots, func(i, j int) bool {
		a, b := lots[i], lots[j]
		switch {
		case a.ExpiresAt == nil && b.ExpiresAt != nil:
			return false
		case a.ExpiresAt != nil && b.ExpiresAt == nil:
			return true
		case a.ExpiresAt != nil && !a.ExpiresAt.Equal(*b.ExpiresAt):
			return a.ExpiresAt.Before(*b.ExpiresAt)
		case !a.CreatedAt.Equal(b.CreatedAt):
			return a.CreatedAt.Before(b.CreatedAt)
		default:
			return a.ID < b.ID
		}
	})
}

// PlanConsumption decides how much to take from each lot. It checks the
// total first and returns InsufficientCreditsError without a plan when the
// usable lots cannot cover quantity. Inactive and expired lots are ignored.
func PlanConsumption(lots []models.CreditLot, quantity int64, now time.Time) ([]models.LotDebit, error) {
	usable := make([]models.CreditLot, 0, len(lots))
	var available int64
	for _, lot := range lots {
		if !lot.Active || lot.QuantityRemaining <= 0 || lot.Expired(now) {
			continue
		}
		usable = append(usable, lot)
		available += lot.QuantityRemaining
	}

	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", models.ErrInvalidAmount)
	}
	if available < quantity {
		creditType := ""
		if len(lots) > 0 {
			creditType = lots[0].CreditType
		}
		return nil, &models.InsufficientCreditsError{CreditType: creditType, Requested: quantity, Available: available}
	}

	SortLotsByUrgency(usable)

	debits := make([]models.LotDebit, 0, len(usable))
	remaining := quantity
	for _, lot := range usable {
		if remaining == 0 {
			break
		}
		take := lot.QuantityRemaining
		if take > remaining {
			take = remaining
		}
		left := lot.QuantityRemaining - take
		debits = append(debits, models.LotDebit{
			LotID:       lot.ID,
			Quantity:    take,
			Remaining:   left,
			Deactivated: left == 0,
		})
		remaining -= take
	}
	return debits, nil
}

// Grant adds a lot of credits to a wallet and returns the wallet's active
// lots of that type.
func (s *CreditService) Grant(ctx context.Context, orgID, walletID string, req models.GrantCreditsRequest, actor string) ([]models.CreditLot, error) {
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", models.ErrInvalidAmount)
	}

	kind := models.EntryPurchase
	if req.Complimentary {
		kind = models.EntryGift
	}

	var lots []models.CreditLot
	lotID := uuid.NewString()
	err := s.ledger.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := lockWallet(ctx, tx, orgID, walletID); err != nil {
			return err
		}

		account := models.WalletAccount(walletID)
		unit := models.CreditUnit(req.CreditType)
		before, err := s.ledger.LockedBalance(ctx, tx, orgID, account, unit)
		if err != nil {
			return err
		}

		ref := models.Reference{Type: referenceCreditLot, ID: lotID}
		if req.Reference != nil {
			ref = *req.Reference
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO credit_lots (id, org_id, wallet_id, credit_type, quantity_initial, quantity_remaining, expires_at, active, source_ref, created_at)
			VALUES ($1, $2, $3, $4, $5, $5, $6, TRUE, $7, $8)`,
			lotID, orgID, walletID, req.CreditType, req.Quantity, req.ExpiresAt, ref.Type+":"+ref.ID, s.now(),
		)
		if err != nil {
			return fmt.Errorf("insert credit lot: %w", err)
		}

		_, err = s.ledger.Append(ctx, tx, &models.LedgerEntry{
			OrgID:         orgID,
			AccountType:   account.Type,
			AccountID:     account.ID,
			Unit:          unit,
			Kind:          kind,
			Delta:         req.Quantity,
			BalanceBefore: before,
			ReferenceType: ref.Type,
			ReferenceID:   ref.ID,
			Actor:         actor,
		})
		if err != nil {
			return err
		}

		lots, err = s.activeLots(ctx, tx, orgID, walletID, req.CreditType)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.audit.LogMovement(orgID, "wallet/"+walletID, string(kind), req.Quantity, models.CreditUnit(req.CreditType), actor, sumRemaining(lots))
	return lots, nil
}

// Consume debits quantity credits of creditType, all or nothing. Exactly one
// ledger entry records the wallet-level change regardless of how many lots
// contributed.
func (s *CreditService) Consume(ctx context.Context, orgID, walletID, creditType string, quantity int64, ref models.Reference, actor string) (*models.ConsumeResult, error) {
	var result *models.ConsumeResult
	err := s.ledger.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := lockWallet(ctx, tx, orgID, walletID); err != nil {
			return err
		}

		now := s.now()
		account := models.WalletAccount(walletID)
		unit := models.CreditUnit(creditType)
		before, err := s.ledger.LockedBalance(ctx, tx, orgID, account, unit)
		if err != nil {
			return err
		}

		lots, err := s.consumableLots(ctx, tx, orgID, walletID, creditType, now)
		if err != nil {
			return err
		}

		debits, err := PlanConsumption(lots, quantity, now)
		if err != nil {
			var insufficient *models.InsufficientCreditsError
			if errors.As(err, &insufficient) {
				insufficient.WalletID = walletID
				insufficient.CreditType = creditType
			}
			return err
		}

		for _, d := range debits {
			var deactivatedAt *time.Time
			if d.Deactivated {
				deactivatedAt = &now
			}
			_, err := tx.ExecContext(ctx, `
				UPDATE credit_lots SET quantity_remaining = $1, active = $2, deactivated_at = $3
				WHERE org_id = $4 AND id = $5`,
				d.Remaining, !d.Deactivated, deactivatedAt, orgID, d.LotID,
			)
			if err != nil {
				return fmt.Errorf("debit lot %s: %w", d.LotID, err)
			}
		}

		entry := &models.LedgerEntry{
			OrgID:         orgID,
			AccountType:   account.Type,
			AccountID:     account.ID,
			Unit:          unit,
			Kind:          models.EntryRedemption,
			Delta:         -quantity,
			BalanceBefore: before,
			ReferenceType: ref.Type,
			ReferenceID:   ref.ID,
			Actor:         actor,
		}
		after, err := s.ledger.Append(ctx, tx, entry)
		if err != nil {
			return err
		}

		result = &models.ConsumeResult{
			WalletID:     walletID,
			CreditType:   creditType,
			Quantity:     quantity,
			Debits:       debits,
			BalanceAfter: after,
			EntryID:      entry.ID,
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, models.ErrInsufficientCredits) {
			metrics.CreditConsumptions.WithLabelValues("insufficient").Inc()
		} else {
			metrics.CreditConsumptions.WithLabelValues("error").Inc()
		}
		return nil, err
	}

	metrics.CreditConsumptions.WithLabelValues("success").Inc()
	s.audit.LogMovement(orgID, "wallet/"+walletID, string(models.EntryRedemption), -quantity, models.CreditUnit(creditType), actor, result.BalanceAfter)
	return result, nil
}

// Lots returns the active lots of a credit type, most urgent first.
func (s *CreditService) Lots(ctx context.Context, orgID, walletID, creditType string) ([]models.CreditLot, error) {
	return s.activeLots(ctx, s.db, orgID, walletID, creditType)
}

// ExpireLots deactivates every lot past its expiry that still holds credits
// and writes one expiry entry per wallet and credit type.
func (s *CreditService) ExpireLots(ctx context.Context, orgID string, now time.Time) (int, int64, error) {
	var lotCount int
	var credits int64
	err := s.ledger.InTx(ctx, func(tx *sql.Tx) error {
		lotCount, credits = 0, 0

		rows, err := tx.QueryContext(ctx, `
			SELECT id, wallet_id, credit_type, quantity_remaining FROM credit_lots
			WHERE org_id = $1 AND active AND expires_at IS NOT NULL AND expires_at <= $2
			ORDER BY wallet_id, credit_type, id
			FOR UPDATE`,
			orgID, now,
		)
		if err != nil {
			return fmt.Errorf("query expired lots: %w", err)
		}

		type group struct {
			walletID, creditType string
			lotIDs               []string
			quantity             int64
		}
		var groups []*group
		for rows.Next() {
			var lotID, walletID, creditType string
			var remaining int64
			if err := rows.Scan(&lotID, &walletID, &creditType, &remaining); err != nil {
				rows.Close()
				return err
			}
			if n := len(groups); n == 0 || groups[n-1].walletID != walletID || groups[n-1].creditType != creditType {
				groups = append(groups, &group{walletID: walletID, creditType: creditType})
			}
			g := groups[len(groups)-1]
			g.lotIDs = append(g.lotIDs, lotID)
			g.quantity += remaining
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, g := range groups {
			_, err := tx.ExecContext(ctx, `
				UPDATE credit_lots SET quantity_remaining = 0, active = FALSE, deactivated_at = $1
				WHERE org_id = $2 AND id = ANY($3)`,
				now, orgID, pq.Array(g.lotIDs),
			)
			if err != nil {
				return fmt.Errorf("expire lots: %w", err)
			}
			lotCount += len(g.lotIDs)
			if g.quantity == 0 {
				continue
			}

			account := models.WalletAccount(g.walletID)
			unit := models.CreditUnit(g.creditType)
			before, err := s.ledger.LockedBalance(ctx, tx, orgID, account, unit)
			if err != nil {
				return err
			}
			_, err = s.ledger.Append(ctx, tx, &models.LedgerEntry{
				OrgID:         orgID,
				AccountType:   account.Type,
				AccountID:     account.ID,
				Unit:          unit,
				Kind:          models.EntryExpiry,
				Delta:         -g.quantity,
				BalanceBefore: before,
				ReferenceType: referenceCreditLot,
				ReferenceID:   g.lotIDs[0],
				Actor:         "system",
			})
			if err != nil {
				return err
			}
			credits += g.quantity
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	if lotCount > 0 {
		s.log.WithFields(logrus.Fields{"org_id": orgID, "lots": lotCount, "credits": credits}).Info("expired credit lots")
	}
	return lotCount, credits, nil
}

func (s *CreditService) consumableLots(ctx context.Context, tx *sql.Tx, orgID, walletID, creditType string, now time.Time) ([]models.CreditLot, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, org_id, wallet_id, credit_type, quantity_initial, quantity_remaining, expires_at, active, source_ref, created_at
		FROM credit_lots
		WHERE org_id = $1 AND wallet_id = $2 AND credit_type = $3 AND active AND quantity_remaining > 0
			AND (expires_at IS NULL OR expires_at > $4)
		FOR UPDATE`,
		orgID, walletID, creditType, now,
	)
	if err != nil {
		return nil, fmt.Errorf("query lots: %w", err)
	}
	defer rows.Close()
	return scanLots(rows)
}

func (s *CreditService) activeLots(ctx context.Context, q queryer, orgID, walletID, creditType string) ([]models.CreditLot, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, org_id, wallet_id, credit_type, quantity_initial, quantity_remaining, expires_at, active, source_ref, created_at
		FROM credit_lots
		WHERE org_id = $1 AND wallet_id = $2 AND credit_type = $3 AND active`,
		orgID, walletID, creditType,
	)
	if err != nil {
		return nil, fmt.Errorf("query lots: %w", err)
	}
	defer rows.Close()

	lots, err := scanLots(rows)
	if err != nil {
		return nil, err
	}
	SortLotsByUrgency(lots)
	return lots, nil
}

func scanLots(rows *sql.Rows) ([]models.CreditLot, error) {
	var lots []models.CreditLot
	for rows.Next() {
		var lot models.CreditLot
		var expiresAt sql.NullTime
		if err := rows.Scan(&lot.ID, &lot.OrgID, &lot.WalletID, &lot.CreditType, &lot.QuantityInitial,
			&lot.QuantityRemaining, &expiresAt, &lot.Active, &lot.SourceRef, &lot.CreatedAt); err != nil {
			return nil, err
		}
		if expiresAt.Valid {
			t := expiresAt.Time
			lot.ExpiresAt = &t
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

func sumRemaining(lots []models.CreditLot) int64 {
	var total int64
	for _, lot := range lots {
		total += lot.QuantityRemaining
	}
	return total
}
