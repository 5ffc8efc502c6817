package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/studiobook/backend/internal/audit"
	"github.com/studiobook/backend/internal/config"
	"github.com/studiobook/backend/internal/database"
	"github.com/studiobook/backend/internal/metrics"
	"github.com/studiobook/backend/internal/models"
)

const (
	openLocationConstraint = "cash_drawer_sessions_open_location"
	referenceDrawerSession = "cash_drawer_session"
	referencePOS           = "pos"
)

// CountDenominations totals a drawer count. Keys are denomination values as
// decimal strings ("20", "0.05"), values are how many of each were counted.
func CountDenominations(denominations map[string]int64, currency string) (int64, error) {
	var total int64
	for denomination, count := range denominations {
		value, err := models.ParseAmount(denomination, currency)
		if err != nil || value <= 0 {
			return 0, fmt.Errorf("%w: %q", models.ErrInvalidDenomination, denomination)
		}
		if count < 0 {
			return 0, fmt.Errorf("%w: negative count for %s", models.ErrInvalidDenomination, denomination)
		}
		total += value * count
	}
	return total, nil
}

// CashDrawerService runs drawer sessions from opening float to count. Each
// session is its own ledger account, so the account balance is the cash the
// drawer should hold.
type CashDrawerService struct {
	db     *sql.DB
	ledger *LedgerService
	review *ReviewQueue
	audit  *audit.Logger
	cfg    config.CashConfig
	log    *logrus.Entry
	now    func() time.Time
}

func NewCashDrawerService(db *sql.DB, ledger *LedgerService, review *ReviewQueue, auditLogger *audit.Logger, cfg config.CashConfig, log *logrus.Entry) *CashDrawerService {
	return &CashDrawerService{
		db:     db,
		ledger: ledger,
		review: review,
		audit:  auditLogger,
		cfg:    cfg,
		log:    log.WithField("component", "cash_drawer"),
		now:    time.Now,
	}
}

// roundingIncrement applies the configured cash increment to currencies with
// cents; currencies without minor units are settled as given.
func (s *CashDrawerService) roundingIncrement(currency string) int64 {
	if models.CurrencyExponent(currency) != 2 {
		return 1
	}
	return s.cfg.RoundingIncrement
}

func (s *CashDrawerService) Open(ctx context.Context, orgID, drawerID string, req models.OpenDrawerRequest, actor string) (*models.CashDrawerSession, error) {
	currency := strings.ToUpper(req.Currency)
	openingFloat, err := models.ParseAmount(req.OpeningFloat, currency)
	if err != nil {
		return nil, err
	}
	if openingFloat < 0 {
		return nil, fmt.Errorf("%w: opening float cannot be negative", models.ErrInvalidAmount)
	}

	now := s.now()
	session := &models.CashDrawerSession{
		ID:           uuid.NewString(),
		OrgID:        orgID,
		DrawerID:     drawerID,
		LocationID:   req.LocationID,
		OperatorID:   req.OperatorID,
		Currency:     currency,
		OpeningFloat: openingFloat,
		RunningTotal: openingFloat,
		Status:       models.SessionOpen,
		OpenedAt:     now,
	}

	err = s.ledger.InTx(ctx, func(tx *sql.Tx) error {
		var existing string
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM cash_drawer_sessions
			WHERE org_id = $1 AND (location_id = $2 OR drawer_id = $3) AND status <> 'closed'
			LIMIT 1
			FOR UPDATE`,
			orgID, req.LocationID, drawerID,
		).Scan(&existing)
		if err == nil {
			return fmt.Errorf("%w: session %s", models.ErrDrawerAlreadyOpen, existing)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check open sessions: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO cash_drawer_sessions (id, org_id, drawer_id, location_id, operator_id, currency, opening_float, running_total, status, opened_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7, 'open', $8)`,
			session.ID, orgID, drawerID, session.LocationID, session.OperatorID, currency, openingFloat, now,
		)
		if database.IsUniqueViolation(err, openLocationConstraint) {
			return fmt.Errorf("%w: location %s", models.ErrDrawerAlreadyOpen, session.LocationID)
		}
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}

		if openingFloat == 0 {
			return nil
		}
		account := models.CashDrawerAccount(session.ID)
		_, err = s.ledger.Append(ctx, tx, &models.LedgerEntry{
			OrgID:         orgID,
			AccountType:   account.Type,
			AccountID:     account.ID,
			Unit:          currency,
			Kind:          models.EntryOpeningFloat,
			Delta:         openingFloat,
			ReferenceType: referenceDrawerSession,
			ReferenceID:   session.ID,
			Actor:         actor,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.OpenDrawerSessions.Inc()
	s.audit.LogMovement(orgID, "cash_drawer/"+session.ID, string(models.EntryOpeningFloat), openingFloat, currency, actor, openingFloat)
	return session, nil
}

// RecordTransaction posts a cash movement to an open session. Sales and
// refunds are rounded to the cash increment before anything is written, so
// the ledger holds the amount that actually changed hands.
func (s *CashDrawerService) RecordTransaction(ctx context.Context, orgID, sessionID string, kind models.CashTransactionKind, amount int64, reference, actor string) (*models.CashTransactionResult, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: cash amount must be positive", models.ErrInvalidAmount)
	}

	var result *models.CashTransactionResult
	err := s.ledger.InTx(ctx, func(tx *sql.Tx) error {
		session, err := s.lockSession(ctx, tx, orgID, sessionID)
		if err != nil {
			return err
		}
		switch session.Status {
		case models.SessionClosed:
			return models.ErrSessionClosed
		case models.SessionPendingCount:
			return models.ErrSessionPendingCount
		}

		settled := amount
		if kind.Rounded() {
			settled = models.RoundToIncrement(amount, s.roundingIncrement(session.Currency))
		}
		if settled == 0 {
			return fmt.Errorf("%w: %s rounds to zero", models.ErrInvalidAmount, models.FormatAmount(amount, session.Currency))
		}
		delta := settled
		if kind.Outflow() {
			delta = -settled
		}

		account := models.CashDrawerAccount(session.ID)
		before, err := s.ledger.LockedBalance(ctx, tx, orgID, account, session.Currency)
		if err != nil {
			return err
		}
		entry := &models.LedgerEntry{
			OrgID:         orgID,
			AccountType:   account.Type,
			AccountID:     account.ID,
			Unit:          session.Currency,
			Kind:          kind.EntryKind(),
			Delta:         delta,
			BalanceBefore: before,
			ReferenceType: referencePOS,
			ReferenceID:   reference,
			Actor:         actor,
		}
		after, err := s.ledger.Append(ctx, tx, entry)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `UPDATE cash_drawer_sessions SET running_total = $1 WHERE id = $2`, after, session.ID); err != nil {
			return fmt.Errorf("update running total: %w", err)
		}
		session.RunningTotal = after

		result = &models.CashTransactionResult{
			Session:   session,
			Kind:      kind,
			Requested: amount,
			Settled:   settled,
			EntryID:   entry.ID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.LogMovement(orgID, "cash_drawer/"+sessionID, string(kind.EntryKind()), result.Settled, result.Session.Currency, actor, result.Session.RunningTotal)
	return result, nil
}

// RequestClose freezes the expected total and waits for a count. Asking
// again while the count is pending changes nothing.
func (s *CashDrawerService) RequestClose(ctx context.Context, orgID, sessionID, actor string) (*models.CashDrawerSession, error) {
	var session *models.CashDrawerSession
	var changed bool
	err := s.ledger.InTx(ctx, func(tx *sql.Tx) error {
		changed = false
		sess, err := s.lockSession(ctx, tx, orgID, sessionID)
		if err != nil {
			return err
		}
		session = sess
		switch sess.Status {
		case models.SessionClosed:
			return models.ErrSessionClosed
		case models.SessionPendingCount:
			return nil
		}

		now := s.now()
		expected := sess.RunningTotal
		_, err = tx.ExecContext(ctx, `
			UPDATE cash_drawer_sessions SET status = 'pending_count', expected_total = $1, close_requested_at = $2
			WHERE id = $3`,
			expected, now, sess.ID,
		)
		if err != nil {
			return fmt.Errorf("request close: %w", err)
		}
		sess.Status = models.SessionPendingCount
		sess.ExpectedTotal = &expected
		sess.CloseRequestedAt = &now
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.audit.LogOperation(orgID, "cash_drawer/"+sessionID, "request_close", actor, map[string]int64{"expected_total": *session.ExpectedTotal})
	}
	return session, nil
}

// SubmitCount closes a pending session with the counted cash. A variance is
// booked as an adjustment so the drawer account ends at the counted amount,
// and it is queued for review.
func (s *CashDrawerService) SubmitCount(ctx context.Context, orgID, sessionID string, denominations map[string]int64, actor string) (*models.CountResult, error) {
	var result *models.CountResult
	err := s.ledger.InTx(ctx, func(tx *sql.Tx) error {
		session, err := s.lockSession(ctx, tx, orgID, sessionID)
		if err != nil {
			return err
		}
		switch session.Status {
		case models.SessionClosed:
			return models.ErrSessionClosed
		case models.SessionOpen:
			return models.ErrSessionNotPendingCount
		}

		counted, err := CountDenominations(denominations, session.Currency)
		if err != nil {
			return err
		}
		expected := session.RunningTotal
		if session.ExpectedTotal != nil {
			expected = *session.ExpectedTotal
		}
		variance := counted - expected
		now := s.now()

		payload, err := json.Marshal(denominations)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO cash_counts (session_id, org_id, denominations, counted_total, expected_total, variance, submitted_by, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			session.ID, orgID, payload, counted, expected, variance, actor, now,
		)
		if err != nil {
			return fmt.Errorf("insert count: %w", err)
		}

		if variance != 0 {
			account := models.CashDrawerAccount(session.ID)
			before, err := s.ledger.LockedBalance(ctx, tx, orgID, account, session.Currency)
			if err != nil {
				return err
			}
			after, err := s.ledger.Append(ctx, tx, &models.LedgerEntry{
				OrgID:         orgID,
				AccountType:   account.Type,
				AccountID:     account.ID,
				Unit:          session.Currency,
				Kind:          models.EntryAdjustment,
				Delta:         variance,
				BalanceBefore: before,
				ReferenceType: referenceDrawerSession,
				ReferenceID:   session.ID,
				Actor:         actor,
			})
			if err != nil {
				return err
			}
			session.RunningTotal = after
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE cash_drawer_sessions SET status = 'closed', counted_total = $1, variance = $2, running_total = $3, closed_at = $4
			WHERE id = $5`,
			counted, variance, session.RunningTotal, now, session.ID,
		)
		if err != nil {
			return fmt.Errorf("close session: %w", err)
		}

		session.Status = models.SessionClosed
		session.ExpectedTotal = &expected
		session.CountedTotal = &counted
		session.Variance = &variance
		session.ClosedAt = &now
		result = &models.CountResult{
			Session: session,
			Count: models.CashCount{
				SessionID:     session.ID,
				Denominations: denominations,
				CountedTotal:  counted,
				ExpectedTotal: expected,
				Variance:      variance,
				SubmittedBy:   actor,
				CreatedAt:     now,
			},
			VarianceRecorded: variance != 0,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.OpenDrawerSessions.Dec()
	count := result.Count
	if result.VarianceRecorded {
		metrics.DrawerVariances.Inc()
		currency := result.Session.Currency
		s.log.WithFields(logrus.Fields{
			"org_id":   orgID,
			"session":  sessionID,
			"expected": count.ExpectedTotal,
			"counted":  count.CountedTotal,
			"variance": count.Variance,
		}).Warn("drawer closed with variance")
		s.review.pushAll(ctx, []models.ReviewItem{{
			Kind:      models.ReviewCashVariance,
			OrgID:     orgID,
			SubjectID: sessionID,
			Amount:    count.Variance,
			Currency:  currency,
			Detail: fmt.Sprintf("drawer %s counted %s, expected %s", result.Session.DrawerID,
				models.FormatAmount(count.CountedTotal, currency), models.FormatAmount(count.ExpectedTotal, currency)),
			QueuedAt: count.CreatedAt,
		}})
	}
	s.audit.LogOperation(orgID, "cash_drawer/"+sessionID, "submit_count", actor, map[string]int64{
		"expected_total": count.ExpectedTotal,
		"counted_total":  count.CountedTotal,
		"variance":       count.Variance,
	})
	return result, nil
}

// ZReport summarizes a session from its ledger entries.
func (s *CashDrawerService) ZReport(ctx context.Context, orgID, sessionID string) (*models.ZReport, error) {
	session, err := s.Session(ctx, orgID, sessionID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, COALESCE(SUM(delta), 0), COUNT(*)
		FROM ledger_entries
		WHERE org_id = $1 AND account_type = 'cash_drawer' AND account_id = $2
		GROUP BY kind`,
		orgID, session.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("query drawer totals: %w", err)
	}
	defer rows.Close()

	report := &models.ZReport{
		SessionID:     session.ID,
		DrawerID:      session.DrawerID,
		LocationID:    session.LocationID,
		OperatorID:    session.OperatorID,
		Currency:      session.Currency,
		Status:        session.Status,
		OpeningFloat:  session.OpeningFloat,
		Totals:        map[models.EntryKind]int64{},
		RunningTotal:  session.RunningTotal,
		ExpectedTotal: session.ExpectedTotal,
		CountedTotal:  session.CountedTotal,
		Variance:      session.Variance,
		OpenedAt:      session.OpenedAt,
		ClosedAt:      session.ClosedAt,
	}
	for rows.Next() {
		var kind string
		var total int64
		var count int
		if err := rows.Scan(&kind, &total, &count); err != nil {
			return nil, err
		}
		k := models.EntryKind(kind)
		report.Totals[k] = total
		if k != models.EntryOpeningFloat && k != models.EntryAdjustment {
			report.TransactionCount += count
		}
	}
	return report, rows.Err()
}

const sessionColumns = `id, org_id, drawer_id, location_id, operator_id, currency, opening_float, running_total,
	expected_total, counted_total, variance, status, opened_at, close_requested_at, closed_at`

// Session loads a session by id without locking it.
func (s *CashDrawerService) Session(ctx context.Context, orgID, sessionID string) (*models.CashDrawerSession, error) {
	return scanSession(s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM cash_drawer_sessions WHERE org_id = $1 AND id = $2`, orgID, sessionID))
}

// CurrentSession returns the drawer's session that is not yet closed.
func (s *CashDrawerService) CurrentSession(ctx context.Context, orgID, drawerID string) (*models.CashDrawerSession, error) {
	return scanSession(s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM cash_drawer_sessions
		WHERE org_id = $1 AND drawer_id = $2 AND status <> 'closed'
		ORDER BY opened_at DESC LIMIT 1`,
		orgID, drawerID,
	))
}

// LatestSession returns the drawer's most recently opened session.
func (s *CashDrawerService) LatestSession(ctx context.Context, orgID, drawerID string) (*models.CashDrawerSession, error) {
	return scanSession(s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM cash_drawer_sessions
		WHERE org_id = $1 AND drawer_id = $2
		ORDER BY opened_at DESC LIMIT 1`,
		orgID, drawerID,
	))
}

func (s *CashDrawerService) lockSession(ctx context.Context, tx *sql.Tx, orgID, sessionID string) (*models.CashDrawerSession, error) {
	return scanSession(tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM cash_drawer_sessions WHERE org_id = $1 AND id = $2 FOR UPDATE`, orgID, sessionID))
}

func scanSession(row *sql.Row) (*models.CashDrawerSession, error) {
	var sess models.CashDrawerSession
	var status string
	var expected, counted, variance sql.NullInt64
	var closeRequestedAt, closedAt sql.NullTime
	err := row.Scan(&sess.ID, &sess.OrgID, &sess.DrawerID, &sess.LocationID, &sess.OperatorID, &sess.Currency,
		&sess.OpeningFloat, &sess.RunningTotal, &expected, &counted, &variance, &status, &sess.OpenedAt,
		&closeRequestedAt, &closedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	sess.Status = models.SessionStatus(status)
	sess.ExpectedTotal = nullInt64Ptr(expected)
	sess.CountedTotal = nullInt64Ptr(counted)
	sess.Variance = nullInt64Ptr(variance)
	sess.CloseRequestedAt = nullTimePtr(closeRequestedAt)
	sess.ClosedAt = nullTimePtr(closedAt)
	return &sess, nil
}

func nullInt64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
