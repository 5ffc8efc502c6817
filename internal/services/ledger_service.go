package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/sirupsen/logrus"
	"github.com/studiobook/backend/internal/config"
	"github.com/studiobook/backend/internal/database"
	"github.com/studiobook/backend/internal/metrics"
	"github.com/studiobook/backend/internal/models"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// LedgerService is the only writer of balances. Every movement is an
// append-only entry; ledger_balances is a projection kept in step with the
// entries inside the same transaction.
type LedgerService struct {
	db    *sql.DB
	log   *logrus.Entry
	retry retrypolicy.RetryPolicy[any]
	now   func() time.Time
}

func NewLedgerService(db *sql.DB, cfg config.LedgerConfig, log *logrus.Entry) *LedgerService {
	return &LedgerService{
		db:    db,
		log:   log.WithField("component", "ledger"),
		retry: newConflictRetryPolicy(cfg),
		now:   time.Now,
	}
}

func newConflictRetryPolicy(cfg config.LedgerConfig) retrypolicy.RetryPolicy[any] {
	return retrypolicy.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool {
			return models.IsRetryable(err)
		}).
		WithBackoff(cfg.RetryBaseDelay, cfg.RetryMaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		OnRetry(func(failsafe.ExecutionEvent[any]) {
			metrics.LedgerRetries.Inc()
		}).
		ReturnLastFailure().
		Build()
}

// InTx runs fn in a transaction and replays it from scratch when it fails
// with ErrConcurrentModification, up to the configured retry count.
func (s *LedgerService) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	_, err := failsafe.With(s.retry).WithContext(ctx).Get(func() (any, error) {
		return nil, s.runTx(ctx, fn)
	})
	return err
}

func (s *LedgerService) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return asConflict(err)
	}
	if err := tx.Commit(); err != nil {
		return asConflict(fmt.Errorf("commit: %w", err))
	}
	return nil
}

func asConflict(err error) error {
	if database.IsTransient(err) {
		return fmt.Errorf("%w: %v", models.ErrConcurrentModification, err)
	}
	return err
}

// LockedBalance reads the current balance of an account and holds its row
// lock until tx ends. Callers pass the result as BalanceBefore to Append.
func (s *LedgerService) LockedBalance(ctx context.Context, tx *sql.Tx, orgID string, account models.AccountRef, unit string) (int64, error) {
	balance, _, err := s.lockBalance(ctx, tx, orgID, account, unit)
	return balance, err
}

// Append records entry and returns the account's new balance. It fails with
// ErrConcurrentModification when entry.BalanceBefore is stale.
func (s *LedgerService) Append(ctx context.Context, tx *sql.Tx, entry *models.LedgerEntry) (int64, error) {
	account := entry.Account()
	current, version, err := s.lockBalance(ctx, tx, entry.OrgID, account, entry.Unit)
	if err != nil {
		return 0, err
	}

	if current != entry.BalanceBefore {
		metrics.LedgerConflicts.Inc()
		return 0, fmt.Errorf("%w: %s %s/%s expected balance %d, found %d",
			models.ErrConcurrentModification, account.Type, account.ID, entry.Unit, entry.BalanceBefore, current)
	}

	after := current + entry.Delta
	if after < 0 && !account.Type.AllowsNegative() {
		return 0, fmt.Errorf("%w: %s %s/%s would reach %d", models.ErrNegativeBalance, account.Type, account.ID, entry.Unit, after)
	}
	entry.BalanceAfter = after
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO ledger_entries (org_id, account_type, account_id, unit, kind, delta, balance_before, balance_after, reference_type, reference_id, actor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		entry.OrgID, string(entry.AccountType), entry.AccountID, entry.Unit, string(entry.Kind), entry.Delta,
		entry.BalanceBefore, entry.BalanceAfter, entry.ReferenceType, entry.ReferenceID, entry.Actor, entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return 0, fmt.Errorf("insert ledger entry: %w", err)
	}

	if err := s.storeBalance(ctx, tx, entry, version); err != nil {
		return 0, err
	}

	metrics.LedgerAppends.WithLabelValues(string(entry.Kind)).Inc()
	s.log.WithFields(logrus.Fields{
		"org_id":  entry.OrgID,
		"account": account.ID,
		"unit":    entry.Unit,
		"kind":    entry.Kind,
		"delta":   entry.Delta,
		"balance": after,
	}).Debug("ledger entry appended")

	return after, nil
}

func (s *LedgerService) lockBalance(ctx context.Context, tx *sql.Tx, orgID string, account models.AccountRef, unit string) (int64, int, error) {
	var balance int64
	var version int
	err := tx.QueryRowContext(ctx, `
		SELECT balance, version FROM ledger_balances
		WHERE org_id = $1 AND account_type = $2 AND account_id = $3 AND unit = $4
		FOR UPDATE`,
		orgID, string(account.Type), account.ID, unit,
	).Scan(&balance, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("lock balance: %w", err)
	}
	return balance, version, nil
}

// storeBalance creates the projection row on first use and otherwise bumps
// it only if nobody else has since the lock was taken.
func (s *LedgerService) storeBalance(ctx context.Context, tx *sql.Tx, entry *models.LedgerEntry, version int) error {
	result, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_balances (org_id, account_type, account_id, unit, balance, version, updated_at)
		VALUES ($1, $2, $3, $4, $5, 1, $6)
		ON CONFLICT (org_id, account_type, account_id, unit)
		DO UPDATE SET balance = EXCLUDED.balance, version = ledger_balances.version + 1, updated_at = EXCLUDED.updated_at
		WHERE ledger_balances.version = $7`,
		entry.OrgID, string(entry.AccountType), entry.AccountID, entry.Unit, entry.BalanceAfter, entry.CreatedAt, version,
	)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		metrics.LedgerConflicts.Inc()
		return fmt.Errorf("%w: optimistic lock failed for %s %s", models.ErrConcurrentModification, entry.AccountType, entry.AccountID)
	}
	return nil
}

// Balance returns the projected balance without locking.
func (s *LedgerService) Balance(ctx context.Context, orgID string, account models.AccountRef, unit string) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx, `
		SELECT balance FROM ledger_balances
		WHERE org_id = $1 AND account_type = $2 AND account_id = $3 AND unit = $4`,
		orgID, string(account.Type), account.ID, unit,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return balance, err
}

// BalanceAsOf replays the entries of an account up to and including at.
func (s *LedgerService) BalanceAsOf(ctx context.Context, orgID string, account models.AccountRef, unit string, at time.Time) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(delta), 0) FROM ledger_entries
		WHERE org_id = $1 AND account_type = $2 AND account_id = $3 AND unit = $4 AND created_at <= $5`,
		orgID, string(account.Type), account.ID, unit, at,
	).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("replay balance: %w", err)
	}
	return balance, nil
}

// History lists an account's entries in [from, to) across all units.
func (s *LedgerService) History(ctx context.Context, orgID string, account models.AccountRef, from, to time.Time) ([]models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, org_id, account_type, account_id, unit, kind, delta, balance_before, balance_after, reference_type, reference_id, actor, created_at
		FROM ledger_entries
		WHERE org_id = $1 AND account_type = $2 AND account_id = $3 AND created_at >= $4 AND created_at < $5
		ORDER BY id`,
		orgID, string(account.Type), account.ID, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		var accountType, kind string
		if err := rows.Scan(&e.ID, &e.OrgID, &accountType, &e.AccountID, &e.Unit, &kind, &e.Delta,
			&e.BalanceBefore, &e.BalanceAfter, &e.ReferenceType, &e.ReferenceID, &e.Actor, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.AccountType = models.AccountType(accountType)
		e.Kind = models.EntryKind(kind)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Verify checks one account's projection against the sum of its entries.
func (s *LedgerService) Verify(ctx context.Context, orgID string, account models.AccountRef, unit string) error {
	projected, err := s.Balance(ctx, orgID, account, unit)
	if err != nil {
		return err
	}
	sum, err := s.BalanceAsOf(ctx, orgID, account, unit, s.now())
	if err != nil {
		return err
	}
	if projected != sum {
		return &models.BalanceDriftError{Account: account, Unit: unit, Projected: projected, Ledger: sum}
	}
	return nil
}

// VerifyOrg returns every account of an organization whose projection
// disagrees with its entries.
func (s *LedgerService) VerifyOrg(ctx context.Context, orgID string) ([]*models.BalanceDriftError, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.account_type, b.account_id, b.unit, b.balance, COALESCE(SUM(e.delta), 0)
		FROM ledger_balances b
		LEFT JOIN ledger_entries e
			ON e.org_id = b.org_id AND e.account_type = b.account_type AND e.account_id = b.account_id AND e.unit = b.unit
		WHERE b.org_id = $1
		GROUP BY b.account_type, b.account_id, b.unit, b.balance
		HAVING b.balance <> COALESCE(SUM(e.delta), 0)`,
		orgID,
	)
	if err != nil {
		return nil, fmt.Errorf("verify balances: %w", err)
	}
	defer rows.Close()

	var drifts []*models.BalanceDriftError
	for rows.Next() {
		d := &models.BalanceDriftError{}
		var accountType string
		if err := rows.Scan(&accountType, &d.Account.ID, &d.Unit, &d.Projected, &d.Ledger); err != nil {
			return nil, err
		}
		d.Account.Type = models.AccountType(accountType)
		drifts = append(drifts, d)
	}
	return drifts, rows.Err()
}
