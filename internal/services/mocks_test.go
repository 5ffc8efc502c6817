package services

import (
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"github.com/studiobook/backend/internal/audit"
	"github.com/studiobook/backend/internal/config"
	"github.com/studiobook/backend/internal/logging"
	"github.com/studiobook/backend/internal/models"
)

const testOrg = "org_1"

var testNow = time.Date(2026, time.March, 14, 10, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func newTestLedger(db *sql.DB) *LedgerService {
	ledger := NewLedgerService(db, config.LedgerConfig{
		MaxRetries:     2,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  2 * time.Millisecond,
	}, logging.Discard())
	ledger.now = fixedNow
	return ledger
}

var noRetries = config.LedgerConfig{RetryBaseDelay: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond}

func newTestAudit() *audit.Logger {
	return audit.NewLogger(logging.Discard())
}

// expectBalanceLock mocks the FOR UPDATE read of a projection row. A zero
// version means the row does not exist yet.
func expectBalanceLock(mock sqlmock.Sqlmock, account models.AccountRef, unit string, balance int64, version int) {
	rows := sqlmock.NewRows([]string{"balance", "version"})
	if version > 0 {
		rows.AddRow(balance, version)
	}
	mock.ExpectQuery(`SELECT balance, version FROM ledger_balances`).
		WithArgs(testOrg, string(account.Type), account.ID, unit).
		WillReturnRows(rows)
}

// expectAppend mocks one successful LedgerService.Append.
func expectAppend(mock sqlmock.Sqlmock, account models.AccountRef, unit string, kind models.EntryKind, delta, before int64, version int, entryID int64) {
	expectBalanceLock(mock, account, unit, before, version)
	mock.ExpectQuery(`INSERT INTO ledger_entries`).
		WithArgs(testOrg, string(account.Type), account.ID, unit, string(kind), delta, before, before+delta,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(entryID))
	mock.ExpectExec(`INSERT INTO ledger_balances`).
		WithArgs(testOrg, string(account.Type), account.ID, unit, before+delta, sqlmock.AnyArg(), version).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

var walletColumns = []string{"id", "org_id", "customer_id", "currency", "created_at"}

func expectWalletLock(mock sqlmock.Sqlmock, walletID, currency string) {
	mock.ExpectQuery(`SELECT id, org_id, customer_id, currency, created_at FROM wallets`).
		WithArgs(testOrg, walletID).
		WillReturnRows(sqlmock.NewRows(walletColumns).AddRow(walletID, testOrg, "cust_1", currency, testNow))
}
