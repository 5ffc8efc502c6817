package database

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/studiobook/backend/internal/logging"
)

func TestMigrate(t *testing.T) {
	t.Run("requires a database", func(t *testing.T) {
		err := Migrate(context.Background(), nil, logging.Discard())
		assert.EqualError(t, err, "migration database handle is required")
	})

	t.Run("wraps driver failure", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		mock.ExpectQuery(`SELECT CURRENT_DATABASE\(\)`).WillReturnError(errors.New("permission denied"))

		err = Migrate(context.Background(), db, logging.Discard())

		require.Error(t, err)
		assert.Contains(t, err.Error(), "create migration driver")
	})
}

func readMigrations(t *testing.T) (up, down map[uint]string) {
	t.Helper()
	src, err := iofs.New(migrations, migrationsDir)
	require.NoError(t, err)
	defer src.Close()

	up, down = map[uint]string{}, map[uint]string{}
	version, err := src.First()
	for err == nil {
		r, _, upErr := src.ReadUp(version)
		require.NoError(t, upErr, "version %d has no up migration", version)
		body, _ := io.ReadAll(r)
		r.Close()
		up[version] = string(body)

		r, _, downErr := src.ReadDown(version)
		require.NoError(t, downErr, "version %d has no down migration", version)
		body, _ = io.ReadAll(r)
		r.Close()
		down[version] = string(body)

		version, err = src.Next(version)
	}
	require.ErrorIs(t, err, os.ErrNotExist)
	return up, down
}

func TestMigrationsArePaired(t *testing.T) {
	up, down := readMigrations(t)

	require.Len(t, up, 6)
	for v := uint(1); v <= 6; v++ {
		assert.NotEmpty(t, up[v], "version %d", v)
		assert.Contains(t, down[v], "DROP TABLE IF EXISTS", "version %d", v)
	}
}

func TestMigrationsCoverLedgerTables(t *testing.T) {
	up, down := readMigrations(t)
	var allUp, allDown strings.Builder
	for v := range up {
		allUp.WriteString(up[v])
		allDown.WriteString(down[v])
	}

	for _, table := range []string{
		"ledger_entries", "ledger_balances", "credit_lots", "gift_cards", "price_rules",
		"order_discounts", "cash_drawer_sessions", "cash_counts", "bank_statement_lines",
		"payouts", "invoices", "match_results",
	} {
		assert.Contains(t, allUp.String(), "CREATE TABLE IF NOT EXISTS "+table+" (")
		assert.Contains(t, allDown.String(), "DROP TABLE IF EXISTS "+table+";")
	}
	assert.Contains(t, allUp.String(), "match_results_confirmed_target")
}
