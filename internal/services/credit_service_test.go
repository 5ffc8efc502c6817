package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/studiobook/backend/internal/logging"
	"github.com/studiobook/backend/internal/models"
)

func daysFromNow(days int) *time.Time {
	t := testNow.AddDate(0, 0, days)
	return &t
}

func TestSortLotsByUrgency(t *testing.T) {
	lots := []models.CreditLot{
		{ID: "never", CreatedAt: testNow.Add(-72 * time.Hour)},
		{ID: "late", ExpiresAt: daysFromNow(60), CreatedAt: testNow},
		{ID: "soon-newer", ExpiresAt: daysFromNow(10), CreatedAt: testNow},
		{ID: "soon-older", ExpiresAt: daysFromNow(10), CreatedAt: testNow.Add(-time.Hour)},
	}

	SortLotsByUrgency(lots)

	var order []string
	for _, lot := range lots {
		order = append(order, lot.ID)
	}
	assert.Equal(t, []string{"soon-older", "soon-newer", "late", "never"}, order)
}

func TestPlanConsumption(t *testing.T) {
	tests := []struct {
		name     string
		lots     []models.CreditLot
		quantity int64
		want     []models.LotDebit
		wantErr  error
	}{
		{
			name: "nearest expiry drained first",
			lots: []models.CreditLot{
				{ID: "far", QuantityRemaining: 3, ExpiresAt: daysFromNow(60), Active: true},
				{ID: "near", QuantityRemaining: 5, ExpiresAt: daysFromNow(10), Active: true},
			},
			quantity: 6,
			want: []models.LotDebit{
				{LotID: "near", Quantity: 5, Remaining: 0, Deactivated: true},
				{LotID: "far", Quantity: 1, Remaining: 2},
			},
		},
		{
			name: "non-expiring lot untouched while expiring lots cover",
			lots: []models.CreditLot{
				{ID: "never", QuantityRemaining: 10, Active: true},
				{ID: "dated", QuantityRemaining: 4, ExpiresAt: daysFromNow(30), Active: true},
			},
			quantity: 4,
			want: []models.LotDebit{
				{LotID: "dated", Quantity: 4, Remaining: 0, Deactivated: true},
			},
		},
		{
			name: "expired and inactive lots are ignored",
			lots: []models.CreditLot{
				{ID: "expired", QuantityRemaining: 9, ExpiresAt: daysFromNow(-1), Active: true},
				{ID: "inactive", QuantityRemaining: 9, Active: false},
				{ID: "ok", QuantityRemaining: 2, Active: true},
			},
			quantity: 2,
			want: []models.LotDebit{
				{LotID: "ok", Quantity: 2, Remaining: 0, Deactivated: true},
			},
		},
		{
			name: "shortfall plans nothing",
			lots: []models.CreditLot{
				{ID: "a", CreditType: "class", QuantityRemaining: 2, Active: true},
				{ID: "b", CreditType: "class", QuantityRemaining: 1, ExpiresAt: daysFromNow(3), Active: true},
			},
			quantity: 4,
			wantErr:  models.ErrInsufficientCredits,
		},
		{
			name:     "quantity must be positive",
			lots:     []models.CreditLot{{ID: "a", QuantityRemaining: 2, Active: true}},
			quantity: 0,
			wantErr:  models.ErrInvalidAmount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PlanConsumption(tt.lots, tt.quantity, testNow)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPlanConsumption_ShortfallDetail(t *testing.T) {
	lots := []models.CreditLot{{ID: "a", CreditType: "class", QuantityRemaining: 3, Active: true}}

	_, err := PlanConsumption(lots, 5, testNow)

	var insufficient *models.InsufficientCreditsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(5), insufficient.Requested)
	assert.Equal(t, int64(3), insufficient.Available)
}

var lotColumns = []string{"id", "org_id", "wallet_id", "credit_type", "quantity_initial",
	"quantity_remaining", "expires_at", "active", "source_ref", "created_at"}

func newTestCreditService(t *testing.T) (*CreditService, sqlmock.Sqlmock) {
	db, mock := newMockDB(t)
	svc := NewCreditService(db, newTestLedger(db), newTestAudit(), logging.Discard())
	svc.now = fixedNow
	return svc, mock
}

func TestCreditService_Consume(t *testing.T) {
	ctx := context.Background()
	account := models.WalletAccount("w1")
	unit := models.CreditUnit("class")
	ref := models.Reference{Type: "booking", ID: "b1"}

	t.Run("debits lots by urgency and writes one entry", func(t *testing.T) {
		svc, mock := newTestCreditService(t)

		mock.ExpectBegin()
		expectWalletLock(mock, "w1", "EUR")
		expectBalanceLock(mock, account, unit, 8, 2)
		mock.ExpectQuery(`FROM credit_lots .* FOR UPDATE`).
			WithArgs(testOrg, "w1", "class", testNow).
			WillReturnRows(sqlmock.NewRows(lotColumns).
				AddRow("far", testOrg, "w1", "class", 3, 3, *daysFromNow(60), true, "", testNow).
				AddRow("near", testOrg, "w1", "class", 5, 5, *daysFromNow(10), true, "", testNow))
		mock.ExpectExec(`UPDATE credit_lots SET quantity_remaining`).
			WithArgs(0, false, sqlmock.AnyArg(), testOrg, "near").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE credit_lots SET quantity_remaining`).
			WithArgs(2, true, nil, testOrg, "far").
			WillReturnResult(sqlmock.NewResult(0, 1))
		expectAppend(mock, account, unit, models.EntryRedemption, -6, 8, 2, 31)
		mock.ExpectCommit()

		result, err := svc.Consume(ctx, testOrg, "w1", "class", 6, ref, "staff_1")

		require.NoError(t, err)
		assert.Equal(t, int64(2), result.BalanceAfter)
		assert.Equal(t, int64(31), result.EntryID)
		require.Len(t, result.Debits, 2)
		assert.Equal(t, "near", result.Debits[0].LotID)
		assert.True(t, result.Debits[0].Deactivated)
		assert.Equal(t, int64(2), result.Debits[1].Remaining)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("shortfall mutates nothing", func(t *testing.T) {
		svc, mock := newTestCreditService(t)

		mock.ExpectBegin()
		expectWalletLock(mock, "w1", "EUR")
		expectBalanceLock(mock, account, unit, 3, 1)
		mock.ExpectQuery(`FROM credit_lots .* FOR UPDATE`).
			WillReturnRows(sqlmock.NewRows(lotColumns).
				AddRow("only", testOrg, "w1", "class", 3, 3, nil, true, "", testNow))
		mock.ExpectRollback()

		result, err := svc.Consume(ctx, testOrg, "w1", "class", 5, ref, "staff_1")

		assert.Nil(t, result)
		var insufficient *models.InsufficientCreditsError
		require.ErrorAs(t, err, &insufficient)
		assert.Equal(t, "w1", insufficient.WalletID)
		assert.Equal(t, int64(3), insufficient.Available)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown wallet", func(t *testing.T) {
		svc, mock := newTestCreditService(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`FROM wallets`).WillReturnRows(sqlmock.NewRows(walletColumns))
		mock.ExpectRollback()

		_, err := svc.Consume(ctx, testOrg, "missing", "class", 1, ref, "staff_1")
		assert.ErrorIs(t, err, models.ErrWalletNotFound)
	})
}

func TestCreditService_Grant(t *testing.T) {
	ctx := context.Background()
	account := models.WalletAccount("w1")
	unit := models.CreditUnit("class")

	t.Run("complimentary grant is a gift entry", func(t *testing.T) {
		svc, mock := newTestCreditService(t)
		expires := daysFromNow(30)

		mock.ExpectBegin()
		expectWalletLock(mock, "w1", "EUR")
		expectBalanceLock(mock, account, unit, 0, 0)
		mock.ExpectExec(`INSERT INTO credit_lots`).
			WithArgs(sqlmock.AnyArg(), testOrg, "w1", "class", 5, *expires, sqlmock.AnyArg(), testNow).
			WillReturnResult(sqlmock.NewResult(0, 1))
		expectAppend(mock, account, unit, models.EntryGift, 5, 0, 0, 40)
		mock.ExpectQuery(`FROM credit_lots`).
			WillReturnRows(sqlmock.NewRows(lotColumns).
				AddRow("lot1", testOrg, "w1", "class", 5, 5, *expires, true, "credit_lot:lot1", testNow))
		mock.ExpectCommit()

		lots, err := svc.Grant(ctx, testOrg, "w1", models.GrantCreditsRequest{
			Quantity: 5, CreditType: "class", ExpiresAt: expires, Complimentary: true,
		}, "staff_1")

		require.NoError(t, err)
		require.Len(t, lots, 1)
		assert.Equal(t, int64(5), lots[0].QuantityRemaining)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects non-positive quantity", func(t *testing.T) {
		svc, _ := newTestCreditService(t)
		_, err := svc.Grant(ctx, testOrg, "w1", models.GrantCreditsRequest{Quantity: 0, CreditType: "class"}, "staff_1")
		assert.ErrorIs(t, err, models.ErrInvalidAmount)
	})
}

func TestCreditService_ExpireLots(t *testing.T) {
	svc, mock := newTestCreditService(t)
	account := models.WalletAccount("w1")
	unit := models.CreditUnit("class")

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM credit_lots WHERE org_id = \$1 AND active AND expires_at IS NOT NULL`).
		WithArgs(testOrg, testNow).
		WillReturnRows(sqlmock.NewRows([]string{"id", "wallet_id", "credit_type", "quantity_remaining"}).
			AddRow("l1", "w1", "class", 2).
			AddRow("l2", "w1", "class", 1))
	mock.ExpectExec(`UPDATE credit_lots SET quantity_remaining = 0, active = FALSE`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	expectBalanceLock(mock, account, unit, 7, 4)
	expectAppend(mock, account, unit, models.EntryExpiry, -3, 7, 4, 50)
	mock.ExpectCommit()

	lots, credits, err := svc.ExpireLots(context.Background(), testOrg, testNow)

	require.NoError(t, err)
	assert.Equal(t, 2, lots)
	assert.Equal(t, int64(3), credits)
	assert.NoError(t, mock.ExpectationsWereMet())
}
