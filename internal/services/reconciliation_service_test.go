package services

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/studiobook/backend/internal/config"
	"github.com/studiobook/backend/internal/logging"
	"github.com/studiobook/backend/internal/models"
)

const testIBAN = "DE89370400440532013000"

var testReconciliationConfig = config.ReconciliationConfig{
	AmountTolerance: 1,
	WindowDays:      3,
	LookbackDays:    30,
	ReviewQueueKey:  "review_queue",
}

func day(d int) time.Time {
	return time.Date(2026, time.March, d, 0, 0, 0, 0, time.UTC)
}

func payoutCandidate(id, ref string, amount int64, date time.Time) models.MatchCandidate {
	return models.MatchCandidate{Type: models.TargetPayout, ID: id, Reference: ref, Amount: amount, Currency: "EUR", Date: date}
}

func invoiceCandidate(id, number string, amount int64, date time.Time) models.MatchCandidate {
	return models.MatchCandidate{Type: models.TargetInvoice, ID: id, Reference: number, Amount: amount, Currency: "EUR", Date: date}
}

func TestMatchStatementLines_PayoutScenario(t *testing.T) {
	lines := []models.StatementLine{
		{ID: "l1", OrgID: testOrg, Amount: 276207, Currency: "EUR", BookingDate: day(13), EndToEndID: "STRIPE-PO-123456"},
		{ID: "l2", OrgID: testOrg, Amount: 15000, Currency: "EUR", BookingDate: day(13)},
	}
	candidates := []models.MatchCandidate{payoutCandidate("p1", "STRIPE-PO-123456", 276207, day(12))}

	results := MatchStatementLines(lines, candidates, nil, testReconciliationConfig, testNow)

	require.Len(t, results, 2)
	assert.Equal(t, models.MatchAuto, results[0].Status)
	assert.Equal(t, 1.0, results[0].Confidence)
	assert.Equal(t, "p1", results[0].TargetID)
	assert.Equal(t, testNow, results[0].MatchedAt)

	assert.Equal(t, models.MatchUnmatched, results[1].Status)
	assert.Equal(t, 0.0, results[1].Confidence)
	assert.Empty(t, results[1].TargetID)
}

func TestMatchStatementLines(t *testing.T) {
	line := models.StatementLine{ID: "l1", Amount: 15000, Currency: "EUR", BookingDate: day(13)}

	tests := []struct {
		name       string
		line       models.StatementLine
		candidates []models.MatchCandidate
		claimed    map[string]string
		status     models.MatchStatus
		confidence float64
		target     string
		reason     string
	}{
		{
			name:       "amount only with one candidate",
			line:       line,
			candidates: []models.MatchCandidate{invoiceCandidate("i1", "INV-0042", 15000, day(10))},
			status:     models.MatchPossible,
			confidence: 0.9,
			target:     "i1",
		},
		{
			name: "amount only with two candidates suggests the nearest",
			line: line,
			candidates: []models.MatchCandidate{
				invoiceCandidate("i1", "INV-0042", 15000, day(10)),
				invoiceCandidate("i2", "INV-0043", 15000, day(14)),
			},
			status:     models.MatchPossible,
			confidence: 0.45,
			target:     "i2",
		},
		{
			name: "reference matching two candidates is ambiguous",
			line: models.StatementLine{ID: "l1", Amount: 15000, Currency: "EUR", BookingDate: day(13), RemittanceInfo: "inv-0042 and inv-0043"},
			candidates: []models.MatchCandidate{
				invoiceCandidate("i1", "INV-0042", 15000, day(11)),
				invoiceCandidate("i2", "INV-0043", 15000, day(13)),
				invoiceCandidate("i3", "INV-0099", 15000, day(13)),
			},
			status:     models.MatchPossible,
			confidence: 0.3,
			target:     "i2",
			reason:     "several",
		},
		{
			name:       "reference in remittance text with punctuation",
			line:       models.StatementLine{ID: "l1", Amount: 15000, Currency: "EUR", BookingDate: day(13), RemittanceInfo: "Payment inv 0042 thanks"},
			candidates: []models.MatchCandidate{invoiceCandidate("i1", "INV-0042", 15000, day(10))},
			status:     models.MatchAuto,
			confidence: 1.0,
			target:     "i1",
		},
		{
			name:       "within tolerance",
			line:       models.StatementLine{ID: "l1", Amount: 15001, Currency: "EUR", BookingDate: day(13), Reference: "INV-0042"},
			candidates: []models.MatchCandidate{invoiceCandidate("i1", "INV-0042", 15000, day(13))},
			status:     models.MatchAuto,
			confidence: 1.0,
			target:     "i1",
		},
		{
			name:       "reference matches but amount differs",
			line:       models.StatementLine{ID: "l1", Amount: 14000, Currency: "EUR", BookingDate: day(13), Reference: "INV-0042"},
			candidates: []models.MatchCandidate{invoiceCandidate("i1", "INV-0042", 15000, day(13))},
			status:     models.MatchUnmatched,
			reason:     "amount differs",
		},
		{
			name:       "outside the date window",
			line:       line,
			candidates: []models.MatchCandidate{invoiceCandidate("i1", "INV-0042", 15000, day(1))},
			status:     models.MatchUnmatched,
		},
		{
			name:       "other currency",
			line:       line,
			candidates: []models.MatchCandidate{{Type: models.TargetInvoice, ID: "i1", Reference: "INV-0042", Amount: 15000, Currency: "GBP", Date: day(13)}},
			status:     models.MatchUnmatched,
		},
		{
			name:       "target claimed by another line",
			line:       models.StatementLine{ID: "l1", Amount: 15000, Currency: "EUR", BookingDate: day(13), Reference: "INV-0042"},
			candidates: []models.MatchCandidate{invoiceCandidate("i1", "INV-0042", 15000, day(13))},
			claimed:    map[string]string{"invoice/i1": "l0"},
			status:     models.MatchUnmatched,
		},
		{
			name:       "short references are ignored",
			line:       models.StatementLine{ID: "l1", Amount: 15000, Currency: "EUR", BookingDate: day(13), Reference: "order 12 of 42"},
			candidates: []models.MatchCandidate{invoiceCandidate("i1", "42", 15000, day(13))},
			status:     models.MatchPossible,
			confidence: 0.9,
			target:     "i1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := MatchStatementLines([]models.StatementLine{tt.line}, tt.candidates, tt.claimed, testReconciliationConfig, testNow)

			require.Len(t, results, 1)
			assert.Equal(t, tt.status, results[0].Status)
			assert.InDelta(t, tt.confidence, results[0].Confidence, 1e-9)
			assert.Equal(t, tt.target, results[0].TargetID)
			if tt.reason != "" {
				assert.Contains(t, results[0].Reason, tt.reason)
			}
		})
	}
}

func TestMatchStatementLines_AutoMatchedTargetNotReused(t *testing.T) {
	lines := []models.StatementLine{
		{ID: "b", Amount: 15000, Currency: "EUR", BookingDate: day(14), Reference: "INV-0042"},
		{ID: "a", Amount: 15000, Currency: "EUR", BookingDate: day(13), Reference: "INV-0042"},
	}
	candidates := []models.MatchCandidate{invoiceCandidate("i1", "INV-0042", 15000, day(13))}

	results := MatchStatementLines(lines, candidates, nil, testReconciliationConfig, testNow)

	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].StatementLineID, "older lines match first")
	assert.Equal(t, models.MatchAuto, results[0].Status)
	assert.Equal(t, "b", results[1].StatementLineID)
	assert.Equal(t, models.MatchUnmatched, results[1].Status)
}

func TestMatchStatementLines_LineKeepsItsOwnClaim(t *testing.T) {
	lines := []models.StatementLine{{ID: "l1", Amount: 15000, Currency: "EUR", BookingDate: day(13), Reference: "INV-0042"}}
	candidates := []models.MatchCandidate{invoiceCandidate("i1", "INV-0042", 15000, day(13))}

	results := MatchStatementLines(lines, candidates, map[string]string{"invoice/i1": "l1"}, testReconciliationConfig, testNow)

	assert.Equal(t, models.MatchAuto, results[0].Status)
}

var statementLineRowColumns = []string{"id", "org_id", "statement_id", "external_id", "account_id", "amount", "currency",
	"booking_date", "value_date", "reference", "end_to_end_id", "remittance_info", "counterparty", "source_format", "imported_at"}

func addStatementLine(rows *sqlmock.Rows, id string, amount int64, endToEnd string) *sqlmock.Rows {
	return rows.AddRow(id, testOrg, "stmt", "ext-"+id, testIBAN, amount, "EUR", day(13), day(13), "", endToEnd, "", "", "camt053", testNow)
}

func newTestReconciliationService(t *testing.T) (*ReconciliationService, sqlmock.Sqlmock, redismock.ClientMock) {
	db, mock := newMockDB(t)
	rdb, redisMock := redismock.NewClientMock()
	queue := NewReviewQueue(rdb, "review_queue", logging.Discard())
	svc := NewReconciliationService(db, newTestLedger(db), queue, newTestAudit(), testReconciliationConfig, logging.Discard())
	svc.now = fixedNow
	svc.iso.newID = func() string { return "msg-1" }
	return svc, mock, redisMock
}

func TestReconciliationService_Import(t *testing.T) {
	svc, mock, _ := newTestReconciliationService(t)
	data := "id,date,amount,currency,reference\n" +
		"tx-1,2026-03-13,2762.07,EUR,STRIPE-PO-123456\n" +
		"tx-2,2026-03-13,150.00,EUR,\n"

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO bank_statement_lines`).
		WithArgs(sqlmock.AnyArg(), testOrg, sqlmock.AnyArg(), "tx-1", "", 276207, "EUR", day(13), day(13),
			"STRIPE-PO-123456", "", "", "", "csv", testNow).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("l1"))
	mock.ExpectQuery(`INSERT INTO bank_statement_lines`).
		WithArgs(sqlmock.AnyArg(), testOrg, sqlmock.AnyArg(), "tx-2", "", 15000, "EUR", day(13), day(13),
			"", "", "", "", "csv", testNow).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	result, err := svc.Import(context.Background(), testOrg, FormatCSV, strings.NewReader(data))

	require.NoError(t, err)
	assert.Equal(t, 1, result.Imported)
	assert.Equal(t, 1, result.Duplicates)
	require.Len(t, result.Lines, 1)
	assert.Equal(t, "l1", result.Lines[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconciliationService_Run(t *testing.T) {
	svc, mock, redisMock := newTestReconciliationService(t)
	bank := models.BankAccount(testIBAN)

	mock.ExpectBegin()
	lineRows := sqlmock.NewRows(statementLineRowColumns)
	addStatementLine(lineRows, "l1", 276207, "STRIPE-PO-123456")
	addStatementLine(lineRows, "l2", 15000, "")
	mock.ExpectQuery(`FROM bank_statement_lines l\s+LEFT JOIN match_results m`).
		WithArgs(testOrg, testNow.AddDate(0, 0, -30), 500).
		WillReturnRows(lineRows)
	mock.ExpectQuery(`FROM payouts`).
		WithArgs(testOrg, testNow.AddDate(0, 0, -33)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "org_id", "provider", "provider_payout_id", "currency",
			"gross_amount", "fee_amount", "refund_amount", "net_amount", "arrival_date", "status"}).
			AddRow("p1", testOrg, "stripe", "STRIPE-PO-123456", "EUR", 285000, 8293, 0, 276207, day(12), "paid"))
	mock.ExpectQuery(`FROM invoices`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "org_id", "invoice_number", "customer_id", "currency",
			"amount_due", "due_date", "status"}))
	mock.ExpectQuery(`SELECT statement_line_id, target_type, target_id\s+FROM match_results`).
		WithArgs(testOrg).
		WillReturnRows(sqlmock.NewRows([]string{"statement_line_id", "target_type", "target_id"}))

	mock.ExpectExec(`INSERT INTO match_results`).
		WithArgs("l1", testOrg, "payout", "p1", 1.0, "auto_matched", sqlmock.AnyArg(), testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE match_results SET posted_at = \$1`).
		WithArgs(testNow, "l1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectBalanceLock(mock, bank, "EUR", 0, 0)
	expectAppend(mock, bank, "EUR", models.EntryTransfer, 276207, 0, 0, 900)
	mock.ExpectExec(`INSERT INTO match_results`).
		WithArgs("l2", testOrg, nil, nil, 0.0, "unmatched", "no candidate with this amount", testNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	item, err := json.Marshal(models.ReviewItem{
		Kind:      models.ReviewUnmatchedLine,
		OrgID:     testOrg,
		SubjectID: "l2",
		Amount:    15000,
		Currency:  "EUR",
		Detail:    "no candidate with this amount",
		QueuedAt:  testNow,
	})
	require.NoError(t, err)
	redisMock.ExpectRPush("review_queue:org_1", item).SetVal(1)

	run, err := svc.Run(context.Background(), testOrg, testNow)

	require.NoError(t, err)
	assert.Equal(t, 1, run.Auto)
	assert.Equal(t, 1, run.Unmatched)
	assert.Equal(t, 1, run.Posted)
	require.Len(t, run.Results, 2)
	assert.Equal(t, 1.0, run.Results[0].Confidence)
	assert.Equal(t, 0.0, run.Results[1].Confidence)
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.NoError(t, redisMock.ExpectationsWereMet())
}

func TestReconciliationService_RunNothingOpen(t *testing.T) {
	svc, mock, _ := newTestReconciliationService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM bank_statement_lines l`).
		WillReturnRows(sqlmock.NewRows(statementLineRowColumns))
	mock.ExpectCommit()

	run, err := svc.Run(context.Background(), testOrg, testNow)

	require.NoError(t, err)
	assert.Empty(t, run.Results)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconciliationService_Link(t *testing.T) {
	ctx := context.Background()
	bank := models.BankAccount(testIBAN)

	expectLineLock := func(mock sqlmock.Sqlmock) {
		mock.ExpectQuery(`FROM bank_statement_lines WHERE org_id = \$1 AND id = \$2 FOR UPDATE`).
			WithArgs(testOrg, "l2").
			WillReturnRows(addStatementLine(sqlmock.NewRows(statementLineRowColumns), "l2", 15000, ""))
	}

	t.Run("manual link posts the transfer", func(t *testing.T) {
		svc, mock, _ := newTestReconciliationService(t)

		mock.ExpectBegin()
		expectLineLock(mock)
		mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM invoices`).
			WithArgs(testOrg, "i7").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectExec(`INSERT INTO match_results`).
			WithArgs("l2", testOrg, "invoice", "i7", 1.0, "manual", "linked manually", testNow, "staff_1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE match_results SET posted_at`).
			WithArgs(testNow, "l2").
			WillReturnResult(sqlmock.NewResult(0, 1))
		expectBalanceLock(mock, bank, "EUR", 276207, 1)
		expectAppend(mock, bank, "EUR", models.EntryTransfer, 15000, 276207, 1, 901)
		mock.ExpectCommit()

		result, err := svc.Link(ctx, testOrg, "l2", models.TargetInvoice, "i7", "staff_1")

		require.NoError(t, err)
		assert.Equal(t, models.MatchManual, result.Status)
		assert.Equal(t, 1.0, result.Confidence)
		assert.Equal(t, "staff_1", result.ConfirmedBy)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("relinking an already posted line does not post again", func(t *testing.T) {
		svc, mock, _ := newTestReconciliationService(t)

		mock.ExpectBegin()
		expectLineLock(mock)
		mock.ExpectQuery(`SELECT EXISTS`).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectExec(`INSERT INTO match_results`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE match_results SET posted_at`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		_, err := svc.Link(ctx, testOrg, "l2", models.TargetInvoice, "i7", "staff_1")

		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown target", func(t *testing.T) {
		svc, mock, _ := newTestReconciliationService(t)

		mock.ExpectBegin()
		expectLineLock(mock)
		mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM payouts`).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectRollback()

		_, err := svc.Link(ctx, testOrg, "l2", models.TargetPayout, "p9", "staff_1")
		assert.ErrorIs(t, err, models.ErrMatchTargetNotFound)
	})

	t.Run("target confirmed for another line", func(t *testing.T) {
		svc, mock, _ := newTestReconciliationService(t)

		mock.ExpectBegin()
		expectLineLock(mock)
		mock.ExpectQuery(`SELECT EXISTS`).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectExec(`INSERT INTO match_results`).
			WillReturnError(&pq.Error{Code: "23505", Constraint: "match_results_confirmed_target"})
		mock.ExpectRollback()

		_, err := svc.Link(ctx, testOrg, "l2", models.TargetPayout, "p1", "staff_1")
		assert.ErrorIs(t, err, models.ErrTargetAlreadyMatched)
	})

	t.Run("unknown line", func(t *testing.T) {
		svc, mock, _ := newTestReconciliationService(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`FROM bank_statement_lines`).WillReturnRows(sqlmock.NewRows(statementLineRowColumns))
		mock.ExpectRollback()

		_, err := svc.Link(ctx, testOrg, "nope", models.TargetPayout, "p1", "staff_1")
		assert.ErrorIs(t, err, models.ErrStatementLineNotFound)
	})

	t.Run("bad target type", func(t *testing.T) {
		svc, _, _ := newTestReconciliationService(t)
		_, err := svc.Link(ctx, testOrg, "l2", "refund", "x", "staff_1")
		assert.ErrorIs(t, err, models.ErrMatchTargetNotFound)
	})
}

func TestReconciliationService_StatusReport(t *testing.T) {
	svc, mock, _ := newTestReconciliationService(t)

	mock.ExpectQuery(`FROM bank_statement_lines WHERE org_id = \$1 AND id = \$2`).
		WithArgs(testOrg, "l1").
		WillReturnRows(addStatementLine(sqlmock.NewRows(statementLineRowColumns), "l1", 276207, "STRIPE-PO-123456"))
	mock.ExpectQuery(`FROM match_results WHERE org_id = \$1 AND statement_line_id = \$2`).
		WithArgs(testOrg, "l1").
		WillReturnRows(sqlmock.NewRows([]string{"statement_line_id", "org_id", "target_type", "target_id",
			"confidence", "status", "reason", "matched_at", "confirmed_by"}).
			AddRow("l1", testOrg, "payout", "p1", 1.0, "auto_matched", "amount and reference match", testNow, ""))

	report, err := svc.StatusReport(context.Background(), testOrg, "l1")

	require.NoError(t, err)
	assert.Contains(t, report, "ACSC")
	assert.Contains(t, report, "STRIPE-PO-123456")
	assert.Contains(t, report, "ext-l1")
}
