package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/studiobook/backend/internal/audit"
	"github.com/studiobook/backend/internal/config"
	"github.com/studiobook/backend/internal/database"
	"github.com/studiobook/backend/internal/metrics"
	"github.com/studiobook/backend/internal/models"
)

const (
	confirmedTargetConstraint = "match_results_confirmed_target"
	referenceStatementLine    = "statement_line"
	minReferenceLength        = 4
	possibleMatchCeiling      = 0.9
	reconciliationActor       = "reconciliation"
)

func targetKey(t models.TargetType, id string) string {
	return string(t) + "/" + id
}

// normalizeReference keeps upper-cased letters and digits so that
// "STRIPE-PO-123456" and "stripe po 123456" compare equal.
func normalizeReference(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

func absInt64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

// MatchStatementLines scores every line against the candidate payouts and
// invoices. claimed maps targets already confirmed for a line to that line's
// id; such targets are only offered to the line holding them. Lines are
// matched oldest first and a target auto-matched in this pass is not offered
// to later lines.
func MatchStatementLines(lines []models.StatementLine, candidates []models.MatchCandidate, claimed map[string]string, cfg config.ReconciliationConfig, now time.Time) []models.MatchResult {
	taken := make(map[string]string, len(claimed))
	for k, v := range claimed {
		taken[k] = v
	}

	ordered := make([]models.StatementLine, len(lines))
	copy(ordered, lines)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].BookingDate.Equal(ordered[j].BookingDate) {
			return ordered[i].BookingDate.Before(ordered[j].BookingDate)
		}
		return ordered[i].ID < ordered[j].ID
	})

	window := time.Duration(cfg.WindowDays) * 24 * time.Hour
	results := make([]models.MatchResult, 0, len(ordered))
	for _, line := range ordered {
		result := matchLine(line, candidates, taken, window, cfg.AmountTolerance)
		result.MatchedAt = now
		if result.Status == models.MatchAuto {
			taken[targetKey(result.TargetType, result.TargetID)] = line.ID
		}
		results = append(results, result)
	}
	return results
}

func matchLine(line models.StatementLine, candidates []models.MatchCandidate, taken map[string]string, window time.Duration, tolerance int64) models.MatchResult {
	result := models.MatchResult{StatementLineID: line.ID, OrgID: line.OrgID, Status: models.MatchUnmatched}
	text := normalizeReference(line.ReferenceText())

	var byAmount, byBoth []models.MatchCandidate
	referenceOnly := false
	for _, c := range candidates {
		if !strings.EqualFold(c.Currency, line.Currency) {
			continue
		}
		if owner, ok := taken[targetKey(c.Type, c.ID)]; ok && owner != line.ID {
			continue
		}
		gap := line.BookingDate.Sub(c.Date)
		if gap < 0 {
			gap = -gap
		}
		if gap > window {
			continue
		}
		ref := normalizeReference(c.Reference)
		refMatch := len(ref) >= minReferenceLength && strings.Contains(text, ref)
		if absInt64(line.Amount-c.Amount) > tolerance {
			referenceOnly = referenceOnly || refMatch
			continue
		}
		byAmount = append(byAmount, c)
		if refMatch {
			byBoth = append(byBoth, c)
		}
	}

	switch {
	case len(byBoth) == 1:
		result.TargetType, result.TargetID = byBoth[0].Type, byBoth[0].ID
		result.Status = models.MatchAuto
		result.Confidence = 1.0
		result.Reason = fmt.Sprintf("amount and reference match %s %s", byBoth[0].Type, byBoth[0].Reference)
	case len(byAmount) > 0:
		pool := byAmount
		reason := "amount matches, no reference"
		if len(byBoth) > 1 {
			pool = byBoth
			reason = "amount and reference match several candidates"
		}
		best := nearest(pool, line.BookingDate)
		result.TargetType, result.TargetID = best.Type, best.ID
		result.Status = models.MatchPossible
		result.Confidence = possibleMatchCeiling / float64(len(byAmount))
		result.Reason = fmt.Sprintf("%s; %d candidate(s) with this amount", reason, len(byAmount))
	case referenceOnly:
		result.Reason = "reference matches but amount differs"
	default:
		result.Reason = "no candidate with this amount"
	}
	return result
}

func nearest(pool []models.MatchCandidate, day time.Time) models.MatchCandidate {
	best := pool[0]
	bestGap := absInt64(int64(day.Sub(best.Date)))
	for _, c := range pool[1:] {
		if gap := absInt64(int64(day.Sub(c.Date))); gap < bestGap {
			best, bestGap = c, gap
		}
	}
	return best
}

// ReconciliationService imports bank statements and matches their lines to
// provider payouts and invoices. It never touches wallet balances; a
// confirmed match books the line once on the bank account's ledger.
type ReconciliationService struct {
	db     *sql.DB
	ledger *LedgerService
	review *ReviewQueue
	audit  *audit.Logger
	iso    *ISO20022Service
	cfg    config.ReconciliationConfig
	log    *logrus.Entry
	now    func() time.Time
}

func NewReconciliationService(db *sql.DB, ledger *LedgerService, review *ReviewQueue, auditLogger *audit.Logger, cfg config.ReconciliationConfig, log *logrus.Entry) *ReconciliationService {
	return &ReconciliationService{
		db:     db,
		ledger: ledger,
		review: review,
		audit:  auditLogger,
		iso:    NewISO20022Service(),
		cfg:    cfg,
		log:    log.WithField("component", "reconciliation"),
		now:    time.Now,
	}
}

// Import parses a statement and stores its lines. Re-importing a file is
// harmless: lines are keyed by external id and never rewritten.
func (s *ReconciliationService) Import(ctx context.Context, orgID string, format StatementFormat, r io.Reader) (*models.ImportResult, error) {
	parsed, err := ParseStatement(format, r)
	if err != nil {
		return nil, err
	}

	var result *models.ImportResult
	err = s.ledger.InTx(ctx, func(tx *sql.Tx) error {
		result = &models.ImportResult{StatementID: parsed.StatementID, Format: string(format), Lines: []models.StatementLine{}}
		importedAt := s.now()
		for _, line := range parsed.Lines {
			line.ID = uuid.NewString()
			line.OrgID = orgID
			line.ImportedAt = importedAt
			err := tx.QueryRowContext(ctx, `
				INSERT INTO bank_statement_lines (id, org_id, statement_id, external_id, account_id, amount, currency,
					booking_date, value_date, reference, end_to_end_id, remittance_info, counterparty, source_format, imported_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
				ON CONFLICT (org_id, external_id) DO NOTHING
				RETURNING id`,
				line.ID, orgID, line.StatementID, line.ExternalID, line.AccountID, line.Amount, line.Currency,
				line.BookingDate, line.ValueDate, line.Reference, line.EndToEndID, line.RemittanceInfo,
				line.Counterparty, line.SourceFormat, importedAt,
			).Scan(&line.ID)
			if errors.Is(err, sql.ErrNoRows) {
				result.Duplicates++
				continue
			}
			if err != nil {
				return fmt.Errorf("insert statement line %s: %w", line.ExternalID, err)
			}
			result.Imported++
			result.Lines = append(result.Lines, line)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"org_id":     orgID,
		"statement":  result.StatementID,
		"format":     format,
		"imported":   result.Imported,
		"duplicates": result.Duplicates,
	}).Info("statement imported")
	return result, nil
}

// Run matches every line in the lookback window that is not yet confirmed.
// Results are upserted per line, so running twice changes nothing that a
// person confirmed and creates no second result for a line.
func (s *ReconciliationService) Run(ctx context.Context, orgID string, now time.Time) (*models.RunResult, error) {
	timer := prometheus.NewTimer(metrics.ReconciliationRunDuration)
	defer timer.ObserveDuration()

	since := now.AddDate(0, 0, -s.cfg.LookbackDays)
	var run *models.RunResult
	var lines map[string]models.StatementLine
	err := s.ledger.InTx(ctx, func(tx *sql.Tx) error {
		run = &models.RunResult{}
		open, err := s.openLines(ctx, tx, orgID, since)
		if err != nil {
			return err
		}
		if len(open) == 0 {
			run.Results = []models.MatchResult{}
			return nil
		}
		candidates, err := s.candidates(ctx, tx, orgID, since.AddDate(0, 0, -s.cfg.WindowDays))
		if err != nil {
			return err
		}
		claimed, err := s.claimedTargets(ctx, tx, orgID)
		if err != nil {
			return err
		}

		lines = make(map[string]models.StatementLine, len(open))
		for _, l := range open {
			lines[l.ID] = l
		}
		run.Results = MatchStatementLines(open, candidates, claimed, s.cfg, now)
		for i := range run.Results {
			res := &run.Results[i]
			if err := s.storeResult(ctx, tx, res); err != nil {
				return err
			}
			switch res.Status {
			case models.MatchAuto:
				run.Auto++
				line := lines[res.StatementLineID]
				posted, err := s.postTransfer(ctx, tx, &line, reconciliationActor, now)
				if err != nil {
					return err
				}
				if posted {
					run.Posted++
				}
			case models.MatchPossible:
				run.Possible++
			default:
				run.Unmatched++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	review := make([]models.ReviewItem, 0, run.Possible+run.Unmatched)
	for _, res := range run.Results {
		metrics.ReconciliationMatches.WithLabelValues(string(res.Status)).Inc()
		if res.Status.Confirmed() {
			continue
		}
		line := lines[res.StatementLineID]
		kind := models.ReviewUnmatchedLine
		if res.Status == models.MatchPossible {
			kind = models.ReviewPossibleMatch
		}
		review = append(review, models.ReviewItem{
			Kind:      kind,
			OrgID:     orgID,
			SubjectID: res.StatementLineID,
			Amount:    line.Amount,
			Currency:  line.Currency,
			Detail:    res.Reason,
			QueuedAt:  now,
		})
	}
	s.review.pushAll(ctx, review)

	s.log.WithFields(logrus.Fields{
		"org_id":    orgID,
		"lines":     len(run.Results),
		"auto":      run.Auto,
		"possible":  run.Possible,
		"unmatched": run.Unmatched,
		"posted":    run.Posted,
	}).Info("reconciliation run finished")
	return run, nil
}

// Link confirms a line against a target chosen by a person. It replaces
// whatever the matcher proposed, and a later run leaves it alone.
func (s *ReconciliationService) Link(ctx context.Context, orgID, lineID string, targetType models.TargetType, targetID, actor string) (*models.MatchResult, error) {
	var table string
	switch targetType {
	case models.TargetPayout:
		table = "payouts"
	case models.TargetInvoice:
		table = "invoices"
	default:
		return nil, fmt.Errorf("%w: target type %q", models.ErrMatchTargetNotFound, targetType)
	}

	var result *models.MatchResult
	err := s.ledger.InTx(ctx, func(tx *sql.Tx) error {
		line, err := scanStatementLine(tx.QueryRowContext(ctx,
			`SELECT `+statementLineColumns+` FROM bank_statement_lines WHERE org_id = $1 AND id = $2 FOR UPDATE`,
			orgID, lineID))
		if err != nil {
			return err
		}

		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM `+table+` WHERE org_id = $1 AND id = $2)`, orgID, targetID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check match target: %w", err)
		}
		if !exists {
			return fmt.Errorf("%w: %s %s", models.ErrMatchTargetNotFound, targetType, targetID)
		}

		now := s.now()
		result = &models.MatchResult{
			StatementLineID: line.ID,
			OrgID:           orgID,
			TargetType:      targetType,
			TargetID:        targetID,
			Confidence:      1.0,
			Status:          models.MatchManual,
			Reason:          "linked manually",
			MatchedAt:       now,
			ConfirmedBy:     actor,
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO match_results (statement_line_id, org_id, target_type, target_id, confidence, status, reason, matched_at, confirmed_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (statement_line_id) DO UPDATE SET
				target_type = EXCLUDED.target_type, target_id = EXCLUDED.target_id, confidence = EXCLUDED.confidence,
				status = EXCLUDED.status, reason = EXCLUDED.reason, matched_at = EXCLUDED.matched_at,
				confirmed_by = EXCLUDED.confirmed_by`,
			line.ID, orgID, string(targetType), targetID, result.Confidence, string(result.Status), result.Reason, now, actor,
		)
		if database.IsUniqueViolation(err, confirmedTargetConstraint) {
			return fmt.Errorf("%w: %s %s", models.ErrTargetAlreadyMatched, targetType, targetID)
		}
		if err != nil {
			return fmt.Errorf("store manual match: %w", err)
		}
		_, err = s.postTransfer(ctx, tx, line, actor, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.ReconciliationMatches.WithLabelValues(string(models.MatchManual)).Inc()
	s.audit.LogOperation(orgID, "statement_line/"+lineID, "manual_link", actor, map[string]string{
		"target_type": string(targetType),
		"target_id":   targetID,
	})
	return result, nil
}

// StatusReport renders the line's reconciliation state as a pacs.002 message.
func (s *ReconciliationService) StatusReport(ctx context.Context, orgID, lineID string) (string, error) {
	line, err := scanStatementLine(s.db.QueryRowContext(ctx,
		`SELECT `+statementLineColumns+` FROM bank_statement_lines WHERE org_id = $1 AND id = $2`, orgID, lineID))
	if err != nil {
		return "", err
	}
	result, err := s.Result(ctx, orgID, lineID)
	if err != nil {
		return "", err
	}
	return s.iso.ConvertToXML(s.iso.CreatePacs002(line, result, s.now()))
}

// Result returns the line's match result, or nil when it was never matched.
func (s *ReconciliationService) Result(ctx context.Context, orgID, lineID string) (*models.MatchResult, error) {
	var res models.MatchResult
	var targetType, targetID sql.NullString
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT statement_line_id, org_id, target_type, target_id, confidence, status, reason, matched_at, confirmed_by
		FROM match_results WHERE org_id = $1 AND statement_line_id = $2`,
		orgID, lineID,
	).Scan(&res.StatementLineID, &res.OrgID, &targetType, &targetID, &res.Confidence, &status, &res.Reason,
		&res.MatchedAt, &res.ConfirmedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load match result: %w", err)
	}
	res.TargetType = models.TargetType(targetType.String)
	res.TargetID = targetID.String
	res.Status = models.MatchStatus(status)
	return &res, nil
}

func (s *ReconciliationService) batchSize() int {
	if s.cfg.BatchSize <= 0 {
		return 500
	}
	return s.cfg.BatchSize
}

func (s *ReconciliationService) openLines(ctx context.Context, tx *sql.Tx, orgID string, since time.Time) ([]models.StatementLine, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT `+prefixedStatementLineColumns+`
		FROM bank_statement_lines l
		LEFT JOIN match_results m ON m.statement_line_id = l.id
		WHERE l.org_id = $1 AND l.booking_date >= $2
			AND (m.status IS NULL OR m.status NOT IN ('auto_matched', 'manual'))
		ORDER BY l.booking_date, l.id
		LIMIT $3`,
		orgID, since, s.batchSize(),
	)
	if err != nil {
		return nil, fmt.Errorf("query open statement lines: %w", err)
	}
	defer rows.Close()

	var lines []models.StatementLine
	for rows.Next() {
		line, err := scanStatementLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, *line)
	}
	return lines, rows.Err()
}

func (s *ReconciliationService) candidates(ctx context.Context, tx *sql.Tx, orgID string, since time.Time) ([]models.MatchCandidate, error) {
	var out []models.MatchCandidate

	rows, err := tx.QueryContext(ctx, `
		SELECT id, org_id, provider, provider_payout_id, currency, gross_amount, fee_amount, refund_amount, net_amount, arrival_date, status
		FROM payouts
		WHERE org_id = $1 AND arrival_date >= $2 AND status NOT IN ('failed', 'canceled')`,
		orgID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("query payouts: %w", err)
	}
	for rows.Next() {
		var p models.Payout
		if err := rows.Scan(&p.ID, &p.OrgID, &p.Provider, &p.ProviderPayoutID, &p.Currency, &p.GrossAmount,
			&p.FeeAmount, &p.RefundAmount, &p.NetAmount, &p.ArrivalDate, &p.Status); err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, p.Candidate())
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = tx.QueryContext(ctx, `
		SELECT id, org_id, invoice_number, customer_id, currency, amount_due, due_date, status
		FROM invoices
		WHERE org_id = $1 AND due_date >= $2 AND status <> 'void'`,
		orgID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("query invoices: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var inv models.Invoice
		if err := rows.Scan(&inv.ID, &inv.OrgID, &inv.InvoiceNumber, &inv.CustomerID, &inv.Currency,
			&inv.AmountDue, &inv.DueDate, &inv.Status); err != nil {
			return nil, err
		}
		out = append(out, inv.Candidate())
	}
	return out, rows.Err()
}

func (s *ReconciliationService) claimedTargets(ctx context.Context, tx *sql.Tx, orgID string) (map[string]string, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT statement_line_id, target_type, target_id
		FROM match_results
		WHERE org_id = $1 AND status IN ('auto_matched', 'manual') AND target_id IS NOT NULL`,
		orgID,
	)
	if err != nil {
		return nil, fmt.Errorf("query claimed targets: %w", err)
	}
	defer rows.Close()

	claimed := map[string]string{}
	for rows.Next() {
		var lineID, targetType, targetID string
		if err := rows.Scan(&lineID, &targetType, &targetID); err != nil {
			return nil, err
		}
		claimed[targetKey(models.TargetType(targetType), targetID)] = lineID
	}
	return claimed, rows.Err()
}

// storeResult upserts a matcher result. Confirmed rows are never replaced by
// the matcher.
func (s *ReconciliationService) storeResult(ctx context.Context, tx *sql.Tx, res *models.MatchResult) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO match_results (statement_line_id, org_id, target_type, target_id, confidence, status, reason, matched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (statement_line_id) DO UPDATE SET
			target_type = EXCLUDED.target_type, target_id = EXCLUDED.target_id, confidence = EXCLUDED.confidence,
			status = EXCLUDED.status, reason = EXCLUDED.reason, matched_at = EXCLUDED.matched_at
		WHERE match_results.status NOT IN ('auto_matched', 'manual')`,
		res.StatementLineID, res.OrgID, nullString(string(res.TargetType)), nullString(res.TargetID),
		res.Confidence, string(res.Status), res.Reason, res.MatchedAt,
	)
	if database.IsUniqueViolation(err, confirmedTargetConstraint) {
		return fmt.Errorf("%w: target %s claimed concurrently", models.ErrConcurrentModification, res.TargetID)
	}
	if err != nil {
		return fmt.Errorf("store match result: %w", err)
	}
	return nil
}

// postTransfer books a confirmed line on the bank account ledger. posted_at
// makes it happen once per line however often the line is relinked.
func (s *ReconciliationService) postTransfer(ctx context.Context, tx *sql.Tx, line *models.StatementLine, actor string, now time.Time) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE match_results SET posted_at = $1 WHERE statement_line_id = $2 AND posted_at IS NULL`,
		now, line.ID)
	if err != nil {
		return false, fmt.Errorf("mark posted: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return false, err
	}

	account := models.BankAccount(line.AccountID)
	before, err := s.ledger.LockedBalance(ctx, tx, line.OrgID, account, line.Currency)
	if err != nil {
		return false, err
	}
	_, err = s.ledger.Append(ctx, tx, &models.LedgerEntry{
		OrgID:         line.OrgID,
		AccountType:   account.Type,
		AccountID:     account.ID,
		Unit:          line.Currency,
		Kind:          models.EntryTransfer,
		Delta:         line.Amount,
		BalanceBefore: before,
		ReferenceType: referenceStatementLine,
		ReferenceID:   line.ID,
		Actor:         actor,
	})
	return err == nil, err
}

const statementLineColumns = `id, org_id, statement_id, external_id, account_id, amount, currency, booking_date,
	value_date, reference, end_to_end_id, remittance_info, counterparty, source_format, imported_at`

const prefixedStatementLineColumns = `l.id, l.org_id, l.statement_id, l.external_id, l.account_id, l.amount, l.currency,
	l.booking_date, l.value_date, l.reference, l.end_to_end_id, l.remittance_info, l.counterparty, l.source_format, l.imported_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStatementLine(row rowScanner) (*models.StatementLine, error) {
	var l models.StatementLine
	err := row.Scan(&l.ID, &l.OrgID, &l.StatementID, &l.ExternalID, &l.AccountID, &l.Amount, &l.Currency,
		&l.BookingDate, &l.ValueDate, &l.Reference, &l.EndToEndID, &l.RemittanceInfo, &l.Counterparty,
		&l.SourceFormat, &l.ImportedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrStatementLineNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load statement line: %w", err)
	}
	return &l, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
