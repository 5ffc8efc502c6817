package models

import (
	"strings"
	"time"
)

// StatementLine is one booked entry of an imported bank statement. Amount is
// signed: credits to the account are positive.
type StatementLine struct {
	ID             string    `json:"id" db:"id"`
	OrgID          string    `json:"orgId" db:"org_id"`
	StatementID    string    `json:"statementId" db:"statement_id"`
	ExternalID     string    `json:"externalId" db:"external_id"`
	AccountID      string    `json:"accountId" db:"account_id"` // IBAN or bank account number
	Amount         int64     `json:"amount" db:"amount"`
	Currency       string    `json:"currency" db:"currency"`
	BookingDate    time.Time `json:"bookingDate" db:"booking_date"`
	ValueDate      time.Time `json:"valueDate" db:"value_date"`
	Reference      string    `json:"reference,omitempty" db:"reference"`
	EndToEndID     string    `json:"endToEndId,omitempty" db:"end_to_end_id"`
	RemittanceInfo string    `json:"remittanceInfo,omitempty" db:"remittance_info"`
	Counterparty   string    `json:"counterparty,omitempty" db:"counterparty"`
	SourceFormat   string    `json:"sourceFormat" db:"source_format"`
	ImportedAt     time.Time `json:"importedAt" db:"imported_at"`
}

// ReferenceText joins every free-text field a payer may have used for a reference.
func (l *StatementLine) ReferenceText() string {
	parts := make([]string, 0, 3)
	for _, s := range []string{l.Reference, l.EndToEndID, l.RemittanceInfo} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

type TargetType string

const (
	TargetPayout  TargetType = "payout"
	TargetInvoice TargetType = "invoice"
)

// Payout is a provider settlement aggregating charges, refunds and fees.
type Payout struct {
	ID               string    `json:"id" db:"id"`
	OrgID            string    `json:"orgId" db:"org_id"`
	Provider         string    `json:"provider" db:"provider"`
	ProviderPayoutID string    `json:"providerPayoutId" db:"provider_payout_id"`
	Currency         string    `json:"currency" db:"currency"`
	GrossAmount      int64     `json:"grossAmount" db:"gross_amount"`
	FeeAmount        int64     `json:"feeAmount" db:"fee_amount"`
	RefundAmount     int64     `json:"refundAmount" db:"refund_amount"`
	NetAmount        int64     `json:"netAmount" db:"net_amount"`
	ArrivalDate      time.Time `json:"arrivalDate" db:"arrival_date"`
	Status           string    `json:"status" db:"status"`
}

type Invoice struct {
	ID            string    `json:"id" db:"id"`
	OrgID         string    `json:"orgId" db:"org_id"`
	InvoiceNumber string    `json:"invoiceNumber" db:"invoice_number"`
	CustomerID    string    `json:"customerId" db:"customer_id"`
	Currency      string    `json:"currency" db:"currency"`
	AmountDue     int64     `json:"amountDue" db:"amount_due"`
	DueDate       time.Time `json:"dueDate" db:"due_date"`
	Status        string    `json:"status" db:"status"`
}

// MatchCandidate is the common shape payouts and invoices are matched in.
type MatchCandidate struct {
	Type      TargetType `json:"type"`
	ID        string     `json:"id"`
	Reference string     `json:"reference"`
	Amount    int64      `json:"amount"`
	Currency  string     `json:"currency"`
	Date      time.Time  `json:"date"`
}

func (p *Payout) Candidate() MatchCandidate {
	return MatchCandidate{
		Type:      TargetPayout,
		ID:        p.ID,
		Reference: p.ProviderPayoutID,
		Amount:    p.NetAmount,
		Currency:  p.Currency,
		Date:      p.ArrivalDate,
	}
}

func (i *Invoice) Candidate() MatchCandidate {
	return MatchCandidate{
		Type:      TargetInvoice,
		ID:        i.ID,
		Reference: i.InvoiceNumber,
		Amount:    i.AmountDue,
		Currency:  i.Currency,
		Date:      i.DueDate,
	}
}

type MatchStatus string

const (
	MatchAuto      MatchStatus = "auto_matched"
	MatchPossible  MatchStatus = "possible_match"
	MatchUnmatched MatchStatus = "unmatched"
	MatchManual    MatchStatus = "manual"
)

// Confirmed reports whether the status links the line to a target for good.
func (s MatchStatus) Confirmed() bool {
	return s == MatchAuto || s == MatchManual
}

// MatchResult links a statement line to at most one payout or invoice.
// There is exactly one result per statement line.
type MatchResult struct {
	StatementLineID string      `json:"statementLineId" db:"statement_line_id"`
	OrgID           string      `json:"orgId" db:"org_id"`
	TargetType      TargetType  `json:"targetType,omitempty" db:"target_type"`
	TargetID        string      `json:"targetId,omitempty" db:"target_id"`
	Confidence      float64     `json:"confidence" db:"confidence"`
	Status          MatchStatus `json:"status" db:"status"`
	Reason          string      `json:"reason" db:"reason"`
	MatchedAt       time.Time   `json:"matchedAt" db:"matched_at"`
	ConfirmedBy     string      `json:"confirmedBy,omitempty" db:"confirmed_by"`
}

// ImportResult reports a statement import. Lines already imported under the
// same external id are counted as duplicates and left untouched.
type ImportResult struct {
	StatementID string          `json:"statementId"`
	Format      string          `json:"format"`
	Imported    int             `json:"imported"`
	Duplicates  int             `json:"duplicates"`
	Lines       []StatementLine `json:"lines"`
}

// RunResult summarizes one reconciliation pass.
type RunResult struct {
	Results   []MatchResult `json:"results"`
	Auto      int           `json:"autoMatched"`
	Possible  int           `json:"possibleMatches"`
	Unmatched int           `json:"unmatched"`
	Posted    int           `json:"posted"`
}

type LinkStatementLineRequest struct {
	TargetType TargetType `json:"targetType" validate:"required,oneof=payout invoice"`
	TargetID   string     `json:"targetId" validate:"required"`
}

const (
	ReviewUnmatchedLine = "unmatched_line"
	ReviewPossibleMatch = "possible_match"
	ReviewCashVariance  = "cash_variance"
)

// ReviewItem is queued for a person when automation cannot settle something.
type ReviewItem struct {
	Kind      string    `json:"kind"`
	OrgID     string    `json:"orgId"`
	SubjectID string    `json:"subjectId"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	Detail    string    `json:"detail"`
	QueuedAt  time.Time `json:"queuedAt"`
}
