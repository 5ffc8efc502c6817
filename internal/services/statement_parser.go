package services

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/moov-io/iso20022/pkg/camt_v08"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/document"
	"github.com/shopspring/decimal"
	"github.com/studiobook/backend/internal/models"
)

type StatementFormat string

const (
	FormatCAMT053 StatementFormat = "camt053"
	FormatCSV     StatementFormat = "csv"
)

// ParseStatementFormat accepts the spellings clients send for a format.
func ParseStatementFormat(s string) (StatementFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "camt053", "camt.053", "camt", "xml":
		return FormatCAMT053, nil
	case "csv":
		return FormatCSV, nil
	}
	return "", fmt.Errorf("%w: %q", models.ErrUnsupportedStatementFormat, s)
}

// ParsedStatement is a statement file reduced to its booked lines. The id is
// derived from the file content, so importing the same file twice yields the
// same statement.
type ParsedStatement struct {
	StatementID string
	Format      StatementFormat
	Lines       []models.StatementLine
}

// ParseStatement reads a camt.053 or CSV statement. Lines come back without
// org or row ids; the importer assigns those.
func ParseStatement(format StatementFormat, r io.Reader) (*ParsedStatement, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read statement: %w", err)
	}
	sum := sha256.Sum256(data)
	parsed := &ParsedStatement{StatementID: hex.EncodeToString(sum[:8]), Format: format}

	switch format {
	case FormatCAMT053:
		parsed.Lines, err = parseCAMT053(data)
	case FormatCSV:
		parsed.Lines, err = parseStatementCSV(data)
	default:
		return nil, fmt.Errorf("%w: %q", models.ErrUnsupportedStatementFormat, format)
	}
	if err != nil {
		return nil, err
	}
	seen := make(map[string]int)
	for i := range parsed.Lines {
		line := &parsed.Lines[i]
		line.StatementID = parsed.StatementID
		line.SourceFormat = string(format)
		if line.ExternalID == "" {
			key := lineFingerprint(*line)
			seen[key]++
			line.ExternalID = fmt.Sprintf("%s-%d", key, seen[key])
		}
	}
	return parsed, nil
}

// lineFingerprint identifies a bank row by its content, so the same row in two
// overlapping exports gets the same external id. Identical rows within one
// file are told apart by their occurrence number.
func lineFingerprint(l models.StatementLine) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		l.BookingDate.Format("2006-01-02"),
		strconv.FormatInt(l.Amount, 10),
		l.Currency,
		l.Reference,
		l.AccountID,
		l.RemittanceInfo,
	}, "|")))
	return hex.EncodeToString(sum[:8])
}

// camt053NamespacePrefix covers every camt.053 version. Only .001.08 is
// known to the document registry; earlier versions use the same element
// names for everything read here.
const camt053NamespacePrefix = "urn:iso:std:iso:20022:tech:xsd:camt.053.001."

// camtLegacyFields picks up the two elements whose layout changed in .001.08:
// <Sts> used to be plain text and related parties carried <Nm> directly.
type camtLegacyFields struct {
	Stmt []struct {
		Ntry []struct {
			Sts      string   `xml:"Sts"`
			Debtor   []string `xml:"NtryDtls>TxDtls>RltdPties>Dbtr>Nm"`
			Creditor []string `xml:"NtryDtls>TxDtls>RltdPties>Cdtr>Nm"`
		} `xml:"Ntry"`
	} `xml:"BkToCstmrStmt>Stmt"`
}

func parseCAMT053(data []byte) ([]models.StatementLine, error) {
	doc, err := decodeCAMT053(data)
	if err != nil {
		return nil, err
	}
	if len(doc.Stmt) == 0 {
		return nil, fmt.Errorf("%w: camt.053 document has no statements", models.ErrUnsupportedStatementFormat)
	}
	var legacy camtLegacyFields
	if err := xml.Unmarshal(data, &legacy); err != nil {
		return nil, fmt.Errorf("%w: camt.053: %v", models.ErrUnsupportedStatementFormat, err)
	}

	var lines []models.StatementLine
	for s, stmt := range doc.Stmt {
		account := ""
		if stmt.Acct != nil {
			account = string(stmt.Acct.Id.IBAN)
			if account == "" {
				account = string(stmt.Acct.Id.Othr.Id)
			}
		}
		for i, ntry := range stmt.Ntry {
			var extra camtLegacyEntry
			if s < len(legacy.Stmt) && i < len(legacy.Stmt[s].Ntry) {
				e := legacy.Stmt[s].Ntry[i]
				extra = camtLegacyEntry{status: e.Sts, debtors: e.Debtor, creditors: e.Creditor}
			}
			if status := entryStatus(ntry.Sts, extra.status); status != "" && status != "BOOK" {
				continue
			}
			line, err := camtLine(ntry, extra)
			if err != nil {
				return nil, fmt.Errorf("statement %s entry %d: %w", stmt.Id, i+1, err)
			}
			line.AccountID = account
			if line.ExternalID == "" && stmt.Id != "" {
				line.ExternalID = fmt.Sprintf("%s-%d", stmt.Id, i+1)
			}
			lines = append(lines, line)
		}
	}
	return lines, nil
}

// decodeCAMT053 parses a .001.08 statement through the ISO 20022 document
// registry and earlier camt.053 versions straight into the same types.
func decodeCAMT053(data []byte) (*camt_v08.BankToCustomerStatementV08, error) {
	doc, err := document.ParseIso20022Document(data)
	if err == nil {
		stmt, ok := doc.InspectMessage().(*camt_v08.BankToCustomerStatementV08)
		if !ok {
			return nil, fmt.Errorf("%w: %s is not a camt.053 statement", models.ErrUnsupportedStatementFormat, doc.NameSpace())
		}
		return stmt, nil
	}
	if !strings.HasPrefix(rootNamespace(data), camt053NamespacePrefix) {
		return nil, fmt.Errorf("%w: camt.053: %v", models.ErrUnsupportedStatementFormat, err)
	}

	var legacy struct {
		Statement camt_v08.BankToCustomerStatementV08 `xml:"BkToCstmrStmt"`
	}
	if err := xml.Unmarshal(data, &legacy); err != nil {
		return nil, fmt.Errorf("%w: camt.053: %v", models.ErrUnsupportedStatementFormat, err)
	}
	return &legacy.Statement, nil
}

func rootNamespace(data []byte) string {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err != nil {
			return ""
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start.Name.Space
		}
	}
}

type camtLegacyEntry struct {
	status    string
	debtors   []string
	creditors []string
}

func entryStatus(sts camt_v08.EntryStatus1Choice, legacy string) string {
	if sts.Cd != "" {
		return strings.TrimSpace(string(sts.Cd))
	}
	if sts.Prtry != "" {
		return strings.TrimSpace(string(sts.Prtry))
	}
	return strings.TrimSpace(legacy)
}

func camtLine(ntry camt_v08.ReportEntry10, extra camtLegacyEntry) (models.StatementLine, error) {
	currency := strings.ToUpper(strings.TrimSpace(string(ntry.Amt.Ccy)))
	amount, err := models.DecimalToMinor(decimal.NewFromFloat(ntry.Amt.Value).Abs(), currency)
	if err != nil {
		return models.StatementLine{}, err
	}
	switch strings.TrimSpace(string(ntry.CdtDbtInd)) {
	case "CRDT":
	case "DBIT":
		amount = -amount
	default:
		return models.StatementLine{}, fmt.Errorf("%w: credit/debit indicator %q", models.ErrUnsupportedStatementFormat, ntry.CdtDbtInd)
	}

	booking, ok := camtDate(ntry.BookgDt)
	if !ok {
		return models.StatementLine{}, fmt.Errorf("%w: entry has no booking date", models.ErrUnsupportedStatementFormat)
	}
	value, ok := camtDate(ntry.ValDt)
	if !ok {
		value = booking
	}

	line := models.StatementLine{
		ExternalID:  camtText(ntry.AcctSvcrRef),
		Amount:      amount,
		Currency:    currency,
		BookingDate: booking,
		ValueDate:   value,
		Reference:   camtText(ntry.NtryRef),
	}
	if line.ExternalID == "" {
		line.ExternalID = line.Reference
	}

	var remittance []string
	for _, dtls := range ntry.NtryDtls {
		for _, tx := range dtls.TxDtls {
			if refs := tx.Refs; refs != nil {
				if e2e := camtText(refs.EndToEndId); line.EndToEndID == "" && e2e != "" && e2e != "NOTPROVIDED" {
					line.EndToEndID = e2e
				}
				if line.Reference == "" {
					line.Reference = camtText(refs.InstrId)
				}
			}
			if rmt := tx.RmtInf; rmt != nil {
				for _, strd := range rmt.Strd {
					if strd.CdtrRefInf != nil && camtText(strd.CdtrRefInf.Ref) != "" {
						remittance = append(remittance, camtText(strd.CdtrRefInf.Ref))
					}
				}
				for _, u := range rmt.Ustrd {
					remittance = append(remittance, string(u))
				}
			}
			if line.Counterparty == "" && tx.RltdPties != nil {
				party := tx.RltdPties.Dbtr
				if amount < 0 {
					party = tx.RltdPties.Cdtr
				}
				if party != nil && party.Pty != nil && party.Pty.Nm != nil {
					line.Counterparty = string(*party.Pty.Nm)
				}
			}
		}
	}
	if line.Counterparty == "" {
		names := extra.debtors
		if amount < 0 {
			names = extra.creditors
		}
		if len(names) > 0 {
			line.Counterparty = strings.TrimSpace(names[0])
		}
	}
	if len(remittance) == 0 && ntry.AddtlNtryInf != nil {
		remittance = append(remittance, string(*ntry.AddtlNtryInf))
	}
	line.RemittanceInfo = strings.Join(remittance, " ")
	return line, nil
}

// camtDate returns the calendar day of a Dt or DtTm choice.
func camtDate(d *camt_v08.DateAndDateTime2Choice) (time.Time, bool) {
	if d == nil {
		return time.Time{}, false
	}
	t := time.Time(d.Dt)
	if t.IsZero() {
		t = time.Time(d.DtTm)
	}
	if t.IsZero() {
		return time.Time{}, false
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
}

func camtText(s *common.Max35Text) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(string(*s))
}

var statementDateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"02.01.2006",
	"02/01/2006",
	"20060102",
}

// parseStatementDate returns the calendar day in UTC.
func parseStatementDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range statementDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: date %q", models.ErrUnsupportedStatementFormat, s)
}

// csvColumns maps each statement field to the header names banks use for it.
var csvColumns = map[string][]string{
	"external_id":  {"id", "external_id", "transaction_id", "transaction id", "reference_id"},
	"account":      {"account", "account_id", "iban", "account number"},
	"booking_date": {"booking_date", "booking date", "date", "posting_date", "posting date", "transaction date"},
	"value_date":   {"value_date", "value date"},
	"amount":       {"amount", "net", "net amount"},
	"credit":       {"credit", "paid in", "money in"},
	"debit":        {"debit", "paid out", "money out"},
	"currency":     {"currency", "ccy"},
	"reference":    {"reference", "ref", "payment reference"},
	"end_to_end":   {"end_to_end_id", "end to end id", "endtoendid"},
	"remittance":   {"description", "remittance", "remittance_info", "details", "memo", "narrative"},
	"counterparty": {"counterparty", "name", "payer", "payee"},
}

func parseStatementCSV(data []byte) ([]models.StatementLine, error) {
	reader := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: csv header: %v", models.ErrUnsupportedStatementFormat, err)
	}
	index := csvHeaderIndex(header)
	if _, ok := index["booking_date"]; !ok {
		return nil, fmt.Errorf("%w: csv has no date column", models.ErrUnsupportedStatementFormat)
	}
	if _, ok := index["currency"]; !ok {
		return nil, fmt.Errorf("%w: csv has no currency column", models.ErrUnsupportedStatementFormat)
	}
	_, hasAmount := index["amount"]
	_, hasCredit := index["credit"]
	if !hasAmount && !hasCredit {
		return nil, fmt.Errorf("%w: csv has no amount column", models.ErrUnsupportedStatementFormat)
	}

	var lines []models.StatementLine
	for row := 2; ; row++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: csv row %d: %v", models.ErrUnsupportedStatementFormat, row, err)
		}
		field := func(name string) string {
			i, ok := index[name]
			if !ok || i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}
		if strings.Join(record, "") == "" {
			continue
		}

		line, err := csvLine(field)
		if err != nil {
			return nil, fmt.Errorf("csv row %d: %w", row, err)
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func csvHeaderIndex(header []string) map[string]int {
	index := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		for field, aliases := range csvColumns {
			if _, seen := index[field]; seen {
				continue
			}
			for _, alias := range aliases {
				if h == alias {
					index[field] = i
				}
			}
		}
	}
	return index
}

func csvLine(field func(string) string) (models.StatementLine, error) {
	currency := strings.ToUpper(field("currency"))
	amount, err := csvAmount(field, currency)
	if err != nil {
		return models.StatementLine{}, err
	}
	booking, err := parseStatementDate(field("booking_date"))
	if err != nil {
		return models.StatementLine{}, err
	}
	value := booking
	if v := field("value_date"); v != "" {
		if value, err = parseStatementDate(v); err != nil {
			return models.StatementLine{}, err
		}
	}
	return models.StatementLine{
		ExternalID:     field("external_id"),
		AccountID:      field("account"),
		Amount:         amount,
		Currency:       currency,
		BookingDate:    booking,
		ValueDate:      value,
		Reference:      field("reference"),
		EndToEndID:     field("end_to_end"),
		RemittanceInfo: field("remittance"),
		Counterparty:   field("counterparty"),
	}, nil
}

// csvAmount reads either a signed amount column or a credit/debit pair.
// Thousands separators are dropped.
func csvAmount(field func(string) string, currency string) (int64, error) {
	clean := func(s string) string { return strings.ReplaceAll(s, ",", "") }
	if s := field("amount"); s != "" {
		return models.ParseAmount(clean(s), currency)
	}
	credit, debit := clean(field("credit")), clean(field("debit"))
	switch {
	case credit != "":
		return models.ParseAmount(credit, currency)
	case debit != "":
		d, err := decimal.NewFromString(debit)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", models.ErrInvalidAmount, debit)
		}
		return models.DecimalToMinor(d.Abs().Neg(), currency)
	}
	return 0, fmt.Errorf("%w: row has no amount", models.ErrInvalidAmount)
}
