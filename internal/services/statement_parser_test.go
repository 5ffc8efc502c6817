package services

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/studiobook/backend/internal/models"
)

const camtSample = `<?xml version="1.0" encoding="UTF-8"?>
<Document xmlns="urn:iso:std:iso:20022:tech:xsd:camt.053.001.02">
  <BkToCstmrStmt>
    <GrpHdr><MsgId>STMT-20260314</MsgId></GrpHdr>
    <Stmt>
      <Id>STMT-20260314-1</Id>
      <Acct><Id><IBAN>DE89370400440532013000</IBAN></Id></Acct>
      <Ntry>
        <NtryRef>E1</NtryRef>
        <Amt Ccy="EUR">2762.07</Amt>
        <CdtDbtInd>CRDT</CdtDbtInd>
        <Sts>BOOK</Sts>
        <BookgDt><Dt>2026-03-13</Dt></BookgDt>
        <ValDt><Dt>2026-03-14</Dt></ValDt>
        <AcctSvcrRef>BANK-0001</AcctSvcrRef>
        <NtryDtls><TxDtls>
          <Refs><EndToEndId>STRIPE-PO-123456</EndToEndId></Refs>
          <RltdPties><Dbtr><Nm>Stripe Payments Europe</Nm></Dbtr></RltdPties>
          <RmtInf><Ustrd>STRIPE PAYOUT</Ustrd></RmtInf>
        </TxDtls></NtryDtls>
      </Ntry>
      <Ntry>
        <Amt Ccy="EUR">89.90</Amt>
        <CdtDbtInd>DBIT</CdtDbtInd>
        <Sts><Cd>BOOK</Cd></Sts>
        <BookgDt><DtTm>2026-03-13T16:20:00+01:00</DtTm></BookgDt>
        <AddtlNtryInf>Card fee March</AddtlNtryInf>
      </Ntry>
      <Ntry>
        <Amt Ccy="EUR">10.00</Amt>
        <CdtDbtInd>CRDT</CdtDbtInd>
        <Sts>PDNG</Sts>
        <BookgDt><Dt>2026-03-14</Dt></BookgDt>
      </Ntry>
    </Stmt>
  </BkToCstmrStmt>
</Document>`

func TestParseStatement_CAMT053(t *testing.T) {
	parsed, err := ParseStatement(FormatCAMT053, strings.NewReader(camtSample))
	require.NoError(t, err)
	require.Len(t, parsed.Lines, 2, "pending entries are skipped")
	assert.Len(t, parsed.StatementID, 16)

	payout := parsed.Lines[0]
	assert.Equal(t, "BANK-0001", payout.ExternalID)
	assert.Equal(t, "DE89370400440532013000", payout.AccountID)
	assert.Equal(t, int64(276207), payout.Amount)
	assert.Equal(t, "EUR", payout.Currency)
	assert.Equal(t, time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC), payout.BookingDate)
	assert.Equal(t, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), payout.ValueDate)
	assert.Equal(t, "STRIPE-PO-123456", payout.EndToEndID)
	assert.Equal(t, "STRIPE PAYOUT", payout.RemittanceInfo)
	assert.Equal(t, "Stripe Payments Europe", payout.Counterparty)
	assert.Equal(t, "camt053", payout.SourceFormat)
	assert.Equal(t, parsed.StatementID, payout.StatementID)

	fee := parsed.Lines[1]
	assert.Equal(t, int64(-8990), fee.Amount)
	assert.Equal(t, "STMT-20260314-1-2", fee.ExternalID)
	assert.Equal(t, "Card fee March", fee.RemittanceInfo)
	assert.Equal(t, fee.BookingDate, fee.ValueDate)
}

const camtV08Sample = `<?xml version="1.0" encoding="UTF-8"?>
<Document xmlns="urn:iso:std:iso:20022:tech:xsd:camt.053.001.08">
  <BkToCstmrStmt>
    <GrpHdr><MsgId>STMT-20260315</MsgId><CreDtTm>2026-03-15T06:00:00</CreDtTm></GrpHdr>
    <Stmt>
      <Id>STMT-20260315-1</Id>
      <Acct><Id><Othr><Id>0532013000</Id></Othr></Id></Acct>
      <Ntry>
        <NtryRef>E7</NtryRef>
        <Amt Ccy="EUR">150.00</Amt>
        <CdtDbtInd>CRDT</CdtDbtInd>
        <Sts><Cd>BOOK</Cd></Sts>
        <BookgDt><Dt>2026-03-14</Dt></BookgDt>
        <BkTxCd><Prtry><Cd>TRF</Cd></Prtry></BkTxCd>
        <NtryDtls><TxDtls>
          <Refs><InstrId>INSTR-9</InstrId><EndToEndId>NOTPROVIDED</EndToEndId></Refs>
          <RltdPties><Dbtr><Pty><Nm>Jane Doe</Nm></Pty></Dbtr></RltdPties>
          <RmtInf><Strd><CdtrRefInf><Ref>RF18INV0042</Ref></CdtrRefInf></Strd><Ustrd>Invoice 42</Ustrd></RmtInf>
        </TxDtls></NtryDtls>
      </Ntry>
      <Ntry>
        <Amt Ccy="EUR">5.00</Amt>
        <CdtDbtInd>CRDT</CdtDbtInd>
        <Sts><Cd>PDNG</Cd></Sts>
        <BookgDt><Dt>2026-03-15</Dt></BookgDt>
        <BkTxCd><Prtry><Cd>TRF</Cd></Prtry></BkTxCd>
      </Ntry>
    </Stmt>
  </BkToCstmrStmt>
</Document>`

func TestParseStatement_CAMT053V08(t *testing.T) {
	parsed, err := ParseStatement(FormatCAMT053, strings.NewReader(camtV08Sample))
	require.NoError(t, err)
	require.Len(t, parsed.Lines, 1)

	line := parsed.Lines[0]
	assert.Equal(t, "E7", line.ExternalID)
	assert.Equal(t, "0532013000", line.AccountID)
	assert.Equal(t, int64(15000), line.Amount)
	assert.Equal(t, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), line.BookingDate)
	assert.Empty(t, line.EndToEndID)
	assert.Equal(t, "E7", line.Reference)
	assert.Equal(t, "RF18INV0042 Invoice 42", line.RemittanceInfo)
	assert.Equal(t, "Jane Doe", line.Counterparty)
}

func TestParseStatement_NotAStatement(t *testing.T) {
	pacs := `<Document xmlns="urn:iso:std:iso:20022:tech:xsd:pacs.002.001.10"><FIToFIPmtStsRpt></FIToFIPmtStsRpt></Document>`

	_, err := ParseStatement(FormatCAMT053, strings.NewReader(pacs))
	assert.ErrorIs(t, err, models.ErrUnsupportedStatementFormat)

	other := `<Document xmlns="urn:example:statement"><BkToCstmrStmt/></Document>`
	_, err = ParseStatement(FormatCAMT053, strings.NewReader(other))
	assert.ErrorIs(t, err, models.ErrUnsupportedStatementFormat)
}

func TestParseStatement_SameFileSameID(t *testing.T) {
	a, err := ParseStatement(FormatCAMT053, strings.NewReader(camtSample))
	require.NoError(t, err)
	b, err := ParseStatement(FormatCAMT053, strings.NewReader(camtSample))
	require.NoError(t, err)
	assert.Equal(t, a.StatementID, b.StatementID)
	assert.Equal(t, a.Lines[1].ExternalID, b.Lines[1].ExternalID)
}

func TestParseStatement_CSV(t *testing.T) {
	t.Run("signed amount column", func(t *testing.T) {
		data := "\xef\xbb\xbfTransaction ID,Date,Amount,Currency,Reference,Description,Name\n" +
			"tx-1,2026-03-13,\"2,762.07\",eur,STRIPE-PO-123456,Payout,Stripe\n" +
			"tx-2,13.03.2026,-12.50,EUR,,Bank fee,\n" +
			",,,,,,\n"

		parsed, err := ParseStatement(FormatCSV, strings.NewReader(data))

		require.NoError(t, err)
		require.Len(t, parsed.Lines, 2)
		assert.Equal(t, "tx-1", parsed.Lines[0].ExternalID)
		assert.Equal(t, int64(276207), parsed.Lines[0].Amount)
		assert.Equal(t, "EUR", parsed.Lines[0].Currency)
		assert.Equal(t, "STRIPE-PO-123456", parsed.Lines[0].Reference)
		assert.Equal(t, "Stripe", parsed.Lines[0].Counterparty)
		assert.Equal(t, int64(-1250), parsed.Lines[1].Amount)
		assert.Equal(t, time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC), parsed.Lines[1].BookingDate)
	})

	t.Run("credit and debit columns", func(t *testing.T) {
		data := "posting date,paid in,paid out,ccy,memo\n" +
			"2026-03-13,150.00,,EUR,INV-2026-0042\n" +
			"2026-03-13,,40.00,EUR,refund\n"

		parsed, err := ParseStatement(FormatCSV, strings.NewReader(data))

		require.NoError(t, err)
		require.Len(t, parsed.Lines, 2)
		assert.Equal(t, int64(15000), parsed.Lines[0].Amount)
		assert.Equal(t, "INV-2026-0042", parsed.Lines[0].RemittanceInfo)
		assert.Equal(t, int64(-4000), parsed.Lines[1].Amount)
		assert.NotEqual(t, parsed.Lines[0].ExternalID, parsed.Lines[1].ExternalID)
	})

	t.Run("overlapping exports share row ids", func(t *testing.T) {
		header := "date,amount,currency,reference\n"
		first := header + "2026-03-12,20.00,EUR,A\n" + "2026-03-13,35.00,EUR,B\n"
		second := header + "2026-03-13,35.00,EUR,B\n" + "2026-03-14,12.00,EUR,C\n"

		a, err := ParseStatement(FormatCSV, strings.NewReader(first))
		require.NoError(t, err)
		b, err := ParseStatement(FormatCSV, strings.NewReader(second))
		require.NoError(t, err)

		assert.NotEqual(t, a.StatementID, b.StatementID)
		assert.Equal(t, a.Lines[1].ExternalID, b.Lines[0].ExternalID)
		assert.NotEqual(t, a.Lines[0].ExternalID, b.Lines[1].ExternalID)
	})

	t.Run("identical rows in one file stay distinct", func(t *testing.T) {
		data := "date,amount,currency,description\n" +
			"2026-03-13,-1.50,EUR,card fee\n" +
			"2026-03-13,-1.50,EUR,card fee\n"

		parsed, err := ParseStatement(FormatCSV, strings.NewReader(data))

		require.NoError(t, err)
		require.Len(t, parsed.Lines, 2)
		assert.NotEqual(t, parsed.Lines[0].ExternalID, parsed.Lines[1].ExternalID)
		assert.True(t, strings.HasSuffix(parsed.Lines[1].ExternalID, "-2"))
	})

	t.Run("missing amount column", func(t *testing.T) {
		_, err := ParseStatement(FormatCSV, strings.NewReader("date,currency\n2026-03-13,EUR\n"))
		assert.ErrorIs(t, err, models.ErrUnsupportedStatementFormat)
	})

	t.Run("bad amount", func(t *testing.T) {
		_, err := ParseStatement(FormatCSV, strings.NewReader("date,amount,currency\n2026-03-13,12.345,EUR\n"))
		assert.ErrorIs(t, err, models.ErrInvalidAmount)
	})
}

func TestParseStatementFormat(t *testing.T) {
	for input, want := range map[string]StatementFormat{"camt.053": FormatCAMT053, "XML": FormatCAMT053, " csv ": FormatCSV} {
		got, err := ParseStatementFormat(input)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseStatementFormat("mt940")
	assert.ErrorIs(t, err, models.ErrUnsupportedStatementFormat)
}

func TestParseStatement_MalformedXML(t *testing.T) {
	_, err := ParseStatement(FormatCAMT053, strings.NewReader("<Document><BkToCstmrStmt>"))
	assert.ErrorIs(t, err, models.ErrUnsupportedStatementFormat)
}
