package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/studiobook/backend/internal/models"
)

func TestISO20022Service_CreatePacs002(t *testing.T) {
	service := NewISO20022Service()
	service.newID = func() string { return "msg-1" }

	line := &models.StatementLine{
		ID:         "7d1c9a4e-2f0b-4f6a-9e7d-1b2c3d4e5f60",
		ExternalID: "20260314-0001",
		EndToEndID: "STRIPE-PO-123456",
		Amount:     276207,
		Currency:   "EUR",
	}

	t.Run("confirmed match is settled", func(t *testing.T) {
		doc := service.CreatePacs002(line, &models.MatchResult{Status: models.MatchAuto}, testNow)

		require.Len(t, doc.TxInfAndSts, 1)
		assert.Equal(t, "ACSC", string(*doc.TxInfAndSts[0].TxSts))
		assert.Equal(t, "STRIPE-PO-123456", string(*doc.TxInfAndSts[0].OrgnlEndToEndId))
		assert.Equal(t, "20260314-0001", string(*doc.TxInfAndSts[0].OrgnlInstrId))
	})

	t.Run("possible match and unmatched lines are pending", func(t *testing.T) {
		for _, result := range []*models.MatchResult{{Status: models.MatchPossible}, {Status: models.MatchUnmatched}, nil} {
			doc := service.CreatePacs002(line, result, testNow)
			assert.Equal(t, "PDNG", string(*doc.TxInfAndSts[0].TxSts))
		}
	})

	t.Run("missing end to end id", func(t *testing.T) {
		doc := service.CreatePacs002(&models.StatementLine{ID: "l1", ExternalID: "x"}, nil, testNow)
		assert.Equal(t, "NOTPROVIDED", string(*doc.TxInfAndSts[0].OrgnlEndToEndId))
	})

	t.Run("long identifiers are truncated", func(t *testing.T) {
		long := &models.StatementLine{ID: "l1", ExternalID: "0123456789012345678901234567890123456789"}
		doc := service.CreatePacs002(long, nil, testNow)
		assert.Len(t, string(*doc.TxInfAndSts[0].OrgnlInstrId), 35)
	})
}

func TestISO20022Service_ConvertToXML(t *testing.T) {
	service := NewISO20022Service()
	service.newID = func() string { return "msg-1" }
	doc := service.CreatePacs002(&models.StatementLine{ID: "l1", ExternalID: "ext-1"}, &models.MatchResult{Status: models.MatchManual}, testNow)

	out, err := service.ConvertToXML(doc)

	require.NoError(t, err)
	assert.Contains(t, out, "<?xml")
	assert.Contains(t, out, "msg-1")
	assert.Contains(t, out, "ACSC")
	assert.Contains(t, out, "ext-1")
}
