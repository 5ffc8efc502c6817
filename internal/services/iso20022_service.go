package services

import (
	"encoding/xml"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"
	"github.com/studiobook/backend/internal/models"
)

const (
	statusSettled = "ACSC"
	statusPending = "PDNG"
)

// ISO20022Service renders reconciliation outcomes as ISO 20022 messages for
// accounting systems that consume payment status reports.
type ISO20022Service struct {
	newID func() string
}

func NewISO20022Service() *ISO20022Service {
	return &ISO20022Service{newID: uuid.NewString}
}

// PaymentStatus maps a match outcome to an ISO 20022 transaction status.
// A line is settled once it is linked for good; anything else is pending.
func PaymentStatus(result *models.MatchResult) string {
	if result != nil && result.Status.Confirmed() {
		return statusSettled
	}
	return statusPending
}

// CreatePacs002 builds a pacs.002 payment status report for one statement
// line. The original identifiers are the line's external id and end-to-end id.
func (iso *ISO20022Service) CreatePacs002(line *models.StatementLine, result *models.MatchResult, createdAt time.Time) *pacs_v08.FIToFIPaymentStatusReportV08 {
	instrID := common.Max35Text(truncate35(line.ExternalID))
	txID := common.Max35Text(truncate35(line.ID))
	endToEnd := line.EndToEndID
	if endToEnd == "" {
		endToEnd = "NOTPROVIDED"
	}
	e2e := common.Max35Text(truncate35(endToEnd))
	status := pacs_v08.ExternalPaymentTransactionStatus1Code(PaymentStatus(result))

	return &pacs_v08.FIToFIPaymentStatusReportV08{
		GrpHdr: pacs_v08.GroupHeader53{
			MsgId:   common.Max35Text(truncate35(iso.newID())),
			CreDtTm: common.ISODateTime(createdAt),
		},
		TxInfAndSts: []pacs_v08.PaymentTransaction80{
			{
				OrgnlInstrId:    &instrID,
				OrgnlEndToEndId: &e2e,
				OrgnlTxId:       &txID,
				TxSts:           &status,
			},
		},
	}
}

// ConvertToXML converts ISO20022 document to XML string
func (iso *ISO20022Service) ConvertToXML(doc any) (string, error) {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal XML: %w", err)
	}
	return xml.Header + string(xmlData), nil
}

// truncate35 fits an identifier into the Max35Text type.
func truncate35(s string) string {
	if len(s) > 35 {
		return s[:35]
	}
	return s
}
