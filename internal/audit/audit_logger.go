package audit

import (
	"time"

	"github.com/sirupsen/logrus"
)

type Event struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	OrgID     string    `json:"org_id"`
	Subject   string    `json:"subject"`
	Amount    int64     `json:"amount"`
	Unit      string    `json:"unit,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	Status    string    `json:"status"`
	Details   any       `json:"details,omitempty"`
}

// Logger writes one audit record per balance-affecting operation.
type Logger struct {
	log *logrus.Entry
}

func NewLogger(log *logrus.Entry) *Logger {
	return &Logger{log: log.WithField("channel", "audit")}
}

func (a *Logger) LogMovement(orgID, subject, kind string, delta int64, unit, actor string, balanceAfter int64) {
	a.record(Event{
		Timestamp: time.Now(),
		EventType: kind,
		OrgID:     orgID,
		Subject:   subject,
		Amount:    delta,
		Unit:      unit,
		Actor:     actor,
		Status:    "SUCCESS",
		Details:   map[string]int64{"balance_after": balanceAfter},
	})
}

func (a *Logger) LogError(orgID, subject, operation string, err error) {
	a.record(Event{
		Timestamp: time.Now(),
		EventType: operation,
		OrgID:     orgID,
		Subject:   subject,
		Status:    "FAILED",
		Details:   map[string]string{"error": err.Error()},
	})
}

func (a *Logger) LogOperation(orgID, subject, operation, actor string, details any) {
	a.record(Event{
		Timestamp: time.Now(),
		EventType: operation,
		OrgID:     orgID,
		Subject:   subject,
		Actor:     actor,
		Status:    "SUCCESS",
		Details:   details,
	})
}

func (a *Logger) record(event Event) {
	a.log.WithFields(logrus.Fields{
		"event_type": event.EventType,
		"org_id":     event.OrgID,
		"subject":    event.Subject,
		"amount":     event.Amount,
		"unit":       event.Unit,
		"actor":      event.Actor,
		"status":     event.Status,
		"details":    event.Details,
	}).Info("AUDIT")
}
