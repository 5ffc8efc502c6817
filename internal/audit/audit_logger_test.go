package audit

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
)

func TestLogger_LogMovement(t *testing.T) {
	base, hook := test.NewNullLogger()
	a := NewLogger(logrus.NewEntry(base))

	a.LogMovement("org-1", "wallet/w-1", "redemption", -6, "credit:class", "staff-9", 2)

	entry := hook.LastEntry()
	assert.NotNil(t, entry)
	assert.Equal(t, "AUDIT", entry.Message)
	assert.Equal(t, "audit", entry.Data["channel"])
	assert.Equal(t, "redemption", entry.Data["event_type"])
	assert.Equal(t, int64(-6), entry.Data["amount"])
	assert.Equal(t, "SUCCESS", entry.Data["status"])
}

func TestLogger_LogError(t *testing.T) {
	base, hook := test.NewNullLogger()
	a := NewLogger(logrus.NewEntry(base))

	a.LogError("org-1", "gift_card/abc", "redeem", errors.New("boom"))

	entry := hook.LastEntry()
	assert.Equal(t, "FAILED", entry.Data["status"])
	assert.Equal(t, map[string]string{"error": "boom"}, entry.Data["details"])
}
