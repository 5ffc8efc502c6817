package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	viper.Reset()
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, []string{"https://*", "http://*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, int64(5), cfg.Cash.RoundingIncrement)
	assert.Equal(t, 3, cfg.Ledger.MaxRetries)
	assert.Equal(t, int64(1), cfg.Reconciliation.AmountTolerance)
	assert.Equal(t, 5, cfg.Reconciliation.WindowDays)
	assert.True(t, cfg.Sweeper.Enabled)
	require.NotNil(t, cfg.GiftCard)
	assert.Equal(t, 3, cfg.GiftCard.CodeGroups)
	assert.Equal(t, 256, cfg.GiftCard.QRSize)
	assert.Equal(t, 15*time.Minute, cfg.GiftCard.RateLimitWindow)
}

func TestLoad_Overrides(t *testing.T) {
	viper.Reset()
	viper.Set("cash.rounding_increment", 10)
	viper.Set("reconciliation.window_days", 3)
	defer viper.Reset()

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, int64(10), cfg.Cash.RoundingIncrement)
	assert.Equal(t, 3, cfg.Reconciliation.WindowDays)
}

func TestInitFile_DotenvReachesConfig(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(
		"CASH_ROUNDING_INCREMENT=10\n"+
			"GIFTCARD_QR_SIZE=512\n"+
			"GIFTCARD_RATE_LIMIT_WINDOW=1m\n"+
			"RECONCILIATION_WINDOW_DAYS=3\n"), 0o600))
	for _, key := range []string{"CASH_ROUNDING_INCREMENT", "GIFTCARD_QR_SIZE", "GIFTCARD_RATE_LIMIT_WINDOW"} {
		key := key
		t.Cleanup(func() { os.Unsetenv(key) })
	}
	t.Setenv("RECONCILIATION_WINDOW_DAYS", "7")

	InitFile(path)
	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, int64(10), cfg.Cash.RoundingIncrement)
	assert.Equal(t, 512, cfg.GiftCard.QRSize)
	assert.Equal(t, time.Minute, cfg.GiftCard.RateLimitWindow)
	assert.Equal(t, 7, cfg.Reconciliation.WindowDays, "environment wins over the file")
}

func TestInitFile_MissingFile(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	t.Setenv("SERVER_PORT", "9090")

	hook := test.NewLocal(logrus.StandardLogger())
	defer hook.Reset()

	InitFile(filepath.Join(t.TempDir(), "absent.env"))
	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Server.Port)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)
	assert.Contains(t, hook.LastEntry().Data, "file")
}

func TestLoadGiftCardConfig(t *testing.T) {
	t.Run("environment", func(t *testing.T) {
		viper.Reset()
		defer viper.Reset()
		t.Setenv("GIFTCARD_CODE_GROUPS", "4")
		t.Setenv("GIFTCARD_RATE_LIMIT_WINDOW", "1m")
		InitFile(filepath.Join(t.TempDir(), "absent.env"))

		cfg, err := LoadGiftCardConfig()

		require.NoError(t, err)
		assert.Equal(t, 4, cfg.CodeGroups)
		assert.Equal(t, 4, cfg.CodeGroupLength)
		assert.Equal(t, time.Minute, cfg.RateLimitWindow)
		assert.Equal(t, 10, cfg.MaxRedeemAttempts)
	})

	for _, key := range []string{"giftcard.code_groups", "giftcard.code_group_length"} {
		t.Run("rejects non-positive "+key, func(t *testing.T) {
			viper.Reset()
			defer viper.Reset()
			viper.Set(key, 0)

			_, err := LoadGiftCardConfig()

			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), key)
		})
	}

	t.Run("unparseable value", func(t *testing.T) {
		viper.Reset()
		defer viper.Reset()
		viper.Set("giftcard.max_redeem_attempts", "not-a-number")

		_, err := LoadGiftCardConfig()
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestLoad_RejectsInvalid(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	viper.Set("reconciliation.batch_size", 0)

	_, err := Load()
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b "))
	assert.Nil(t, splitList(""))
}
