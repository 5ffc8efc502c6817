package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type GiftCardConfig struct {
	CodeGroups        int
	CodeGroupLength   int
	MaxCodeAttempts   int
	MaxRedeemAttempts int
	RateLimitWindow   time.Duration
	QRSize            int
}

// LoadGiftCardConfig reads the giftcard.* keys (GIFTCARD_* in the environment).
func LoadGiftCardConfig() (*GiftCardConfig, error) {
	viper.SetDefault("giftcard.code_groups", 3)
	viper.SetDefault("giftcard.code_group_length", 4)
	viper.SetDefault("giftcard.max_code_attempts", 10)
	viper.SetDefault("giftcard.max_redeem_attempts", 10)
	viper.SetDefault("giftcard.rate_limit_window", 15*time.Minute)
	viper.SetDefault("giftcard.qr_size", 256)

	cfg := &GiftCardConfig{
		CodeGroups:        viper.GetInt("giftcard.code_groups"),
		CodeGroupLength:   viper.GetInt("giftcard.code_group_length"),
		MaxCodeAttempts:   viper.GetInt("giftcard.max_code_attempts"),
		MaxRedeemAttempts: viper.GetInt("giftcard.max_redeem_attempts"),
		RateLimitWindow:   viper.GetDuration("giftcard.rate_limit_window"),
		QRSize:            viper.GetInt("giftcard.qr_size"),
	}

	for key, v := range map[string]int{
		"giftcard.code_groups":         cfg.CodeGroups,
		"giftcard.code_group_length":   cfg.CodeGroupLength,
		"giftcard.max_code_attempts":   cfg.MaxCodeAttempts,
		"giftcard.max_redeem_attempts": cfg.MaxRedeemAttempts,
		"giftcard.qr_size":             cfg.QRSize,
	} {
		if v <= 0 {
			return nil, fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, key)
		}
	}
	if cfg.RateLimitWindow <= 0 {
		return nil, fmt.Errorf("%w: giftcard.rate_limit_window must be positive", ErrInvalidConfig)
	}
	return cfg, nil
}
