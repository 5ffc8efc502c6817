package database

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// InitRedis connects to Redis. It returns nil when Redis is unreachable;
// callers treat a nil client as "review queue and rate limits disabled".
func InitRedis(log logrus.FieldLogger) *redis.Client {
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", "6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.dial_timeout", 5*time.Second)

	addr := viper.GetString("redis.host") + ":" + viper.GetString("redis.port")
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    viper.GetString("redis.password"),
		DB:          viper.GetInt("redis.db"),
		PoolSize:    viper.GetInt("redis.pool_size"),
		DialTimeout: viper.GetDuration("redis.dial_timeout"),
	})

	ctx, cancel := context.WithTimeout(context.Background(), viper.GetDuration("redis.dial_timeout"))
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.WithError(err).WithField("addr", addr).Warn("redis unavailable, review queue and redemption rate limit disabled")
		rdb.Close()
		return nil
	}

	log.WithFields(logrus.Fields{"addr": addr, "db": viper.GetInt("redis.db")}).Info("redis connection established")
	return rdb
}
