package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var db *sql.DB

// DBConfig holds database configuration
type DBConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	ApplicationName string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// GetConfig returns database configuration with defaults
func GetConfig() *DBConfig {
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", "5432")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "password")
	viper.SetDefault("database.name", "studio_ledger")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.application_name", "studio-ledger")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", time.Minute*5)
	viper.SetDefault("database.connect_timeout", time.Second*10)

	return &DBConfig{
		Host:            viper.GetString("database.host"),
		Port:            viper.GetString("database.port"),
		User:            viper.GetString("database.user"),
		Password:        viper.GetString("database.password"),
		Name:            viper.GetString("database.name"),
		SSLMode:         viper.GetString("database.ssl_mode"),
		ApplicationName: viper.GetString("database.application_name"),
		MaxOpenConns:    viper.GetInt("database.max_open_conns"),
		MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
		ConnMaxLifetime: viper.GetDuration("database.conn_max_lifetime"),
		ConnectTimeout:  viper.GetDuration("database.connect_timeout"),
	}
}

// DSN renders the lib/pq connection string.
func (c *DBConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s application_name=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode, c.ApplicationName,
	)
}

// InitDB opens the pool and verifies the server is reachable.
func InitDB(log logrus.FieldLogger) (*sql.DB, error) {
	config := GetConfig()

	var err error
	db, err = sql.Open("postgres", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err = db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	log.WithFields(logrus.Fields{
		"host":     config.Host,
		"port":     config.Port,
		"database": config.Name,
		"user":     config.User,
	}).Info("database connection established")
	return db, nil
}

// GetDB returns the database connection
func GetDB() *sql.DB {
	return db
}

// CloseDB closes the database connection
func CloseDB() error {
	if db != nil {
		return db.Close()
	}
	return nil
}

// InitDatabase initializes the database or exits, and applies pending
// migrations when database.auto_migrate is set.
func InitDatabase(log logrus.FieldLogger) *sql.DB {
	db, err := InitDB(log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize database")
	}
	if viper.GetBool("database.auto_migrate") {
		if err := Migrate(context.Background(), db, log); err != nil {
			log.WithError(err).Fatal("failed to migrate database")
		}
	}
	return db
}
