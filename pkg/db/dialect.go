package db

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/smallbiznis/storefront/internal/config"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const defaultSQLiteFile = "storefront.db"

// ErrUnsupportedDialect is returned at startup for database types the
// migrations and the idempotency SQL are not written for.
var ErrUnsupportedDialect = errors.New("unsupported database type")

// Config is the connection and pool shape for one database.
type Config struct {
	Type            string
	Host            string
	Port            string
	Name            string
	User            string
	Password        string
	SSLMode         string
	MaxIdleConn     int
	MaxOpenConn     int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func ConfigFrom(cfg config.Config) Config {
	return Config{
		Type:            cfg.DBType,
		Host:            cfg.DBHost,
		Port:            cfg.DBPort,
		Name:            cfg.DBName,
		User:            cfg.DBUser,
		Password:        cfg.DBPassword,
		SSLMode:         cfg.DBSSLMode,
		MaxIdleConn:     cfg.DBMaxIdleConn,
		MaxOpenConn:     cfg.DBMaxOpenConn,
		ConnMaxLifetime: time.Duration(cfg.DBConnMaxLifetime) * time.Second,
		ConnMaxIdleTime: time.Duration(cfg.DBConnMaxIdleTime) * time.Second,
	}
}

// DSN renders the driver connection string. Sessions always run in UTC so
// lease expiry comparisons agree with the application clock.
func (c Config) DSN() (string, error) {
	switch c.Type {
	case "postgres":
		q := url.Values{}
		q.Set("sslmode", c.SSLMode)
		q.Set("TimeZone", "UTC")
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(c.User, c.Password),
			Host:     net.JoinHostPort(c.Host, c.Port),
			Path:     "/" + c.Name,
			RawQuery: q.Encode(),
		}
		return u.String(), nil
	case "mysql":
		// ON CONFLICT and the reaper's self-referencing UPDATE have no MySQL form.
		return "", fmt.Errorf("%w %q: schema targets postgres", ErrUnsupportedDialect, c.Type)
	case "sqlite":
		if c.Name == "" {
			return defaultSQLiteFile, nil
		}
		return c.Name, nil
	}
	return "", fmt.Errorf("%w %q", ErrUnsupportedDialect, c.Type)
}

func Dialect(cfg Config) (gorm.Dialector, error) {
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}
	switch cfg.Type {
	case "postgres":
		return postgres.Open(dsn), nil
	default:
		return sqlite.Open(dsn), nil
	}
}
