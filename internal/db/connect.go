// Package db opens GORM connections for the state store.
package db

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/signalpost/signalpost/internal/models"
)

// Options selects and configures the backing database. SQLite is the
// default; MySQL is available for deployments that already run one.
type Options struct {
	Driver string // "sqlite" (default) or "mysql"

	// SQLite
	Path string // file path, or ":memory:" for tests

	// MySQL
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// MySQLDSN builds the DSN for a MySQL connection.
func MySQLDSN(opts Options) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		opts.User, opts.Password, opts.Host, opts.Port, opts.Database)
}

// Connect opens the configured database and migrates the state schema.
func Connect(opts Options) (*gorm.DB, error) {
	cfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	var (
		conn *gorm.DB
		err  error
	)
	switch opts.Driver {
	case "", "sqlite":
		path := opts.Path
		if path == "" {
			path = "signalpost.db"
		}
		conn, err = gorm.Open(sqlite.Open(path), cfg)
		if err != nil {
			return nil, fmt.Errorf("db: open sqlite %s: %w", path, err)
		}
	case "mysql":
		conn, err = gorm.Open(mysql.Open(MySQLDSN(opts)), cfg)
		if err != nil {
			return nil, fmt.Errorf("db: connect to %s:%d/%s: %w", opts.Host, opts.Port, opts.Database, err)
		}
	default:
		return nil, fmt.Errorf("db: unknown driver %q", opts.Driver)
	}

	if err := conn.AutoMigrate(&models.StateEntry{}); err != nil {
		return nil, fmt.Errorf("db: migrate: %w", err)
	}
	return conn, nil
}
