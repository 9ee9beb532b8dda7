// Package db opens the artifact database for the configured dialect and
// provides the JSON column types shared by the stores.
package db

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Supported database types.
const (
	TypeSQLite   = "sqlite"
	TypePostgres = "postgres"
	TypeMySQL    = "mysql"
)

// Options tunes the connection pool and GORM logging.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	LogLevel        logger.LogLevel
}

// DefaultOptions returns pool settings suitable for a single server replica.
func DefaultOptions() Options {
	return Options{
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		LogLevel:        logger.Warn,
	}
}

// Open connects to the database of the given type.
func Open(dbType, dsn string, opts Options) (*gorm.DB, error) {
	if dsn == "" {
		return nil, errors.New("database DSN is required")
	}

	var dialector gorm.Dialector
	switch strings.ToLower(dbType) {
	case TypePostgres, "postgresql", "":
		dialector = postgres.Open(dsn)
	case TypeMySQL:
		dialector = mysql.Open(dsn)
	case TypeSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database type %q (expected sqlite, postgres or mysql)", dbType)
	}

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(opts.LogLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dbType, err)
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	return gormDB, nil
}

// IsPostgres reports whether the connection uses the postgres dialect.
func IsPostgres(gormDB *gorm.DB) bool {
	return gormDB != nil && gormDB.Dialector.Name() == TypePostgres
}

// LikePattern builds a case-folded substring pattern for a LIKE clause
// applied to LOWER(column).
func LikePattern(s string) string {
	return "%" + strings.ToLower(strings.TrimSpace(s)) + "%"
}
