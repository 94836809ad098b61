// Package repo persists purchases and Idempotency-Key records with GORM on
// the pure-Go SQLite driver.
package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/go-purchases-api/internal/domain"
)

// Pragmas applied to every database. File databases also get WAL.
var (
	basePragmas = []string{"PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"}
	filePragmas = []string{"PRAGMA journal_mode=WAL", "PRAGMA synchronous=NORMAL"}
)

const maxConns = 10

// OpenSQLite opens the purchases database named by dsn (DB_DSN). File
// databases must live in an existing directory. An in-memory database keeps
// its connections forever, since it vanishes with the last one.
func OpenSQLite(dsn string) (*gorm.DB, error) {
	memory := IsInMemoryDSN(dsn)
	if !memory {
		if dir := filepath.Dir(dsnPath(dsn)); dir != "." {
			if _, err := os.Stat(dir); err != nil {
				return nil, fmt.Errorf("repo: database directory: %w", err)
			}
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("repo: open %q: %w", dsn, err)
	}

	pragmas := basePragmas
	if !memory {
		pragmas = append(append([]string{}, filePragmas...), basePragmas...)
	}
	for _, p := range pragmas {
		if err := db.Exec(p).Error; err != nil {
			return nil, fmt.Errorf("repo: %s: %w", p, err)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetMaxIdleConns(maxConns)
	if !memory {
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	return db, nil
}

// dsnPath strips the "file:" scheme and any query from dsn.
func dsnPath(dsn string) string {
	p := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	return p
}

// IsInMemoryDSN reports whether dsn names a SQLite in-memory database.
func IsInMemoryDSN(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

// EnableTracing turns every purchase and idempotency query into a span
// under the request trace.
func EnableTracing(db *gorm.DB) error {
	return db.Use(tracing.NewPlugin(tracing.WithoutMetrics()))
}

// AutoMigrate creates or updates the purchases, purchase_items and
// idempotency tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&domain.Purchase{}, &domain.PurchaseItem{}, &domain.Idempotency{})
}
