// Package repo is the GORM persistence layer for letters and idempotency
// records. It opens SQLite (pure Go driver) or PostgreSQL, installs tracing
// and the zerolog query logger, and migrates the schema.
package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/go-letter-workflow/internal/domain"
)

// Supported DB drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Per-connection SQLite settings. glebarez/sqlite applies _pragma DSN
// parameters to every pooled connection.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"busy_timeout(5000)",
	"foreign_keys(ON)",
}

// Options selects and tunes the database connection.
type Options struct {
	Driver  string // sqlite (default) or postgres
	Path    string // sqlite file path
	URL     string // postgres DSN
	Tracing bool   // attach the OpenTelemetry GORM plugin

	// MaxOpenConns <= 0 means 10 for sqlite and 20 for postgres.
	MaxOpenConns int
	// Log receives GORM statements; nil silences them.
	Log *zerolog.Logger
	// SlowQuery is the warn threshold for Log; <= 0 disables slow warnings.
	SlowQuery time.Duration
}

// Open connects using opts, sizes the pool and, when requested, installs
// tracing.
func Open(opts Options) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: NewQueryLogger(opts.Log, opts.SlowQuery)}

	var (
		db       *gorm.DB
		err      error
		maxConns = opts.MaxOpenConns
	)
	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case "", DriverSQLite:
		db, err = openSQLite(opts.Path, cfg)
		if maxConns <= 0 {
			maxConns = 10
		}
	case DriverPostgres:
		db, err = openPostgres(opts.URL, cfg)
		if maxConns <= 0 {
			maxConns = 20
		}
	default:
		return nil, fmt.Errorf("unsupported db driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetMaxIdleConns(maxConns / 2)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if opts.Tracing {
		if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
			return nil, fmt.Errorf("db tracing: %w", err)
		}
	}
	return db, nil
}

// OpenSQLite opens (or creates) the SQLite database at path with the default
// pool and a silent logger.
func OpenSQLite(path string) (*gorm.DB, error) {
	return Open(Options{Driver: DriverSQLite, Path: path})
}

// sqliteDSN appends the connection pragmas to path.
func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	var b strings.Builder
	b.WriteString(path)
	for _, p := range sqlitePragmas {
		b.WriteString(sep + "_pragma=" + p)
		sep = "&"
	}
	return b.String()
}

func openSQLite(path string, cfg *gorm.Config) (*gorm.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite: empty DB_PATH")
	}
	// A missing parent directory surfaces as a misleading driver error.
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}
	return gorm.Open(sqlite.Open(sqliteDSN(path)), cfg)
}

func openPostgres(dsn string, cfg *gorm.Config) (*gorm.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres: empty DATABASE_URL")
	}
	return gorm.Open(postgres.Open(dsn), cfg)
}

// AutoMigrate creates or updates the letters and idempotency tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Letter{},
		&domain.Idempotency{},
	)
}
