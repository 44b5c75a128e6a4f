package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/franz/fpvscan/internal/util"
)

// Dialect identifies the SQL backend behind a Store
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// DefaultSchema is the Postgres schema holding the fpv tables
const DefaultSchema = "fpv"

// Store represents the application's persistent state
type Store struct {
	db      *sql.DB
	pool    *pgxpool.Pool // nil for SQLite
	dialect Dialect
	logger  *slog.Logger
}

// PostgresOptions holds connection settings for OpenPostgres
type PostgresOptions struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
	Schema   string // defaults to DefaultSchema

	Logger *slog.Logger
}

// DSN renders the options as a keyword/value connection string with the
// schema first on the search path
func (o PostgresOptions) DSN() string {
	schema := o.Schema
	if schema == "" {
		schema = DefaultSchema
	}
	sslmode := o.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	port := o.Port
	if port == 0 {
		port = 5432
	}

	parts := []string{
		"host=" + quoteDSN(o.Host),
		fmt.Sprintf("port=%d", port),
		"dbname=" + quoteDSN(o.Database),
		"user=" + quoteDSN(o.User),
		"sslmode=" + quoteDSN(sslmode),
		"search_path=" + quoteDSN(schema+",public"),
	}
	if o.Password != "" {
		parts = append(parts, "password="+quoteDSN(o.Password))
	}
	return strings.Join(parts, " ")
}

func quoteDSN(v string) string {
	if v != "" && !strings.ContainsAny(v, " '\\") {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// OpenPostgres connects to Postgres through a pgx pool, creates the schema
// when missing and applies migrations. An unreachable server is an error.
func OpenPostgres(ctx context.Context, opts PostgresOptions) (*Store, error) {
	pool, err := pgxpool.New(ctx, opts.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres at %s:%d: %w", opts.Host, opts.Port, err)
	}

	schema := opts.Schema
	if schema == "" {
		schema = DefaultSchema
	}
	if _, err := pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{schema}.Sanitize()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema %s: %w", schema, err)
	}

	s := &Store{
		db:      stdlib.OpenDBFromPool(pool),
		pool:    pool,
		dialect: DialectPostgres,
		logger:  util.OrNop(opts.Logger),
	}

	if err := s.migrate(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return s, nil
}

// OpenSQLite opens or creates a SQLite database at the given path
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite works best with a single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{
		db:      db,
		dialect: DialectSQLite,
		logger:  util.OrNop(logger),
	}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	err := s.db.Close()
	if s.pool != nil {
		s.pool.Close()
	}
	return err
}

// DB returns the underlying database connection for custom queries
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect reports which backend the store talks to
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Ping verifies the connection is alive
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ServerVersion returns the backend version string
func (s *Store) ServerVersion(ctx context.Context) (string, error) {
	q := "SELECT version()"
	if s.dialect == DialectSQLite {
		q = "SELECT sqlite_version()"
	}
	var v string
	if err := s.db.QueryRowContext(ctx, q).Scan(&v); err != nil {
		return "", err
	}
	return v, nil
}

// Transaction executes a function within a transaction. The transaction is
// rolled back when fn returns an error.
func (s *Store) Transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// rebind converts ? placeholders to $N for Postgres. Question marks inside
// single-quoted literals are left alone.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			fmt.Fprintf(&b, "$%d", n)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// tuplePlaceholders renders "(?, ?), (?, ?), ..." for n two-column rows
func tuplePlaceholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("(?, ?), ", n), ", ")
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func sortKeys(keys []SegmentKey) []SegmentKey {
	out := append([]SegmentKey(nil), keys...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].SessionID != out[j].SessionID {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].SegmentNumber < out[j].SegmentNumber
	})
	return out
}
