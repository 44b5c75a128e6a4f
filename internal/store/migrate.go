package store

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var embedMigrations embed.FS

// goose keeps its dialect, filesystem and logger in package globals
var gooseMu sync.Mutex

type gooseLogger struct {
	l *slog.Logger
}

func (g gooseLogger) Printf(format string, v ...any) {
	g.l.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (g gooseLogger) Fatalf(format string, v ...any) {
	g.l.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (s *Store) migrationDir() (dir, dialect string) {
	if s.dialect == DialectPostgres {
		return "migrations/postgres", "postgres"
	}
	return "migrations/sqlite", "sqlite3"
}

// migrate applies the embedded migrations for the store's dialect
func (s *Store) migrate(ctx context.Context) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	dir, dialect := s.migrationDir()

	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(gooseLogger{l: s.logger})
	if err := goose.SetDialect(dialect); err != nil {
		return err
	}

	if err := goose.UpContext(ctx, s.db, dir); err != nil {
		return err
	}

	version, err := goose.GetDBVersionContext(ctx, s.db)
	if err != nil {
		return err
	}
	s.logger.Debug("schema ready", "dialect", s.dialect, "version", version)
	return nil
}

// SchemaVersion returns the applied migration version
func (s *Store) SchemaVersion(ctx context.Context) (int64, error) {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	_, dialect := s.migrationDir()
	if err := goose.SetDialect(dialect); err != nil {
		return 0, err
	}
	return goose.GetDBVersionContext(ctx, s.db)
}
