// Package migrate applies the SQL schema owned by the remote profile gateway.
// Migration files are read from an fs.FS, normally the one embedded in the
// profile package, and are recorded in a bookkeeping table in the same
// transaction that runs them.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"raha.health/internal/profile"
)

const (
	defaultMigrationsTable = "schema_migrations"
	defaultSeedsTable      = "schema_seeds"

	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"
)

var (
	ErrNothingApplied = errors.New("migrate: no migrations applied")
	ErrMissingDown    = errors.New("migrate: missing down migration")
)

// Record is one applied migration or seed.
type Record struct {
	Name      string
	AppliedAt time.Time
}

// Manager runs migrations and seeds against db.
type Manager struct {
	db            *sql.DB
	fsys          fs.FS
	migrationsDir string
	seedsDir      string

	migrationsTable string
	seedsTable      string

	now func() time.Time
	log *zap.Logger
}

type Option func(*Manager)

func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.migrationsTable = name
		}
	}
}

func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.seedsTable = name
		}
	}
}

// WithClock sets the time recorded as applied_at.
func WithClock(fn func() time.Time) Option {
	return func(m *Manager) {
		if fn != nil {
			m.now = fn
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// NewManager constructs a Manager. migrationsDir and seedsDir are paths inside fsys;
// an empty or missing directory contributes no files.
func NewManager(db *sql.DB, fsys fs.FS, migrationsDir, seedsDir string, opts ...Option) *Manager {
	m := &Manager{
		db:              db,
		fsys:            fsys,
		migrationsDir:   migrationsDir,
		seedsDir:        seedsDir,
		migrationsTable: defaultMigrationsTable,
		seedsTable:      defaultSeedsTable,
		now:             time.Now,
		log:             zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Profiles returns a manager for the profiles schema embedded in the binary.
func Profiles(db *sql.DB, opts ...Option) *Manager {
	return NewManager(db, profile.Migrations, profile.MigrationsDir, "", opts...)
}

// Up applies every pending migration in name order. Each migration and its
// bookkeeping row commit together.
func (m *Manager) Up(ctx context.Context) error {
	pending, err := m.pending(ctx, m.migrationsTable, m.migrationsDir, upSuffix)
	if err != nil {
		return err
	}
	for _, f := range pending {
		insert := fmt.Sprintf(`insert into %s(name, applied_at) values ($1, $2)`, m.migrationsTable)
		if err := m.apply(ctx, f.Path, insert, f.Base, m.now().UTC()); err != nil {
			return fmt.Errorf("apply migration %s: %w", f.Base, err)
		}
		m.log.Info("migration applied", zap.String("name", f.Base))
	}
	return nil
}

// Down rolls back the most recently applied migration.
func (m *Manager) Down(ctx context.Context) error {
	applied, err := m.Status(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return ErrNothingApplied
	}
	last := applied[len(applied)-1].Name
	downPath := path.Join(m.migrationsDir, strings.TrimSuffix(last, upSuffix)+downSuffix)
	if _, err := fs.Stat(m.fsys, downPath); err != nil {
		return fmt.Errorf("%w for %s", ErrMissingDown, last)
	}
	del := fmt.Sprintf(`delete from %s where name = $1`, m.migrationsTable)
	if err := m.apply(ctx, downPath, del, last); err != nil {
		return fmt.Errorf("rollback migration %s: %w", last, err)
	}
	m.log.Info("migration rolled back", zap.String("name", last))
	return nil
}

// Status returns applied migrations, oldest first.
func (m *Manager) Status(ctx context.Context) ([]Record, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	return m.applied(ctx, m.migrationsTable)
}

// Pending names the migrations present in the filesystem but not yet applied.
func (m *Manager) Pending(ctx context.Context) ([]string, error) {
	files, err := m.pending(ctx, m.migrationsTable, m.migrationsDir, upSuffix)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Base)
	}
	return names, nil
}

// Seed applies seed files that have not run yet.
func (m *Manager) Seed(ctx context.Context) error {
	pending, err := m.pending(ctx, m.seedsTable, m.seedsDir, ".sql")
	if err != nil {
		return err
	}
	for _, f := range pending {
		insert := fmt.Sprintf(`insert into %s(name, applied_at) values ($1, $2)`, m.seedsTable)
		if err := m.apply(ctx, f.Path, insert, f.Base, m.now().UTC()); err != nil {
			return fmt.Errorf("apply seed %s: %w", f.Base, err)
		}
		m.log.Info("seed applied", zap.String("name", f.Base))
	}
	return nil
}

func (m *Manager) pending(ctx context.Context, table, dir, suffix string) ([]sqlFile, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	done, err := m.applied(ctx, table)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(done))
	for _, r := range done {
		seen[r.Name] = true
	}
	files, err := collectSQL(m.fsys, dir, suffix)
	if err != nil {
		return nil, err
	}
	out := files[:0]
	for _, f := range files {
		if !seen[f.Base] {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *Manager) ensureTables(ctx context.Context) error {
	for _, table := range []string{m.migrationsTable, m.seedsTable} {
		ddl := fmt.Sprintf(`
			create table if not exists %s (
				name text primary key,
				applied_at timestamptz not null default now()
			);`, table)
		if _, err := m.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("migrate: create %s: %w", table, err)
		}
	}
	return nil
}

// apply runs the statements in file and then the bookkeeping statement in one transaction.
func (m *Manager) apply(ctx context.Context, file, bookkeeping string, args ...any) error {
	body, err := fs.ReadFile(m.fsys, file)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(body)) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, args...); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *Manager) applied(ctx context.Context, table string) ([]Record, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name, applied_at from %s order by applied_at asc, name asc`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Name, &r.AppliedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type sqlFile struct {
	Base string
	Path string
}

func collectSQL(fsys fs.FS, dir, suffix string) ([]sqlFile, error) {
	if fsys == nil || dir == "" {
		return nil, nil
	}
	var files []sqlFile
	err := fs.WalkDir(fsys, dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), suffix) {
			files = append(files, sqlFile{Base: d.Name(), Path: p})
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Base < files[j].Base })
	return files, nil
}

// splitStatements splits on semicolons outside single-quoted literals.
func splitStatements(script string) []string {
	var stmts []string
	var cur strings.Builder
	quoted := false
	for _, r := range script {
		cur.WriteRune(r)
		switch {
		case r == '\'':
			quoted = !quoted
		case r == ';' && !quoted:
			stmts = append(stmts, cur.String())
			cur.Reset()
		}
	}
	if strings.TrimSpace(cur.String()) != "" {
		stmts = append(stmts, cur.String())
	}
	return stmts
}
