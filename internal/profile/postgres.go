package profile

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"raha.health/internal/ids"
)

var (
	_ Gateway = (*PGStore)(nil)
	_ Lister  = (*PGStore)(nil)
)

const profileColumns = `id, user_id, coalesce(email, ''), coalesce(full_name, ''), role,
	coalesce(organization, ''), coalesce(avatar_url, ''), created_at, updated_at`

// PGStore implements Gateway over the hosted Postgres profiles table.
type PGStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPGStore wraps an open database handle.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db, now: time.Now}
}

// Open connects through the pgx stdlib driver with pool defaults sized for a single
// interactive client.
func Open(dsn string) (*PGStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return NewPGStore(db), nil
}

// Close closes the pool.
func (s *PGStore) Close() error { return s.db.Close() }

// DB exposes the pool for readiness probes and migrations.
func (s *PGStore) DB() *sql.DB { return s.db }

func (s *PGStore) Get(ctx context.Context, userID string) (*Profile, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`select `+profileColumns+` from profiles where user_id = $1`, userID)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *PGStore) Upsert(ctx context.Context, p Profile) (*Profile, error) {
	userID, err := normalizeUserID(p.UserID)
	if err != nil {
		return nil, err
	}
	role := p.Role
	if role == "" {
		role = DefaultRole
	}
	row := s.db.QueryRowContext(ctx, `
		insert into profiles(id, user_id, email, full_name, role, organization, avatar_url, updated_at)
		values ($1, $2, nullif($3, ''), nullif($4, ''), $5, nullif($6, ''), nullif($7, ''), $8)
		on conflict (user_id) do update set
			email        = coalesce(excluded.email, profiles.email),
			full_name    = excluded.full_name,
			role         = excluded.role,
			organization = excluded.organization,
			avatar_url   = excluded.avatar_url,
			updated_at   = excluded.updated_at
		returning `+profileColumns,
		ids.New(), userID, p.Email, p.FullName, role, p.Organization, p.AvatarURL, s.now().UTC(),
	)
	return scanProfile(row)
}

func (s *PGStore) Update(ctx context.Context, userID string, patch Patch) (*Profile, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
		update profiles set
			full_name    = coalesce($2, full_name),
			role         = coalesce($3, role),
			organization = coalesce($4, organization),
			avatar_url   = coalesce($5, avatar_url),
			updated_at   = $6
		where user_id = $1
		returning `+profileColumns,
		userID, patch.FullName, patch.Role, patch.Organization, patch.AvatarURL, s.now().UTC(),
	)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (s *PGStore) ListByOrganization(ctx context.Context, organization string) ([]Profile, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+profileColumns+` from profiles where organization = $1 order by created_at asc`, organization)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *p)
	}
	return res, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProfile(row scanner) (*Profile, error) {
	var p Profile
	if err := row.Scan(&p.ID, &p.UserID, &p.Email, &p.FullName, &p.Role,
		&p.Organization, &p.AvatarURL, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}
