package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"raha.health/internal/migrate"
)

func isolateConfig(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)
	t.Setenv("RAHA_PROFILES_DSN", "")
}

func TestMigrateArgs(t *testing.T) {
	isolateConfig(t)
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no action", []string{"migrate"}, "accepts 1 arg"},
		{"unknown action", []string{"migrate", "sideways"}, "invalid argument"},
		{"missing dsn", []string{"migrate", "status"}, "missing DSN"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			root := newRootCmd()
			root.SetArgs(tc.args)
			root.SetOut(&bytes.Buffer{})
			root.SetErr(&bytes.Buffer{})
			err := root.Execute()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestRunMigrateStatusPrintsHistory(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	applied := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("select name, applied_at from schema_migrations").
			WillReturnRows(sqlmock.NewRows([]string{"name", "applied_at"}).AddRow("0001_profiles.up.sql", applied))
	}

	var out bytes.Buffer
	cmd := newMigrateCmd()
	cmd.SetOut(&out)
	if err := runMigrate(context.Background(), cmd, migrate.Profiles(db), "status"); err != nil {
		t.Fatalf("status: %v", err)
	}
	if strings.TrimSpace(out.String()) != "0001_profiles.up.sql\tapplied 2024-06-01T09:00:00Z" {
		t.Fatalf("unexpected output %q", out.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
