package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// ErrNewerSchema is returned when the database was last written by a newer
// release than the running binary.
var ErrNewerSchema = errors.New("database written by a newer groqnode")

// CheckVersion records binary in the database and refuses to continue when the
// recorded version is newer. Development builds ("dev" or non-semver) always
// pass and overwrite the record.
func (s *SQLite) CheckVersion(ctx context.Context, binary string) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS _schema_meta (
			id          INTEGER  PRIMARY KEY CHECK (id = 1),
			app_version TEXT     NOT NULL,
			updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema meta table: %w", err)
	}

	var stored string
	err := s.db.QueryRowContext(ctx, "SELECT app_version FROM _schema_meta WHERE id = 1").Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return s.recordVersion(ctx, binary)
	case err != nil:
		return fmt.Errorf("query schema version: %w", err)
	}

	cur, sto := canonical(binary), canonical(stored)
	if cur == "" || sto == "" {
		return s.recordVersion(ctx, binary)
	}
	switch semver.Compare(cur, sto) {
	case -1:
		return fmt.Errorf("%w: database=%s, binary=%s", ErrNewerSchema, stored, binary)
	case 1:
		return s.recordVersion(ctx, binary)
	}
	return nil
}

func (s *SQLite) recordVersion(ctx context.Context, v string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO _schema_meta (id, app_version) VALUES (1, ?)
		ON CONFLICT (id) DO UPDATE SET app_version = excluded.app_version, updated_at = CURRENT_TIMESTAMP
	`, v)
	if err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return nil
}

// canonical returns v as a "v"-prefixed semver, or "" when it is not one.
func canonical(v string) string {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return ""
	}
	return v
}
