package records

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// recordSchemaVersion is stamped into new record databases. A database with
// any other stamp is refused: export its collections with `sfm export`, then
// import them into a fresh database.
const recordSchemaVersion = 1

// ensureSchema stamps a new database with the record schema, or checks the
// stamp of an existing one. Both happen in one transaction so two processes
// opening a new file do not both create tables.
func (s *Store) ensureSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema check: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	version, stamped, err := storedSchemaVersion(ctx, tx)
	if err != nil {
		return err
	}
	if stamped {
		if version != recordSchemaVersion {
			return fmt.Errorf("%w: %s is at version %d, this build reads version %d",
				ErrSchemaMismatch, s.path, version, recordSchemaVersion)
		}
		return nil
	}

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create record tables: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", recordSchemaVersion); err != nil {
		return fmt.Errorf("stamp schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit record schema: %w", err)
	}
	return nil
}

// storedSchemaVersion reports the stamp of the database. stamped is false
// only for a database without record tables.
func storedSchemaVersion(ctx context.Context, tx *sql.Tx) (version int, stamped bool, err error) {
	var tables int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type = 'table' AND name = 'schema_version'",
	).Scan(&tables); err != nil {
		return 0, false, fmt.Errorf("look up schema_version table: %w", err)
	}
	if tables == 0 {
		return 0, false, nil
	}

	err = tx.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, false, fmt.Errorf("%w: schema_version table is empty", ErrSchemaMismatch)
	case err != nil:
		return 0, false, fmt.Errorf("read schema version: %w", err)
	}
	return version, true, nil
}
