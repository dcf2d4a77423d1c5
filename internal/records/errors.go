package records

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound reports a missing record, either the target of an update or a
// natural key referenced by an inserted row.
var ErrNotFound = errors.New("record not found")

// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

func isForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// wrapInsertError maps constraint failures on insert onto package sentinels.
func wrapInsertError(op string, err error) error {
	if isForeignKeyViolation(err) {
		return fmt.Errorf("%s: %w: %v", op, ErrNotFound, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
