package records

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// historizedTable describes a head table and its append-only history table.
// Both share the same data columns; the first column is the natural key.
type historizedTable struct {
	head    string
	history string
	key     string
	columns []string
}

func (t historizedTable) columnList() string {
	return strings.Join(t.columns, ", ")
}

func (t historizedTable) placeholders() string {
	return makePlaceholders(len(t.columns))
}

func (t historizedTable) insertHead(ctx context.Context, q queryer, args []any) (int64, error) {
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", t.head, t.columnList(), t.placeholders())
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, wrapInsertError("insert "+t.head, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert %s: %w", t.head, err)
	}
	return id, nil
}

func (t historizedTable) updateHead(ctx context.Context, q queryer, key string, args []any) error {
	assignments := make([]string, len(t.columns))
	for i, column := range t.columns {
		assignments[i] = column + " = ?"
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", t.head, strings.Join(assignments, ", "), t.key)
	res, err := q.ExecContext(ctx, query, append(append([]any{}, args...), key)...)
	if err != nil {
		return wrapInsertError("update "+t.head, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s: %w", t.head, err)
	}
	if affected == 0 {
		return fmt.Errorf("update %s %s: %w", t.head, key, ErrNotFound)
	}
	return nil
}

// appendVersion writes one history row for key holding args, dated at or
// just after at.
func (t historizedTable) appendVersion(ctx context.Context, q queryer, key string, args []any, at time.Time, kind HistoryType) (time.Time, error) {
	historyDate, err := nextHistoryDate(ctx, q, t.history, t.key, key, at)
	if err != nil {
		return time.Time{}, err
	}
	if err := insertHistory(ctx, q, t.history, t.columnList(), t.placeholders(), args, historyDate, kind); err != nil {
		return time.Time{}, err
	}
	return historyDate, nil
}

// create inserts the head row and its first history row in one transaction.
func (s *Store) create(ctx context.Context, t historizedTable, key string, args []any, at time.Time) (int64, error) {
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		if id, err = t.insertHead(ctx, tx, args); err != nil {
			return err
		}
		_, err = t.appendVersion(ctx, tx, key, args, at, HistoryCreated)
		return err
	})
	return id, err
}

// save updates the head row and appends the saved values to history.
func (s *Store) save(ctx context.Context, t historizedTable, key string, args []any, at time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := t.updateHead(ctx, tx, key, args); err != nil {
			return err
		}
		_, err := t.appendVersion(ctx, tx, key, args, at, HistoryChanged)
		return err
	})
}

// remove deletes the head row and records the deletion in history. The
// caller supplies the last known values so the deletion row is complete.
func (s *Store) remove(ctx context.Context, t historizedTable, key string, args []any, at time.Time) (bool, error) {
	var removed bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s = ?", t.head, t.key), key)
		if err != nil {
			return fmt.Errorf("delete %s: %w", t.head, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return nil
		}
		removed = true
		_, err = t.appendVersion(ctx, tx, key, args, at, HistoryDeleted)
		return err
	})
	return removed, err
}

func (s *Store) headExists(ctx context.Context, t historizedTable, key string) (bool, error) {
	found, err := exists(ctx, s.db, fmt.Sprintf("SELECT COUNT(1) FROM %s WHERE %s = ?", t.head, t.key), key)
	if err != nil {
		return false, fmt.Errorf("%s exists: %w", t.head, err)
	}
	return found, nil
}

// insertVersion appends a history row verbatim, skipping rows whose
// (key, history_date) is already present.
func (s *Store) insertVersion(ctx context.Context, t historizedTable, args []any, historyDate time.Time, kind HistoryType) (bool, error) {
	if historyDate.IsZero() {
		return false, fmt.Errorf("insert %s: history date is required", t.history)
	}
	if kind == "" {
		kind = HistoryChanged
	}
	var inserted bool
	err := retryOnBusy(ensureContext(ctx), func() error {
		var err error
		inserted, err = insertHistoryIfAbsent(ctx, s.db, t.history, t.key, t.columnList(), t.placeholders(), args, historyDate, kind)
		return err
	})
	return inserted, err
}

func (s *Store) latestVersion(ctx context.Context, q queryer, t historizedTable, key string) (time.Time, error) {
	var latest sql.NullString
	query := fmt.Sprintf("SELECT MAX(history_date) FROM %s WHERE %s = ?", t.history, t.key)
	if err := q.QueryRowContext(ctx, query, key).Scan(&latest); err != nil {
		return time.Time{}, fmt.Errorf("latest %s: %w", t.history, err)
	}
	if !latest.Valid {
		return time.Time{}, fmt.Errorf("latest %s %s: %w", t.history, key, ErrNotFound)
	}
	return parseTimeString(latest.String)
}

func (t historizedTable) selectHead() string {
	return fmt.Sprintf("SELECT id, %s FROM %s", t.columnList(), t.head)
}

func (t historizedTable) selectHistory() string {
	return fmt.Sprintf("SELECT history_id, history_date, history_type, %s FROM %s", t.columnList(), t.history)
}

// NewID returns an opaque 32 character identifier for new records.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (s *Store) stamp() time.Time {
	return NormalizeTime(s.now())
}
