package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// timeLayout is fixed width so stored timestamps sort lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000Z"

type rowScanner interface {
	Scan(dest ...any) error
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// NormalizeTime truncates t to the precision the store persists.
func NormalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC().Truncate(time.Microsecond)
}

func formatTime(t time.Time) string {
	return NormalizeTime(t).Format(timeLayout)
}

// FormatTime renders t in the fixed-width UTC layout used for stored timestamps.
func FormatTime(t time.Time) string {
	return formatTime(t)
}

// ParseTime parses a timestamp written by FormatTime or any RFC 3339 value.
func ParseTime(value string) (time.Time, error) {
	t, err := parseTimeString(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", value, err)
	}
	return t.UTC(), nil
}

func nullableTime(value *time.Time) any {
	if value == nil || value.IsZero() {
		return nil
	}
	return formatTime(*value)
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if t, err := time.Parse(timeLayout, value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}

func parseTime(value string) time.Time {
	t, err := parseTimeString(value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseNullableTime(value sql.NullString) *time.Time {
	if !value.Valid || value.String == "" {
		return nil
	}
	t, err := parseTimeString(value.String)
	if err != nil {
		return nil
	}
	return &t
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func marshalJSON(value any, fallback string) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	if string(data) == "null" {
		return fallback, nil
	}
	return string(data), nil
}

func marshalOptionalMap(value map[string]string) (any, error) {
	if value == nil {
		return nil, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func unmarshalJSON(raw string, dest any) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dest)
}

// nextHistoryDate returns a history date for a new version of the entity,
// moving at forward when needed so the chain stays strictly ordered.
func nextHistoryDate(ctx context.Context, q queryer, table, keyColumn, key string, at time.Time) (time.Time, error) {
	at = NormalizeTime(at)
	var latest sql.NullString
	query := fmt.Sprintf("SELECT MAX(history_date) FROM %s WHERE %s = ?", table, keyColumn)
	if err := q.QueryRowContext(ctx, query, key).Scan(&latest); err != nil {
		return time.Time{}, fmt.Errorf("latest %s history: %w", table, err)
	}
	if !latest.Valid {
		return at, nil
	}
	prev, err := parseTimeString(latest.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s history date: %w", table, err)
	}
	if !at.After(prev) {
		at = prev.Add(time.Microsecond)
	}
	return at, nil
}

func insertHistory(ctx context.Context, q queryer, table, columns string, placeholders string, args []any, historyDate time.Time, historyType HistoryType) error {
	query := fmt.Sprintf("INSERT INTO %s (%s, history_date, history_type) VALUES (%s, ?, ?)", table, columns, placeholders)
	args = append(append([]any{}, args...), formatTime(historyDate), string(historyType))
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("append %s: %w", table, err)
	}
	return nil
}

// insertHistoryIfAbsent appends a history row verbatim unless a row with the
// same natural key already exists. It reports whether a row was written.
func insertHistoryIfAbsent(ctx context.Context, q queryer, table, keyColumn, columns, placeholders string, args []any, historyDate time.Time, historyType HistoryType) (bool, error) {
	query := fmt.Sprintf(
		"INSERT INTO %s (%s, history_date, history_type) VALUES (%s, ?, ?) ON CONFLICT(%s, history_date) DO NOTHING",
		table, columns, placeholders, keyColumn,
	)
	args = append(append([]any{}, args...), formatTime(historyDate), string(historyType))
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("insert %s: %w", table, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert %s: %w", table, err)
	}
	return affected > 0, nil
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

func exists(ctx context.Context, q queryer, query string, args ...any) (bool, error) {
	var count int
	if err := q.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}
