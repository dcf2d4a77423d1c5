package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

func scanWarc(scanner rowScanner) (*Warc, error) {
	var (
		warc    Warc
		created string
	)
	if err := scanner.Scan(&warc.ID, &warc.WarcID, &warc.HarvestID, &warc.Path, &warc.SHA1, &warc.Bytes, &created); err != nil {
		return nil, err
	}
	warc.DateCreated = parseTime(created)
	return &warc, nil
}

// GetWarc fetches a warc by id. It returns (nil, nil) when absent.
func (s *Store) GetWarc(ctx context.Context, warcID string) (*Warc, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, warc_id, harvest_id, path, sha1, bytes, date_created FROM warcs WHERE warc_id = ?`, warcID)
	warc, err := scanWarc(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get warc: %w", err)
	}
	return warc, nil
}

// WarcExists reports whether a warc with the id exists.
func (s *Store) WarcExists(ctx context.Context, warcID string) (bool, error) {
	found, err := exists(ctx, s.db, `SELECT COUNT(1) FROM warcs WHERE warc_id = ?`, warcID)
	if err != nil {
		return false, fmt.Errorf("warc exists: %w", err)
	}
	return found, nil
}

// InsertWarc stores an archive file record. A warc is immutable once written.
func (s *Store) InsertWarc(ctx context.Context, warc *Warc) error {
	if warc == nil || warc.WarcID == "" || warc.HarvestID == "" {
		return errors.New("warc id and harvest are required")
	}
	if warc.DateCreated.IsZero() {
		warc.DateCreated = s.stamp()
	}
	res, err := s.execWithRetry(ctx,
		`INSERT INTO warcs (warc_id, harvest_id, path, sha1, bytes, date_created) VALUES (?, ?, ?, ?, ?, ?)`,
		warc.WarcID, warc.HarvestID, warc.Path, warc.SHA1, warc.Bytes, formatTime(warc.DateCreated),
	)
	if err != nil {
		return wrapInsertError("insert warc", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		warc.ID = id
	}
	return nil
}

// WarcsForHarvest returns the warcs of a harvest in creation order.
func (s *Store) WarcsForHarvest(ctx context.Context, harvestID string) ([]*Warc, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, warc_id, harvest_id, path, sha1, bytes, date_created FROM warcs
		 WHERE harvest_id = ? ORDER BY date_created, id`,
		harvestID,
	)
	if err != nil {
		return nil, fmt.Errorf("warcs for harvest: %w", err)
	}
	defer rows.Close()

	var warcs []*Warc
	for rows.Next() {
		warc, err := scanWarc(rows)
		if err != nil {
			return nil, fmt.Errorf("scan warc: %w", err)
		}
		warcs = append(warcs, warc)
	}
	return warcs, rows.Err()
}

// DeleteWarc removes a warc record.
func (s *Store) DeleteWarc(ctx context.Context, warcID string) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM warcs WHERE warc_id = ?`, warcID)
	if err != nil {
		return false, fmt.Errorf("delete warc: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
