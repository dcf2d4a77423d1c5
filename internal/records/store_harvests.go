package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const harvestColumns = `harvest_id, harvest_type, collection_id, collection_history_date,
	credential_id, credential_history_date, status, date_requested, date_started, date_ended,
	date_updated, stats_json, infos_json, warnings_json, errors_json, token_updates_json,
	uids_json, warcs_count, warcs_bytes`

const harvestColumnCount = 19

func harvestArgs(h *Harvest) ([]any, error) {
	stats, err := marshalJSON(h.Stats, "{}")
	if err != nil {
		return nil, fmt.Errorf("encode stats: %w", err)
	}
	infos, err := marshalJSON(h.Infos, "[]")
	if err != nil {
		return nil, fmt.Errorf("encode infos: %w", err)
	}
	warnings, err := marshalJSON(h.Warnings, "[]")
	if err != nil {
		return nil, fmt.Errorf("encode warnings: %w", err)
	}
	errs, err := marshalJSON(h.Errors, "[]")
	if err != nil {
		return nil, fmt.Errorf("encode errors: %w", err)
	}
	tokenUpdates, err := marshalOptionalMap(h.TokenUpdates)
	if err != nil {
		return nil, fmt.Errorf("encode token updates: %w", err)
	}
	uids, err := marshalOptionalMap(h.UIDs)
	if err != nil {
		return nil, fmt.Errorf("encode uids: %w", err)
	}
	var credentialDate any
	if !h.CredentialVersion.IsZero() {
		credentialDate = formatTime(h.CredentialVersion.HistoryDate)
	}
	return []any{
		h.HarvestID,
		h.HarvestType,
		h.CollectionID,
		formatTime(h.CollectionVersion.HistoryDate),
		nullableString(h.CredentialVersion.ID),
		credentialDate,
		h.Status,
		formatTime(h.DateRequested),
		nullableTime(h.DateStarted),
		nullableTime(h.DateEnded),
		formatTime(h.DateUpdated),
		stats,
		infos,
		warnings,
		errs,
		tokenUpdates,
		uids,
		h.WarcsCount,
		h.WarcsBytes,
	}, nil
}

func scanHarvest(scanner rowScanner) (*Harvest, error) {
	var (
		h                                  Harvest
		collectionDate, requested, updated string
		credentialID, credentialDate       sql.NullString
		started, ended                     sql.NullString
		stats, infos, warnings, errs       string
		tokenUpdates, uids                 sql.NullString
	)
	if err := scanner.Scan(
		&h.ID,
		&h.HarvestID,
		&h.HarvestType,
		&h.CollectionID,
		&collectionDate,
		&credentialID,
		&credentialDate,
		&h.Status,
		&requested,
		&started,
		&ended,
		&updated,
		&stats,
		&infos,
		&warnings,
		&errs,
		&tokenUpdates,
		&uids,
		&h.WarcsCount,
		&h.WarcsBytes,
	); err != nil {
		return nil, err
	}
	h.CollectionVersion = VersionRef{ID: h.CollectionID, HistoryDate: parseTime(collectionDate)}
	if credentialID.Valid {
		h.CredentialVersion = VersionRef{ID: credentialID.String, HistoryDate: parseTime(credentialDate.String)}
	}
	h.DateRequested = parseTime(requested)
	h.DateStarted = parseNullableTime(started)
	h.DateEnded = parseNullableTime(ended)
	h.DateUpdated = parseTime(updated)
	if err := unmarshalJSON(stats, &h.Stats); err != nil {
		return nil, fmt.Errorf("decode stats: %w", err)
	}
	if err := unmarshalJSON(infos, &h.Infos); err != nil {
		return nil, fmt.Errorf("decode infos: %w", err)
	}
	if err := unmarshalJSON(warnings, &h.Warnings); err != nil {
		return nil, fmt.Errorf("decode warnings: %w", err)
	}
	if err := unmarshalJSON(errs, &h.Errors); err != nil {
		return nil, fmt.Errorf("decode errors: %w", err)
	}
	if err := unmarshalJSON(tokenUpdates.String, &h.TokenUpdates); err != nil {
		return nil, fmt.Errorf("decode token updates: %w", err)
	}
	if err := unmarshalJSON(uids.String, &h.UIDs); err != nil {
		return nil, fmt.Errorf("decode uids: %w", err)
	}
	return &h, nil
}

// GetHarvest fetches a harvest by its external id. It returns (nil, nil) when absent.
func (s *Store) GetHarvest(ctx context.Context, harvestID string) (*Harvest, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, `+harvestColumns+` FROM harvests WHERE harvest_id = ?`, harvestID)
	h, err := scanHarvest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get harvest: %w", err)
	}
	return h, nil
}

// HarvestExists reports whether a harvest with the external id exists.
func (s *Store) HarvestExists(ctx context.Context, harvestID string) (bool, error) {
	found, err := exists(ctx, s.db, `SELECT COUNT(1) FROM harvests WHERE harvest_id = ?`, harvestID)
	if err != nil {
		return false, fmt.Errorf("harvest exists: %w", err)
	}
	return found, nil
}

// HarvestsForCollection returns the harvests of a collection, oldest request first.
func (s *Store) HarvestsForCollection(ctx context.Context, collectionID string) ([]*Harvest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, `+harvestColumns+` FROM harvests WHERE collection_id = ? ORDER BY date_requested, id`,
		collectionID,
	)
	if err != nil {
		return nil, fmt.Errorf("harvests for collection: %w", err)
	}
	defer rows.Close()

	var harvests []*Harvest
	for rows.Next() {
		h, err := scanHarvest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan harvest: %w", err)
		}
		harvests = append(harvests, h)
	}
	return harvests, rows.Err()
}

// CreateHarvest records a requested harvest of a collection, pinning the
// collection and credential versions current at this moment.
func (s *Store) CreateHarvest(ctx context.Context, h *Harvest) error {
	if h == nil || h.CollectionID == "" {
		return errors.New("harvest collection is required")
	}
	if h.HarvestID == "" {
		h.HarvestID = NewID()
	}
	if strings.TrimSpace(h.Status) == "" {
		h.Status = HarvestRequested
	}
	now := s.stamp()
	if h.DateRequested.IsZero() {
		h.DateRequested = now
	}
	h.DateUpdated = now

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			credentialID string
			harvestType  string
		)
		err := tx.QueryRowContext(ctx,
			`SELECT credential_id, harvest_type FROM collections WHERE collection_id = ?`, h.CollectionID,
		).Scan(&credentialID, &harvestType)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("create harvest: collection %s: %w", h.CollectionID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("create harvest: %w", err)
		}
		if h.HarvestType == "" {
			h.HarvestType = harvestType
		}
		collectionDate, err := s.latestVersion(ctx, tx, collectionTable, h.CollectionID)
		if err != nil {
			return fmt.Errorf("create harvest: %w", err)
		}
		h.CollectionVersion = VersionRef{ID: h.CollectionID, HistoryDate: collectionDate}
		credentialDate, err := s.latestVersion(ctx, tx, credentialTable, credentialID)
		if err != nil {
			return fmt.Errorf("create harvest: %w", err)
		}
		h.CredentialVersion = VersionRef{ID: credentialID, HistoryDate: credentialDate}

		args, err := harvestArgs(h)
		if err != nil {
			return fmt.Errorf("create harvest: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO harvests (`+harvestColumns+`) VALUES (`+makePlaceholders(harvestColumnCount)+`)`,
			args...,
		)
		if err != nil {
			return wrapInsertError("create harvest", err)
		}
		if id, err := res.LastInsertId(); err == nil {
			h.ID = id
		}
		return nil
	})
}

// InsertHarvest stores a harvest verbatim, including its pinned versions.
func (s *Store) InsertHarvest(ctx context.Context, h *Harvest) error {
	if h == nil || h.HarvestID == "" {
		return errors.New("harvest id is required")
	}
	args, err := harvestArgs(h)
	if err != nil {
		return fmt.Errorf("insert harvest: %w", err)
	}
	res, err := s.execWithRetry(ctx,
		`INSERT INTO harvests (`+harvestColumns+`) VALUES (`+makePlaceholders(harvestColumnCount)+`)`,
		args...,
	)
	if err != nil {
		return wrapInsertError("insert harvest", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		h.ID = id
	}
	return nil
}

// UpdateHarvest persists the status fields of a harvest as one statement.
// The collection, credential and pinned versions are never changed.
func (s *Store) UpdateHarvest(ctx context.Context, h *Harvest) error {
	if h == nil || h.HarvestID == "" {
		return errors.New("harvest id is required")
	}
	h.DateUpdated = s.stamp()
	args, err := harvestArgs(h)
	if err != nil {
		return fmt.Errorf("update harvest: %w", err)
	}
	// args[6:] covers status through warcs_bytes.
	res, err := s.execWithRetry(ctx,
		`UPDATE harvests SET
			status = ?,
			date_requested = ?,
			date_started = ?,
			date_ended = ?,
			date_updated = ?,
			stats_json = ?,
			infos_json = ?,
			warnings_json = ?,
			errors_json = ?,
			token_updates_json = ?,
			uids_json = ?,
			warcs_count = ?,
			warcs_bytes = ?
		WHERE harvest_id = ?`,
		append(args[6:], h.HarvestID)...,
	)
	if err != nil {
		return fmt.Errorf("update harvest: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update harvest: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update harvest %s: %w", h.HarvestID, ErrNotFound)
	}
	return nil
}

// DeleteHarvest removes a harvest together with its stats and warcs.
func (s *Store) DeleteHarvest(ctx context.Context, harvestID string) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM harvests WHERE harvest_id = ?`, harvestID)
	if err != nil {
		return false, fmt.Errorf("delete harvest: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// HarvestStatExists reports whether the harvest already has a count for item on day.
func (s *Store) HarvestStatExists(ctx context.Context, harvestID, item, harvestDate string) (bool, error) {
	found, err := exists(ctx, s.db,
		`SELECT COUNT(1) FROM harvest_stats WHERE harvest_id = ? AND item = ? AND harvest_date = ?`,
		harvestID, item, harvestDate,
	)
	if err != nil {
		return false, fmt.Errorf("harvest stat exists: %w", err)
	}
	return found, nil
}

// InsertHarvestStat appends a per-day counter for a harvest.
func (s *Store) InsertHarvestStat(ctx context.Context, stat *HarvestStat) error {
	if stat == nil || stat.HarvestID == "" || stat.Item == "" || stat.HarvestDate == "" {
		return errors.New("harvest stat harvest, item and date are required")
	}
	res, err := s.execWithRetry(ctx,
		`INSERT INTO harvest_stats (harvest_id, item, harvest_date, count) VALUES (?, ?, ?, ?)`,
		stat.HarvestID, stat.Item, stat.HarvestDate, stat.Count,
	)
	if err != nil {
		return wrapInsertError("insert harvest stat", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		stat.ID = id
	}
	return nil
}

// HarvestStatsForHarvest returns the counters of a harvest ordered by day and item.
func (s *Store) HarvestStatsForHarvest(ctx context.Context, harvestID string) ([]*HarvestStat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, harvest_id, item, harvest_date, count FROM harvest_stats
		 WHERE harvest_id = ? ORDER BY harvest_date, item`,
		harvestID,
	)
	if err != nil {
		return nil, fmt.Errorf("harvest stats: %w", err)
	}
	defer rows.Close()

	var stats []*HarvestStat
	for rows.Next() {
		var stat HarvestStat
		if err := rows.Scan(&stat.ID, &stat.HarvestID, &stat.Item, &stat.HarvestDate, &stat.Count); err != nil {
			return nil, fmt.Errorf("scan harvest stat: %w", err)
		}
		stats = append(stats, &stat)
	}
	return stats, rows.Err()
}
