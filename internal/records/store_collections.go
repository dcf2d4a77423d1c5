package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

var collectionTable = historizedTable{
	head:    "collections",
	history: "historical_collections",
	key:     "collection_id",
	columns: []string{
		"collection_id", "collection_set_id", "credential_id", "harvest_type", "name", "description",
		"is_active", "is_visible", "schedule_minutes", "harvest_options", "end_date",
		"history_note", "date_added", "date_updated",
	},
}

func collectionArgs(c *Collection) []any {
	return []any{
		c.CollectionID,
		c.CollectionSetID,
		c.CredentialID,
		c.HarvestType,
		c.Name,
		c.Description,
		boolToInt(c.IsActive),
		boolToInt(c.IsVisible),
		c.ScheduleMinutes,
		c.HarvestOptions,
		nullableTime(c.EndDate),
		c.HistoryNote,
		formatTime(c.DateAdded),
		formatTime(c.DateUpdated),
	}
}

type collectionColumns struct {
	active, visible int
	endDate         sql.NullString
	added, updated  string
}

func (cols *collectionColumns) dest(c *Collection) []any {
	return []any{
		&c.CollectionID, &c.CollectionSetID, &c.CredentialID, &c.HarvestType, &c.Name, &c.Description,
		&cols.active, &cols.visible, &c.ScheduleMinutes, &c.HarvestOptions, &cols.endDate,
		&c.HistoryNote, &cols.added, &cols.updated,
	}
}

func (cols *collectionColumns) apply(c *Collection) {
	c.IsActive = cols.active != 0
	c.IsVisible = cols.visible != 0
	c.EndDate = parseNullableTime(cols.endDate)
	c.DateAdded = parseTime(cols.added)
	c.DateUpdated = parseTime(cols.updated)
}

func scanCollection(scanner rowScanner) (*Collection, error) {
	var (
		c    Collection
		cols collectionColumns
	)
	if err := scanner.Scan(append([]any{&c.ID}, cols.dest(&c)...)...); err != nil {
		return nil, err
	}
	cols.apply(&c)
	return &c, nil
}

func scanHistoricalCollection(scanner rowScanner) (*HistoricalCollection, error) {
	var (
		h                 HistoricalCollection
		cols              collectionColumns
		historyDate, kind string
	)
	if err := scanner.Scan(append([]any{&h.HistoryID, &historyDate, &kind}, cols.dest(&h.Collection)...)...); err != nil {
		return nil, err
	}
	cols.apply(&h.Collection)
	h.HistoryDate = parseTime(historyDate)
	h.HistoryType = HistoryType(kind)
	return &h, nil
}

func (s *Store) queryCollections(ctx context.Context, query string, args ...any) ([]*Collection, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var collections []*Collection
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		collections = append(collections, c)
	}
	return collections, rows.Err()
}

// GetCollection fetches a collection by id. It returns (nil, nil) when absent.
func (s *Store) GetCollection(ctx context.Context, collectionID string) (*Collection, error) {
	row := s.db.QueryRowContext(ctx, collectionTable.selectHead()+` WHERE collection_id = ?`, collectionID)
	c, err := scanCollection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get collection: %w", err)
	}
	return c, nil
}

// CollectionExists reports whether a collection with the id exists.
func (s *Store) CollectionExists(ctx context.Context, collectionID string) (bool, error) {
	return s.headExists(ctx, collectionTable, collectionID)
}

// ListCollections returns every collection ordered by set and name.
func (s *Store) ListCollections(ctx context.Context) ([]*Collection, error) {
	collections, err := s.queryCollections(ctx, collectionTable.selectHead()+` ORDER BY collection_set_id, name, id`)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	return collections, nil
}

// CollectionsInSet returns the collections belonging to a collection set.
func (s *Store) CollectionsInSet(ctx context.Context, collectionSetID string) ([]*Collection, error) {
	collections, err := s.queryCollections(ctx,
		collectionTable.selectHead()+` WHERE collection_set_id = ? ORDER BY name, id`,
		collectionSetID,
	)
	if err != nil {
		return nil, fmt.Errorf("collections in set: %w", err)
	}
	return collections, nil
}

// CreateCollection stores a new collection and its first version.
func (s *Store) CreateCollection(ctx context.Context, c *Collection) error {
	if c == nil || strings.TrimSpace(c.Name) == "" {
		return errors.New("collection name is required")
	}
	if c.CollectionSetID == "" || c.CredentialID == "" {
		return errors.New("collection set and credential are required")
	}
	if c.CollectionID == "" {
		c.CollectionID = NewID()
	}
	now := s.stamp()
	c.DateAdded, c.DateUpdated = now, now
	id, err := s.create(ctx, collectionTable, c.CollectionID, collectionArgs(c), now)
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	c.ID = id
	return nil
}

// SaveCollection persists changes and appends a version.
func (s *Store) SaveCollection(ctx context.Context, c *Collection) error {
	if c == nil {
		return errors.New("collection is nil")
	}
	c.DateUpdated = s.stamp()
	if err := s.save(ctx, collectionTable, c.CollectionID, collectionArgs(c), c.DateUpdated); err != nil {
		return fmt.Errorf("save collection: %w", err)
	}
	return nil
}

// DeleteCollection removes the head row and records the deletion in history.
// Seeds and harvests still referencing the collection block the delete.
func (s *Store) DeleteCollection(ctx context.Context, c *Collection) (bool, error) {
	if c == nil {
		return false, errors.New("collection is nil")
	}
	removed, err := s.remove(ctx, collectionTable, c.CollectionID, collectionArgs(c), s.stamp())
	if err != nil {
		return false, fmt.Errorf("delete collection: %w", err)
	}
	return removed, nil
}

// CollectionHistory returns every version of the collection, oldest first.
func (s *Store) CollectionHistory(ctx context.Context, collectionID string) ([]*HistoricalCollection, error) {
	rows, err := s.db.QueryContext(ctx,
		collectionTable.selectHistory()+` WHERE collection_id = ? ORDER BY history_date, history_id`,
		collectionID,
	)
	if err != nil {
		return nil, fmt.Errorf("collection history: %w", err)
	}
	defer rows.Close()

	var history []*HistoricalCollection
	for rows.Next() {
		h, err := scanHistoricalCollection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan historical collection: %w", err)
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

// InsertCollection stores a collection verbatim without writing history.
func (s *Store) InsertCollection(ctx context.Context, c *Collection) error {
	if c == nil || c.CollectionID == "" {
		return errors.New("collection id is required")
	}
	id, err := collectionTable.insertHead(ctx, s.db, collectionArgs(c))
	if err != nil {
		return err
	}
	c.ID = id
	return nil
}

// InsertHistoricalCollection appends a version verbatim. It reports false
// when the version is already present.
func (s *Store) InsertHistoricalCollection(ctx context.Context, h *HistoricalCollection) (bool, error) {
	if h == nil || h.CollectionID == "" {
		return false, errors.New("historical collection id is required")
	}
	return s.insertVersion(ctx, collectionTable, collectionArgs(&h.Collection), h.HistoryDate, h.HistoryType)
}
