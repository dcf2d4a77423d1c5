package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

var collectionSetTable = historizedTable{
	head:    "collection_sets",
	history: "historical_collection_sets",
	key:     "collection_set_id",
	columns: []string{"collection_set_id", "group_name", "name", "description", "is_visible", "history_note", "date_added", "date_updated"},
}

func collectionSetArgs(cs *CollectionSet) []any {
	return []any{
		cs.CollectionSetID,
		cs.GroupName,
		cs.Name,
		cs.Description,
		boolToInt(cs.IsVisible),
		cs.HistoryNote,
		formatTime(cs.DateAdded),
		formatTime(cs.DateUpdated),
	}
}

type collectionSetColumns struct {
	visible        int
	added, updated string
}

func (cols *collectionSetColumns) dest(cs *CollectionSet) []any {
	return []any{&cs.CollectionSetID, &cs.GroupName, &cs.Name, &cs.Description, &cols.visible, &cs.HistoryNote, &cols.added, &cols.updated}
}

func (cols *collectionSetColumns) apply(cs *CollectionSet) {
	cs.IsVisible = cols.visible != 0
	cs.DateAdded = parseTime(cols.added)
	cs.DateUpdated = parseTime(cols.updated)
}

func scanCollectionSet(scanner rowScanner) (*CollectionSet, error) {
	var (
		cs   CollectionSet
		cols collectionSetColumns
	)
	if err := scanner.Scan(append([]any{&cs.ID}, cols.dest(&cs)...)...); err != nil {
		return nil, err
	}
	cols.apply(&cs)
	return &cs, nil
}

func scanHistoricalCollectionSet(scanner rowScanner) (*HistoricalCollectionSet, error) {
	var (
		h                 HistoricalCollectionSet
		cols              collectionSetColumns
		historyDate, kind string
	)
	if err := scanner.Scan(append([]any{&h.HistoryID, &historyDate, &kind}, cols.dest(&h.CollectionSet)...)...); err != nil {
		return nil, err
	}
	cols.apply(&h.CollectionSet)
	h.HistoryDate = parseTime(historyDate)
	h.HistoryType = HistoryType(kind)
	return &h, nil
}

// GetCollectionSet fetches a collection set by id. It returns (nil, nil) when absent.
func (s *Store) GetCollectionSet(ctx context.Context, collectionSetID string) (*CollectionSet, error) {
	row := s.db.QueryRowContext(ctx, collectionSetTable.selectHead()+` WHERE collection_set_id = ?`, collectionSetID)
	cs, err := scanCollectionSet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get collection set: %w", err)
	}
	return cs, nil
}

// CollectionSetExists reports whether a collection set with the id exists.
func (s *Store) CollectionSetExists(ctx context.Context, collectionSetID string) (bool, error) {
	return s.headExists(ctx, collectionSetTable, collectionSetID)
}

// ListCollectionSets returns every collection set ordered by name.
func (s *Store) ListCollectionSets(ctx context.Context) ([]*CollectionSet, error) {
	rows, err := s.db.QueryContext(ctx, collectionSetTable.selectHead()+` ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list collection sets: %w", err)
	}
	defer rows.Close()

	var sets []*CollectionSet
	for rows.Next() {
		cs, err := scanCollectionSet(rows)
		if err != nil {
			return nil, fmt.Errorf("scan collection set: %w", err)
		}
		sets = append(sets, cs)
	}
	return sets, rows.Err()
}

// CreateCollectionSet stores a new collection set and its first version. An
// empty CollectionSetID is generated.
func (s *Store) CreateCollectionSet(ctx context.Context, cs *CollectionSet) error {
	if cs == nil || strings.TrimSpace(cs.Name) == "" {
		return errors.New("collection set name is required")
	}
	if cs.CollectionSetID == "" {
		cs.CollectionSetID = NewID()
	}
	now := s.stamp()
	cs.DateAdded, cs.DateUpdated = now, now
	id, err := s.create(ctx, collectionSetTable, cs.CollectionSetID, collectionSetArgs(cs), now)
	if err != nil {
		return fmt.Errorf("create collection set: %w", err)
	}
	cs.ID = id
	return nil
}

// SaveCollectionSet persists changes and appends a version.
func (s *Store) SaveCollectionSet(ctx context.Context, cs *CollectionSet) error {
	if cs == nil {
		return errors.New("collection set is nil")
	}
	cs.DateUpdated = s.stamp()
	if err := s.save(ctx, collectionSetTable, cs.CollectionSetID, collectionSetArgs(cs), cs.DateUpdated); err != nil {
		return fmt.Errorf("save collection set: %w", err)
	}
	return nil
}

// DeleteCollectionSet removes the head row and records the deletion in history.
func (s *Store) DeleteCollectionSet(ctx context.Context, cs *CollectionSet) (bool, error) {
	if cs == nil {
		return false, errors.New("collection set is nil")
	}
	removed, err := s.remove(ctx, collectionSetTable, cs.CollectionSetID, collectionSetArgs(cs), s.stamp())
	if err != nil {
		return false, fmt.Errorf("delete collection set: %w", err)
	}
	return removed, nil
}

// CollectionSetHistory returns every version of the collection set, oldest first.
func (s *Store) CollectionSetHistory(ctx context.Context, collectionSetID string) ([]*HistoricalCollectionSet, error) {
	rows, err := s.db.QueryContext(ctx,
		collectionSetTable.selectHistory()+` WHERE collection_set_id = ? ORDER BY history_date, history_id`,
		collectionSetID,
	)
	if err != nil {
		return nil, fmt.Errorf("collection set history: %w", err)
	}
	defer rows.Close()

	var history []*HistoricalCollectionSet
	for rows.Next() {
		h, err := scanHistoricalCollectionSet(rows)
		if err != nil {
			return nil, fmt.Errorf("scan historical collection set: %w", err)
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

// InsertCollectionSet stores a collection set verbatim without writing history.
func (s *Store) InsertCollectionSet(ctx context.Context, cs *CollectionSet) error {
	if cs == nil || cs.CollectionSetID == "" {
		return errors.New("collection set id is required")
	}
	id, err := collectionSetTable.insertHead(ctx, s.db, collectionSetArgs(cs))
	if err != nil {
		return err
	}
	cs.ID = id
	return nil
}

// InsertHistoricalCollectionSet appends a version verbatim. It reports false
// when the version is already present.
func (s *Store) InsertHistoricalCollectionSet(ctx context.Context, h *HistoricalCollectionSet) (bool, error) {
	if h == nil || h.CollectionSetID == "" {
		return false, errors.New("historical collection set id is required")
	}
	return s.insertVersion(ctx, collectionSetTable, collectionSetArgs(&h.CollectionSet), h.HistoryDate, h.HistoryType)
}
