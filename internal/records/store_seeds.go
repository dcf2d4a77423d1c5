package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var seedTable = historizedTable{
	head:    "seeds",
	history: "historical_seeds",
	key:     "seed_id",
	columns: []string{"seed_id", "collection_id", "uid", "token", "is_active", "is_valid", "history_note", "date_added", "date_updated"},
}

func seedArgs(seed *Seed) []any {
	return []any{
		seed.SeedID,
		seed.CollectionID,
		seed.UID,
		seed.Token,
		boolToInt(seed.IsActive),
		boolToInt(seed.IsValid),
		seed.HistoryNote,
		formatTime(seed.DateAdded),
		formatTime(seed.DateUpdated),
	}
}

type seedColumns struct {
	active, valid  int
	added, updated string
}

func (cols *seedColumns) dest(seed *Seed) []any {
	return []any{&seed.SeedID, &seed.CollectionID, &seed.UID, &seed.Token, &cols.active, &cols.valid, &seed.HistoryNote, &cols.added, &cols.updated}
}

func (cols *seedColumns) apply(seed *Seed) {
	seed.IsActive = cols.active != 0
	seed.IsValid = cols.valid != 0
	seed.DateAdded = parseTime(cols.added)
	seed.DateUpdated = parseTime(cols.updated)
}

func scanSeed(scanner rowScanner) (*Seed, error) {
	var (
		seed Seed
		cols seedColumns
	)
	if err := scanner.Scan(append([]any{&seed.ID}, cols.dest(&seed)...)...); err != nil {
		return nil, err
	}
	cols.apply(&seed)
	return &seed, nil
}

func scanHistoricalSeed(scanner rowScanner) (*HistoricalSeed, error) {
	var (
		h                 HistoricalSeed
		cols              seedColumns
		historyDate, kind string
	)
	if err := scanner.Scan(append([]any{&h.HistoryID, &historyDate, &kind}, cols.dest(&h.Seed)...)...); err != nil {
		return nil, err
	}
	cols.apply(&h.Seed)
	h.HistoryDate = parseTime(historyDate)
	h.HistoryType = HistoryType(kind)
	return &h, nil
}

func (s *Store) findSeed(ctx context.Context, where string, args ...any) (*Seed, error) {
	row := s.db.QueryRowContext(ctx, seedTable.selectHead()+" WHERE "+where+" ORDER BY id LIMIT 1", args...)
	seed, err := scanSeed(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return seed, nil
}

// GetSeed fetches a seed by id. It returns (nil, nil) when absent.
func (s *Store) GetSeed(ctx context.Context, seedID string) (*Seed, error) {
	seed, err := s.findSeed(ctx, "seed_id = ?", seedID)
	if err != nil {
		return nil, fmt.Errorf("get seed: %w", err)
	}
	return seed, nil
}

// SeedExists reports whether a seed with the id exists.
func (s *Store) SeedExists(ctx context.Context, seedID string) (bool, error) {
	return s.headExists(ctx, seedTable, seedID)
}

// FindSeedByUID returns the seed of the collection carrying uid, or (nil, nil).
func (s *Store) FindSeedByUID(ctx context.Context, collectionID, uid string) (*Seed, error) {
	if uid == "" {
		return nil, nil
	}
	seed, err := s.findSeed(ctx, "collection_id = ? AND uid = ?", collectionID, uid)
	if err != nil {
		return nil, fmt.Errorf("find seed by uid: %w", err)
	}
	return seed, nil
}

// FindSeedByToken returns the seed of the collection carrying token, or (nil, nil).
func (s *Store) FindSeedByToken(ctx context.Context, collectionID, token string) (*Seed, error) {
	if token == "" {
		return nil, nil
	}
	seed, err := s.findSeed(ctx, "collection_id = ? AND token = ?", collectionID, token)
	if err != nil {
		return nil, fmt.Errorf("find seed by token: %w", err)
	}
	return seed, nil
}

// SeedsForCollection returns the seeds of a collection in creation order.
func (s *Store) SeedsForCollection(ctx context.Context, collectionID string) ([]*Seed, error) {
	rows, err := s.db.QueryContext(ctx, seedTable.selectHead()+` WHERE collection_id = ? ORDER BY id`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("seeds for collection: %w", err)
	}
	defer rows.Close()

	var seeds []*Seed
	for rows.Next() {
		seed, err := scanSeed(rows)
		if err != nil {
			return nil, fmt.Errorf("scan seed: %w", err)
		}
		seeds = append(seeds, seed)
	}
	return seeds, rows.Err()
}

// CreateSeed stores a new seed and its first version.
func (s *Store) CreateSeed(ctx context.Context, seed *Seed) error {
	if seed == nil || seed.CollectionID == "" {
		return errors.New("seed collection is required")
	}
	if seed.SeedID == "" {
		seed.SeedID = NewID()
	}
	now := s.stamp()
	seed.DateAdded, seed.DateUpdated = now, now
	id, err := s.create(ctx, seedTable, seed.SeedID, seedArgs(seed), now)
	if err != nil {
		return fmt.Errorf("create seed: %w", err)
	}
	seed.ID = id
	return nil
}

// SaveSeed persists changes and appends a version.
func (s *Store) SaveSeed(ctx context.Context, seed *Seed) error {
	if seed == nil {
		return errors.New("seed is nil")
	}
	seed.DateUpdated = s.stamp()
	if err := s.save(ctx, seedTable, seed.SeedID, seedArgs(seed), seed.DateUpdated); err != nil {
		return fmt.Errorf("save seed: %w", err)
	}
	return nil
}

// DeleteSeed removes the head row and records the deletion in history.
func (s *Store) DeleteSeed(ctx context.Context, seed *Seed) (bool, error) {
	if seed == nil {
		return false, errors.New("seed is nil")
	}
	removed, err := s.remove(ctx, seedTable, seed.SeedID, seedArgs(seed), s.stamp())
	if err != nil {
		return false, fmt.Errorf("delete seed: %w", err)
	}
	return removed, nil
}

// SeedHistory returns every version of the seed, oldest first.
func (s *Store) SeedHistory(ctx context.Context, seedID string) ([]*HistoricalSeed, error) {
	rows, err := s.db.QueryContext(ctx,
		seedTable.selectHistory()+` WHERE seed_id = ? ORDER BY history_date, history_id`,
		seedID,
	)
	if err != nil {
		return nil, fmt.Errorf("seed history: %w", err)
	}
	defer rows.Close()

	var history []*HistoricalSeed
	for rows.Next() {
		h, err := scanHistoricalSeed(rows)
		if err != nil {
			return nil, fmt.Errorf("scan historical seed: %w", err)
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

// InsertSeed stores a seed verbatim without writing history.
func (s *Store) InsertSeed(ctx context.Context, seed *Seed) error {
	if seed == nil || seed.SeedID == "" {
		return errors.New("seed id is required")
	}
	id, err := seedTable.insertHead(ctx, s.db, seedArgs(seed))
	if err != nil {
		return err
	}
	seed.ID = id
	return nil
}

// InsertHistoricalSeed appends a version verbatim. It reports false when the
// version is already present.
func (s *Store) InsertHistoricalSeed(ctx context.Context, h *HistoricalSeed) (bool, error) {
	if h == nil || h.SeedID == "" {
		return false, errors.New("historical seed id is required")
	}
	return s.insertVersion(ctx, seedTable, seedArgs(&h.Seed), h.HistoryDate, h.HistoryType)
}
