package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"sfm/internal/logging"
	"sfm/internal/records"
)

// Sink is the write side of the record store used by imports. Insert methods
// write rows verbatim; existence checks go by natural key.
type Sink interface {
	GroupExists(ctx context.Context, name string) (bool, error)
	InsertGroup(ctx context.Context, group *records.Group) error
	UserExists(ctx context.Context, username string) (bool, error)
	InsertUser(ctx context.Context, user *records.User) error
	CollectionSetExists(ctx context.Context, collectionSetID string) (bool, error)
	InsertCollectionSet(ctx context.Context, set *records.CollectionSet) error
	InsertHistoricalCollectionSet(ctx context.Context, h *records.HistoricalCollectionSet) (bool, error)
	CredentialExists(ctx context.Context, credentialID string) (bool, error)
	InsertCredential(ctx context.Context, credential *records.Credential) error
	InsertHistoricalCredential(ctx context.Context, h *records.HistoricalCredential) (bool, error)
	CollectionExists(ctx context.Context, collectionID string) (bool, error)
	InsertCollection(ctx context.Context, collection *records.Collection) error
	InsertHistoricalCollection(ctx context.Context, h *records.HistoricalCollection) (bool, error)
	InsertSeed(ctx context.Context, seed *records.Seed) error
	InsertHistoricalSeed(ctx context.Context, h *records.HistoricalSeed) (bool, error)
	InsertHarvest(ctx context.Context, harvest *records.Harvest) error
	InsertHarvestStat(ctx context.Context, stat *records.HarvestStat) error
	InsertWarc(ctx context.Context, warc *records.Warc) error
}

// Deserializer replays snapshots into a record store.
type Deserializer struct {
	sink   Sink
	logger *slog.Logger
}

// NewDeserializer constructs a deserializer writing to sink.
func NewDeserializer(sink Sink, logger *slog.Logger) *Deserializer {
	return &Deserializer{
		sink:   sink,
		logger: logging.NewComponentLogger(logger, "deserializer"),
	}
}

// DeserializeCollectionSet imports every immediate subdirectory of root that
// holds a records directory, in lexical order. The first failing collection
// stops the import.
func (d *Deserializer) DeserializeCollectionSet(ctx context.Context, root string) (Result, error) {
	result := newResult()
	entries, err := os.ReadDir(root)
	if err != nil {
		return result, fmt.Errorf("read collection set %s: %w", root, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		collectionPath := filepath.Join(root, entry.Name())
		info, err := os.Stat(RecordsPath(collectionPath))
		if err != nil || !info.IsDir() {
			d.logger.Debug("skipping directory without records", logging.String(logging.FieldPath, collectionPath))
			continue
		}
		r, err := d.DeserializeCollection(ctx, collectionPath)
		result.add(r)
		if err != nil {
			return result, err
		}
	}
	return result, nil
}

// DeserializeCollection imports one collection snapshot. A collection that
// already exists is skipped entirely. Missing or undecodable files fail with
// ErrMalformedSnapshot before anything is written.
func (d *Deserializer) DeserializeCollection(ctx context.Context, collectionPath string) (Result, error) {
	result := newResult()
	dir := RecordsPath(collectionPath)
	for _, file := range Files {
		path := filepath.Join(dir, file)
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return result, fmt.Errorf("%w: missing %s", ErrMalformedSnapshot, path)
			}
			return result, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
		}
	}

	collectionID, err := firstCollectionID(filepath.Join(dir, collectionFile))
	if err != nil {
		return result, err
	}
	ctx = logging.WithCollectionID(ctx, collectionID)
	logger := logging.WithContext(ctx, d.logger)

	found, err := d.sink.CollectionExists(ctx, collectionID)
	if err != nil {
		return result, err
	}
	if found {
		logger.Info("collection already exists; skipping import", logging.String(logging.FieldPath, collectionPath))
		result.SkippedCollections++
		return result, nil
	}

	snap, err := loadSnapshot(dir)
	if err != nil {
		return result, err
	}
	result.Files = len(Files)

	if err := d.apply(ctx, logger, snap, &result); err != nil {
		return result, fmt.Errorf("deserialize collection %s: %w", collectionID, err)
	}
	result.Collections++
	logger.Info("collection deserialized",
		logging.String(logging.FieldPath, collectionPath),
		logging.Int("records", result.Total()),
	)
	return result, nil
}

// firstCollectionID reads the natural key of the snapshot's collection.
func firstCollectionID(path string) (string, error) {
	collections, err := readRecords[collectionFields](path, modelCollection)
	if err != nil {
		return "", err
	}
	if len(collections) == 0 || collections[0].CollectionID == "" {
		return "", fmt.Errorf("%w: %s holds no collection", ErrMalformedSnapshot, path)
	}
	return collections[0].CollectionID, nil
}

// decodedSnapshot is a snapshot converted back into records.
type decodedSnapshot struct {
	groups               []*records.Group
	collectionSets       []*records.CollectionSet
	collectionSetHistory []*records.HistoricalCollectionSet
	users                []*records.User
	credentials          []*records.Credential
	credentialHistory    []*records.HistoricalCredential
	collections          []*records.Collection
	collectionHistory    []*records.HistoricalCollection
	seeds                []*records.Seed
	seedHistory          []*records.HistoricalSeed
	harvests             []*records.Harvest
	harvestStats         []*records.HarvestStat
	warcs                []*records.Warc
}

func decodeFile[F, R any](dir, file, model string, decode func(*fieldDecoder, F) R) ([]R, error) {
	path := filepath.Join(dir, file)
	fields, err := readRecords[F](path, model)
	if err != nil {
		return nil, err
	}
	d := &fieldDecoder{file: path}
	out := make([]R, 0, len(fields))
	for _, f := range fields {
		out = append(out, decode(d, f))
		if d.err != nil {
			return nil, d.err
		}
	}
	return out, nil
}

func loadSnapshot(dir string) (*decodedSnapshot, error) {
	var (
		snap decodedSnapshot
		err  error
	)
	if snap.groups, err = decodeFile(dir, groupsFile, modelGroup, (*fieldDecoder).group); err != nil {
		return nil, err
	}
	if snap.collectionSets, err = decodeFile(dir, collectionSetFile, modelCollectionSet, (*fieldDecoder).collectionSet); err != nil {
		return nil, err
	}
	if snap.collectionSetHistory, err = decodeFile(dir, historicalCollectionSetFile, modelHistoricalCollectionSet, (*fieldDecoder).historicalCollectionSet); err != nil {
		return nil, err
	}
	if snap.users, err = decodeFile(dir, usersFile, modelUser, (*fieldDecoder).user); err != nil {
		return nil, err
	}
	if snap.credentials, err = decodeFile(dir, credentialsFile, modelCredential, (*fieldDecoder).credential); err != nil {
		return nil, err
	}
	if snap.credentialHistory, err = decodeFile(dir, historicalCredentialsFile, modelHistoricalCredential, (*fieldDecoder).historicalCredential); err != nil {
		return nil, err
	}
	if snap.collections, err = decodeFile(dir, collectionFile, modelCollection, (*fieldDecoder).collection); err != nil {
		return nil, err
	}
	if snap.collectionHistory, err = decodeFile(dir, historicalCollectionFile, modelHistoricalCollection, (*fieldDecoder).historicalCollection); err != nil {
		return nil, err
	}
	if snap.seeds, err = decodeFile(dir, seedsFile, modelSeed, (*fieldDecoder).seed); err != nil {
		return nil, err
	}
	if snap.seedHistory, err = decodeFile(dir, historicalSeedsFile, modelHistoricalSeed, (*fieldDecoder).historicalSeed); err != nil {
		return nil, err
	}
	if snap.harvests, err = decodeFile(dir, harvestsFile, modelHarvest, (*fieldDecoder).harvest); err != nil {
		return nil, err
	}
	if snap.harvestStats, err = decodeFile(dir, harvestStatsFile, modelHarvestStat, (*fieldDecoder).harvestStat); err != nil {
		return nil, err
	}
	if snap.warcs, err = decodeFile(dir, warcsFile, modelWarc, (*fieldDecoder).warc); err != nil {
		return nil, err
	}
	return &snap, nil
}

// apply writes the snapshot in dependency order. Shared records are created
// only when absent; the collection subtree is created unconditionally.
func (d *Deserializer) apply(ctx context.Context, logger *slog.Logger, snap *decodedSnapshot, result *Result) error {
	for _, group := range snap.groups {
		found, err := d.sink.GroupExists(ctx, group.Name)
		if err != nil {
			return err
		}
		if found {
			result.existing(groupsFile, 1)
			continue
		}
		if err := d.sink.InsertGroup(ctx, group); err != nil {
			return err
		}
		result.created(groupsFile, 1)
	}

	for _, set := range snap.collectionSets {
		found, err := d.sink.CollectionSetExists(ctx, set.CollectionSetID)
		if err != nil {
			return err
		}
		if found {
			logger.Info("collection set already exists; skipping it and its history",
				logging.String("collection_set_id", set.CollectionSetID),
			)
			result.existing(collectionSetFile, 1)
			result.existing(historicalCollectionSetFile, len(snap.collectionSetHistory))
			continue
		}
		if err := d.sink.InsertCollectionSet(ctx, set); err != nil {
			return err
		}
		result.created(collectionSetFile, 1)
		for _, h := range snap.collectionSetHistory {
			if h.CollectionSetID != set.CollectionSetID {
				continue
			}
			if err := d.insertVersion(result, historicalCollectionSetFile, func() (bool, error) {
				return d.sink.InsertHistoricalCollectionSet(ctx, h)
			}); err != nil {
				return err
			}
		}
	}

	for _, user := range snap.users {
		found, err := d.sink.UserExists(ctx, user.Username)
		if err != nil {
			return err
		}
		if found {
			result.existing(usersFile, 1)
			continue
		}
		if err := d.sink.InsertUser(ctx, user); err != nil {
			return err
		}
		result.created(usersFile, 1)
	}

	added := map[string]bool{}
	for _, credential := range snap.credentials {
		found, err := d.sink.CredentialExists(ctx, credential.CredentialID)
		if err != nil {
			return err
		}
		if found {
			result.existing(credentialsFile, 1)
			continue
		}
		if err := d.sink.InsertCredential(ctx, credential); err != nil {
			return err
		}
		added[credential.CredentialID] = true
		result.created(credentialsFile, 1)
	}
	for _, h := range snap.credentialHistory {
		if !added[h.CredentialID] {
			result.existing(historicalCredentialsFile, 1)
			continue
		}
		if err := d.insertVersion(result, historicalCredentialsFile, func() (bool, error) {
			return d.sink.InsertHistoricalCredential(ctx, h)
		}); err != nil {
			return err
		}
	}

	for _, collection := range snap.collections {
		if err := d.sink.InsertCollection(ctx, collection); err != nil {
			return err
		}
		result.created(collectionFile, 1)
	}
	for _, h := range snap.collectionHistory {
		if err := d.insertVersion(result, historicalCollectionFile, func() (bool, error) {
			return d.sink.InsertHistoricalCollection(ctx, h)
		}); err != nil {
			return err
		}
	}

	for _, seed := range snap.seeds {
		if err := d.sink.InsertSeed(ctx, seed); err != nil {
			return err
		}
		result.created(seedsFile, 1)
	}
	for _, h := range snap.seedHistory {
		if err := d.insertVersion(result, historicalSeedsFile, func() (bool, error) {
			return d.sink.InsertHistoricalSeed(ctx, h)
		}); err != nil {
			return err
		}
	}

	for _, harvest := range snap.harvests {
		if err := d.sink.InsertHarvest(ctx, harvest); err != nil {
			return err
		}
		result.created(harvestsFile, 1)
	}
	for _, stat := range snap.harvestStats {
		if err := d.sink.InsertHarvestStat(ctx, stat); err != nil {
			return err
		}
		result.created(harvestStatsFile, 1)
	}
	for _, warc := range snap.warcs {
		if err := d.sink.InsertWarc(ctx, warc); err != nil {
			return err
		}
		result.created(warcsFile, 1)
	}
	return nil
}

// insertVersion records whether a verbatim history insert wrote a row. A
// version already present, as left behind by a deleted head row, is counted
// as existing.
func (d *Deserializer) insertVersion(result *Result, file string, insert func() (bool, error)) error {
	inserted, err := insert()
	if err != nil {
		return err
	}
	if inserted {
		result.created(file, 1)
	} else {
		result.existing(file, 1)
	}
	return nil
}
