package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"sfm/internal/fileutil"
	"sfm/internal/logging"
	"sfm/internal/records"
)

// Source is the read side of the record store used by exports.
type Source interface {
	GetCollectionSet(ctx context.Context, collectionSetID string) (*records.CollectionSet, error)
	CollectionSetHistory(ctx context.Context, collectionSetID string) ([]*records.HistoricalCollectionSet, error)
	CollectionsInSet(ctx context.Context, collectionSetID string) ([]*records.Collection, error)
	GetGroup(ctx context.Context, name string) (*records.Group, error)
	GetUser(ctx context.Context, username string) (*records.User, error)
	GetCredential(ctx context.Context, credentialID string) (*records.Credential, error)
	CredentialHistory(ctx context.Context, credentialID string) ([]*records.HistoricalCredential, error)
	CollectionHistory(ctx context.Context, collectionID string) ([]*records.HistoricalCollection, error)
	SeedsForCollection(ctx context.Context, collectionID string) ([]*records.Seed, error)
	SeedHistory(ctx context.Context, seedID string) ([]*records.HistoricalSeed, error)
	HarvestsForCollection(ctx context.Context, collectionID string) ([]*records.Harvest, error)
	HarvestStatsForHarvest(ctx context.Context, harvestID string) ([]*records.HarvestStat, error)
	WarcsForHarvest(ctx context.Context, harvestID string) ([]*records.Warc, error)
}

// Serializer writes collection snapshots below a data directory.
type Serializer struct {
	source  Source
	dataDir string
	logger  *slog.Logger
}

// NewSerializer constructs a serializer reading from source.
func NewSerializer(source Source, dataDir string, logger *slog.Logger) *Serializer {
	return &Serializer{
		source:  source,
		dataDir: dataDir,
		logger:  logging.NewComponentLogger(logger, "serializer"),
	}
}

// CollectionPath returns the directory a collection is exported to.
func (s *Serializer) CollectionPath(c *records.Collection) string {
	return CollectionPath(s.dataDir, c.CollectionSetID, c.CollectionID)
}

// SerializeCollectionSet exports every collection of the set.
func (s *Serializer) SerializeCollectionSet(ctx context.Context, set *records.CollectionSet) (Result, error) {
	result := newResult()
	collections, err := s.source.CollectionsInSet(ctx, set.CollectionSetID)
	if err != nil {
		return result, err
	}
	for _, c := range collections {
		r, err := s.SerializeCollection(ctx, c)
		result.add(r)
		if err != nil {
			return result, err
		}
	}
	return result, nil
}

// keySet keeps the first occurrence of each key in insertion order.
type keySet struct {
	seen  map[string]struct{}
	order []string
}

func newKeySet() *keySet {
	return &keySet{seen: map[string]struct{}{}}
}

func (k *keySet) add(key string) {
	if key == "" {
		return
	}
	if _, ok := k.seen[key]; ok {
		return
	}
	k.seen[key] = struct{}{}
	k.order = append(k.order, key)
}

// collectionSnapshot is every record of one collection subtree, in file order.
type collectionSnapshot struct {
	groups               []groupFields
	collectionSet        []collectionSetFields
	collectionSetHistory []historicalCollectionSetFields
	credentials          []credentialFields
	credentialHistory    []historicalCredentialFields
	users                []userFields
	collection           []collectionFields
	collectionHistory    []historicalCollectionFields
	seeds                []seedFields
	seedHistory          []historicalSeedFields
	harvests             []harvestFields
	harvestStats         []harvestStatFields
	warcs                []warcFields
}

// SerializeCollection deletes and recreates <collection path>/records, then
// writes a fresh snapshot into it. Only the records subdirectory is reset.
// The collection directory itself also holds the harvested WARC files and is
// never removed.
func (s *Serializer) SerializeCollection(ctx context.Context, c *records.Collection) (Result, error) {
	result := newResult()
	ctx = logging.WithCollectionID(ctx, c.CollectionID)
	logger := logging.WithContext(ctx, s.logger)

	snap, err := s.collect(ctx, logger, c)
	if err != nil {
		return result, fmt.Errorf("serialize collection %s: %w", c.CollectionID, err)
	}

	dir := RecordsPath(s.CollectionPath(c))
	if err := fileutil.ResetDir(dir, recordDirPerm); err != nil {
		return result, fmt.Errorf("serialize collection %s: %w", c.CollectionID, err)
	}

	writes := []struct {
		file  string
		write func(path string) (int, error)
	}{
		{groupsFile, writer(modelGroup, snap.groups)},
		{collectionSetFile, writer(modelCollectionSet, snap.collectionSet)},
		{historicalCollectionSetFile, writer(modelHistoricalCollectionSet, snap.collectionSetHistory)},
		{credentialsFile, writer(modelCredential, snap.credentials)},
		{historicalCredentialsFile, writer(modelHistoricalCredential, snap.credentialHistory)},
		{usersFile, writer(modelUser, snap.users)},
		{collectionFile, writer(modelCollection, snap.collection)},
		{historicalCollectionFile, writer(modelHistoricalCollection, snap.collectionHistory)},
		{seedsFile, writer(modelSeed, snap.seeds)},
		{historicalSeedsFile, writer(modelHistoricalSeed, snap.seedHistory)},
		{harvestsFile, writer(modelHarvest, snap.harvests)},
		{harvestStatsFile, writer(modelHarvestStat, snap.harvestStats)},
		{warcsFile, writer(modelWarc, snap.warcs)},
	}
	for _, w := range writes {
		n, err := w.write(filepath.Join(dir, w.file))
		if err != nil {
			return result, fmt.Errorf("serialize collection %s: %w", c.CollectionID, err)
		}
		result.Files++
		result.created(w.file, n)
	}
	result.Collections++

	logger.Info("collection serialized",
		logging.String(logging.FieldPath, dir),
		logging.Int("files", result.Files),
		logging.Int("records", result.Total()),
	)
	return result, nil
}

func writer[F any](model string, fields []F) func(string) (int, error) {
	return func(path string) (int, error) {
		return len(fields), writeRecords(path, model, fields)
	}
}

// collect walks the collection subtree. Shared groups and credentials are
// gathered from the current rows and every historical version, each once.
func (s *Serializer) collect(ctx context.Context, logger *slog.Logger, c *records.Collection) (*collectionSnapshot, error) {
	snap := &collectionSnapshot{}

	set, err := s.source.GetCollectionSet(ctx, c.CollectionSetID)
	if err != nil {
		return nil, err
	}
	if set == nil {
		return nil, fmt.Errorf("collection set %s: %w", c.CollectionSetID, records.ErrNotFound)
	}
	setHistory, err := s.source.CollectionSetHistory(ctx, set.CollectionSetID)
	if err != nil {
		return nil, err
	}
	snap.collectionSet = []collectionSetFields{encodeCollectionSet(set)}

	groupNames := newKeySet()
	groupNames.add(set.GroupName)
	for _, h := range setHistory {
		groupNames.add(h.GroupName)
		snap.collectionSetHistory = append(snap.collectionSetHistory, historicalCollectionSetFields{
			collectionSetFields: encodeCollectionSet(&h.CollectionSet),
			historyFields:       encodeHistory(h.HistoryDate, h.HistoryType),
		})
	}
	for _, name := range groupNames.order {
		group, err := s.source.GetGroup(ctx, name)
		if err != nil {
			return nil, err
		}
		if group == nil {
			logger.Warn("group referenced by history no longer exists", logging.String("group", name))
			continue
		}
		snap.groups = append(snap.groups, encodeGroup(group))
	}

	collectionHistory, err := s.source.CollectionHistory(ctx, c.CollectionID)
	if err != nil {
		return nil, err
	}
	snap.collection = []collectionFields{encodeCollection(c)}

	credentialIDs := newKeySet()
	credentialIDs.add(c.CredentialID)
	for _, h := range collectionHistory {
		credentialIDs.add(h.CredentialID)
		snap.collectionHistory = append(snap.collectionHistory, historicalCollectionFields{
			collectionFields: encodeCollection(&h.Collection),
			historyFields:    encodeHistory(h.HistoryDate, h.HistoryType),
		})
	}

	usernames := newKeySet()
	for _, id := range credentialIDs.order {
		credential, err := s.source.GetCredential(ctx, id)
		if err != nil {
			return nil, err
		}
		if credential == nil {
			logger.Warn("credential referenced by history no longer exists", logging.String("credential_id", id))
			continue
		}
		snap.credentials = append(snap.credentials, encodeCredential(credential))
		usernames.add(credential.Username)

		history, err := s.source.CredentialHistory(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, h := range history {
			snap.credentialHistory = append(snap.credentialHistory, historicalCredentialFields{
				credentialFields: encodeCredential(&h.Credential),
				historyFields:    encodeHistory(h.HistoryDate, h.HistoryType),
			})
		}
	}
	for _, username := range usernames.order {
		user, err := s.source.GetUser(ctx, username)
		if err != nil {
			return nil, err
		}
		if user == nil {
			logger.Warn("credential owner no longer exists", logging.String("username", username))
			continue
		}
		snap.users = append(snap.users, encodeUser(user))
	}

	seeds, err := s.source.SeedsForCollection(ctx, c.CollectionID)
	if err != nil {
		return nil, err
	}
	for _, seed := range seeds {
		snap.seeds = append(snap.seeds, encodeSeed(seed))
		history, err := s.source.SeedHistory(ctx, seed.SeedID)
		if err != nil {
			return nil, err
		}
		for _, h := range history {
			snap.seedHistory = append(snap.seedHistory, historicalSeedFields{
				seedFields:    encodeSeed(&h.Seed),
				historyFields: encodeHistory(h.HistoryDate, h.HistoryType),
			})
		}
	}

	harvests, err := s.source.HarvestsForCollection(ctx, c.CollectionID)
	if err != nil {
		return nil, err
	}
	for _, h := range harvests {
		snap.harvests = append(snap.harvests, encodeHarvest(h))
		stats, err := s.source.HarvestStatsForHarvest(ctx, h.HarvestID)
		if err != nil {
			return nil, err
		}
		for _, stat := range stats {
			snap.harvestStats = append(snap.harvestStats, encodeHarvestStat(stat))
		}
		warcs, err := s.source.WarcsForHarvest(ctx, h.HarvestID)
		if err != nil {
			return nil, err
		}
		for _, warc := range warcs {
			snap.warcs = append(snap.warcs, encodeWarc(warc))
		}
	}
	return snap, nil
}
