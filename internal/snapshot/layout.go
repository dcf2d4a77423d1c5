package snapshot

import (
	"path/filepath"

	"sfm/internal/textutil"
)

// RecordsDir is the directory below a collection path holding the snapshot.
const RecordsDir = "records"

const (
	groupsFile                  = "groups.json"
	collectionSetFile           = "collection_set.json"
	historicalCollectionSetFile = "historical_collection_set.json"
	credentialsFile             = "credentials.json"
	historicalCredentialsFile   = "historical_credentials.json"
	usersFile                   = "users.json"
	collectionFile              = "collection.json"
	historicalCollectionFile    = "historical_collection.json"
	seedsFile                   = "seeds.json"
	historicalSeedsFile         = "historical_seeds.json"
	harvestsFile                = "harvests.json"
	harvestStatsFile            = "harvest_stats.json"
	warcsFile                   = "warcs.json"
	collectionSetDirName        = "collection_set"
	recordFilePerm              = 0o644
	recordDirPerm               = 0o755
)

// Files lists every file a complete snapshot contains.
var Files = []string{
	groupsFile,
	collectionSetFile,
	historicalCollectionSetFile,
	credentialsFile,
	historicalCredentialsFile,
	usersFile,
	collectionFile,
	historicalCollectionFile,
	seedsFile,
	historicalSeedsFile,
	harvestsFile,
	harvestStatsFile,
	warcsFile,
}

// CollectionSetPath is the directory of a collection set below dataDir.
func CollectionSetPath(dataDir, collectionSetID string) string {
	return filepath.Join(dataDir, collectionSetDirName, textutil.SanitizePathSegment(collectionSetID))
}

// CollectionPath is the directory of a collection below dataDir. WARC files
// and the records directory live inside it.
func CollectionPath(dataDir, collectionSetID, collectionID string) string {
	return filepath.Join(CollectionSetPath(dataDir, collectionSetID), textutil.SanitizePathSegment(collectionID))
}

// RecordsPath is the snapshot directory of a collection path.
func RecordsPath(collectionPath string) string {
	return filepath.Join(collectionPath, RecordsDir)
}
