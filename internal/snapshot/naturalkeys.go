package snapshot

import (
	"strings"
	"time"

	"sfm/internal/records"
)

// Model names written in the "model" field of every record.
const (
	modelGroup                   = "ui.group"
	modelUser                    = "ui.user"
	modelCollectionSet           = "ui.collectionset"
	modelHistoricalCollectionSet = "ui.historicalcollectionset"
	modelCredential              = "ui.credential"
	modelHistoricalCredential    = "ui.historicalcredential"
	modelCollection              = "ui.collection"
	modelHistoricalCollection    = "ui.historicalcollection"
	modelSeed                    = "ui.seed"
	modelHistoricalSeed          = "ui.historicalseed"
	modelHarvest                 = "ui.harvest"
	modelHarvestStat             = "ui.harveststat"
	modelWarc                    = "ui.warc"
)

// naturalKeyFields names the fields that identify a record of each model.
// Every reference to a record elsewhere in a snapshot is the JSON array of
// these field values, in this order.
var naturalKeyFields = map[string][]string{
	modelGroup:                   {"name"},
	modelUser:                    {"username"},
	modelCollectionSet:           {"collection_set_id"},
	modelHistoricalCollectionSet: {"collection_set_id", "history_date"},
	modelCredential:              {"credential_id"},
	modelHistoricalCredential:    {"credential_id", "history_date"},
	modelCollection:              {"collection_id"},
	modelHistoricalCollection:    {"collection_id", "history_date"},
	modelSeed:                    {"seed_id"},
	modelHistoricalSeed:          {"seed_id", "history_date"},
	modelHarvest:                 {"harvest_id"},
	modelHarvestStat:             {"harvest", "item", "harvest_date"},
	modelWarc:                    {"warc_id"},
}

// naturalKey is a reference to another record by its natural key fields.
type naturalKey []string

func (k naturalKey) String() string {
	return strings.Join(k, "/")
}

func groupKey(name string) naturalKey        { return naturalKey{name} }
func userKey(username string) naturalKey     { return naturalKey{username} }
func collectionSetKey(id string) naturalKey  { return naturalKey{id} }
func credentialKey(id string) naturalKey     { return naturalKey{id} }
func collectionKey(id string) naturalKey     { return naturalKey{id} }
func harvestKey(harvestID string) naturalKey { return naturalKey{harvestID} }
func historyKey(id string, at time.Time) naturalKey {
	return naturalKey{id, records.FormatTime(at)}
}

// versionKey references a pinned history row, or is nil when ref is unset.
func versionKey(ref records.VersionRef) naturalKey {
	if ref.IsZero() {
		return nil
	}
	return historyKey(ref.ID, ref.HistoryDate)
}
