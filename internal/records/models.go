package records

import "time"

// HistoryType marks how a history row came to be.
type HistoryType string

const (
	HistoryCreated HistoryType = "+"
	HistoryChanged HistoryType = "~"
	HistoryDeleted HistoryType = "-"
)

// Common harvest statuses reported by harvesters. Status is free-form; these
// are the values the CLI knows how to summarize.
const (
	HarvestRequested       = "requested"
	HarvestRunning         = "running"
	HarvestSuccess         = "completed success"
	HarvestWarnings        = "completed with warnings"
	HarvestFailure         = "completed failure"
	HarvestStopping        = "stop requested"
	HarvestPaused          = "paused"
	HarvestSkipped         = "skipped"
	HarvestVoided          = "voided"
	HarvestStatsDateLayout = "2006-01-02"
)

// Group is a named ownership unit.
type Group struct {
	ID   int64
	Name string
}

// User owns credentials.
type User struct {
	ID         int64
	Username   string
	Email      string
	DateJoined time.Time
}

// CollectionSet is a harvesting project grouping collections.
type CollectionSet struct {
	ID              int64
	CollectionSetID string
	GroupName       string
	Name            string
	Description     string
	IsVisible       bool
	HistoryNote     string
	DateAdded       time.Time
	DateUpdated     time.Time
}

// HistoricalCollectionSet is one immutable version of a CollectionSet.
type HistoricalCollectionSet struct {
	HistoryID   int64
	HistoryDate time.Time
	HistoryType HistoryType
	CollectionSet
}

// Credential is a per-user, per-platform token blob.
type Credential struct {
	ID           int64
	CredentialID string
	Username     string
	Platform     string
	Name         string
	Token        string
	IsActive     bool
	HistoryNote  string
	DateAdded    time.Time
	DateUpdated  time.Time
}

// HistoricalCredential is one immutable version of a Credential.
type HistoricalCredential struct {
	HistoryID   int64
	HistoryDate time.Time
	HistoryType HistoryType
	Credential
}

// Collection scopes seeds, a credential, and harvests. It is also the seed set
// that seed uid/token lookups are scoped to.
type Collection struct {
	ID              int64
	CollectionID    string
	CollectionSetID string
	CredentialID    string
	HarvestType     string
	Name            string
	Description     string
	IsActive        bool
	IsVisible       bool
	ScheduleMinutes int
	HarvestOptions  string
	EndDate         *time.Time
	HistoryNote     string
	DateAdded       time.Time
	DateUpdated     time.Time
}

// HistoricalCollection is one immutable version of a Collection.
type HistoricalCollection struct {
	HistoryID   int64
	HistoryDate time.Time
	HistoryType HistoryType
	Collection
}

// Seed is one harvest target. UID and Token may be reconciled asynchronously.
type Seed struct {
	ID           int64
	SeedID       string
	CollectionID string
	UID          string
	Token        string
	IsActive     bool
	IsValid      bool
	HistoryNote  string
	DateAdded    time.Time
	DateUpdated  time.Time
}

// HistoricalSeed is one immutable version of a Seed.
type HistoricalSeed struct {
	HistoryID   int64
	HistoryDate time.Time
	HistoryType HistoryType
	Seed
}

// VersionRef addresses one history row by natural key.
type VersionRef struct {
	ID          string
	HistoryDate time.Time
}

// IsZero reports whether the reference is unset.
func (r VersionRef) IsZero() bool {
	return r.ID == "" && r.HistoryDate.IsZero()
}

// Harvest is one harvesting run. HarvestID is the external id carried by bus
// events; CollectionVersion and CredentialVersion pin the history rows that
// were current when the run was requested.
type Harvest struct {
	ID                int64
	HarvestID         string
	HarvestType       string
	CollectionID      string
	CollectionVersion VersionRef
	CredentialVersion VersionRef
	Status            string
	DateRequested     time.Time
	DateStarted       *time.Time
	DateEnded         *time.Time
	DateUpdated       time.Time
	Stats             map[string]int64
	Infos             []string
	Warnings          []string
	Errors            []string
	TokenUpdates      map[string]string
	UIDs              map[string]string
	WarcsCount        int64
	WarcsBytes        int64
}

// HarvestStat is an append-only per-item, per-day counter for a harvest.
type HarvestStat struct {
	ID          int64
	HarvestID   string
	Item        string
	HarvestDate string
	Count       int64
}

// Warc is one archive file produced by a harvest.
type Warc struct {
	ID          int64
	WarcID      string
	HarvestID   string
	Path        string
	SHA1        string
	Bytes       int64
	DateCreated time.Time
}

// Counts tallies rows per table for diagnostics and tests.
type Counts struct {
	Groups                   int
	Users                    int
	CollectionSets           int
	HistoricalCollectionSets int
	Credentials              int
	HistoricalCredentials    int
	Collections              int
	HistoricalCollections    int
	Seeds                    int
	HistoricalSeeds          int
	Harvests                 int
	HarvestStats             int
	Warcs                    int
}
