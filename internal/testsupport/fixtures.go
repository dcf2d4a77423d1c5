package testsupport

import (
	"fmt"
	"testing"
	"time"

	"sfm/internal/records"
)

// Fixture is a collection set whose collections carry the full record
// subtree: two groups and two credentials reachable through history, seeds
// with edits, a harvest with daily stats, and warcs.
type Fixture struct {
	Groups        []*records.Group
	Users         []*records.User
	Credentials   []*records.Credential
	CollectionSet *records.CollectionSet

	*CollectionFixture
	Collections []*CollectionFixture
}

// CollectionFixture holds the records created under one collection.
type CollectionFixture struct {
	Collection *records.Collection
	Seeds      []*records.Seed
	Harvest    *records.Harvest
	Stats      []*records.HarvestStat
	Warcs      []*records.Warc
}

// NewFixture builds a collection set with one collection. The set was first
// owned by "old_group" and the collection first used the "old_user"
// credential, so both shared entities appear only through history.
func NewFixture(t testing.TB, store *records.Store) *Fixture {
	t.Helper()
	ctx := t.Context()

	f := &Fixture{}
	for _, name := range []string{"test_group", "old_group"} {
		group, err := store.CreateGroup(ctx, name)
		if err != nil {
			t.Fatalf("CreateGroup %s: %v", name, err)
		}
		f.Groups = append(f.Groups, group)
	}
	for _, username := range []string{"test_user", "old_user"} {
		user, err := store.CreateUser(ctx, username, username+"@example.com")
		if err != nil {
			t.Fatalf("CreateUser %s: %v", username, err)
		}
		f.Users = append(f.Users, user)
	}

	current := &records.Credential{Username: "test_user", Platform: "twitter", Name: "current", Token: `{"key":"k1"}`, IsActive: true}
	old := &records.Credential{Username: "old_user", Platform: "twitter", Name: "old", Token: `{"key":"k0"}`, IsActive: true}
	for _, credential := range []*records.Credential{current, old} {
		if err := store.CreateCredential(ctx, credential); err != nil {
			t.Fatalf("CreateCredential: %v", err)
		}
	}
	current.Token = `{"key":"k2"}`
	if err := store.SaveCredential(ctx, current); err != nil {
		t.Fatalf("SaveCredential: %v", err)
	}
	f.Credentials = []*records.Credential{current, old}

	set := &records.CollectionSet{GroupName: "old_group", Name: "Test set", IsVisible: true}
	if err := store.CreateCollectionSet(ctx, set); err != nil {
		t.Fatalf("CreateCollectionSet: %v", err)
	}
	set.GroupName = "test_group"
	set.HistoryNote = "moved to test_group"
	if err := store.SaveCollectionSet(ctx, set); err != nil {
		t.Fatalf("SaveCollectionSet: %v", err)
	}
	f.CollectionSet = set

	f.CollectionFixture = f.AddCollection(t, store, "Test collection")
	return f
}

// AddCollection adds a collection with seeds, a completed harvest, stats,
// and warcs to the fixture's collection set.
func (f *Fixture) AddCollection(t testing.TB, store *records.Store, name string) *CollectionFixture {
	t.Helper()
	ctx := t.Context()
	n := len(f.Collections) + 1

	collection := &records.Collection{
		CollectionSetID: f.CollectionSet.CollectionSetID,
		CredentialID:    f.Credentials[1].CredentialID,
		HarvestType:     "twitter_user_timeline",
		Name:            name,
		IsActive:        true,
		IsVisible:       true,
		ScheduleMinutes: 60,
		HarvestOptions:  `{"media":false}`,
	}
	if err := store.CreateCollection(ctx, collection); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	collection.CredentialID = f.Credentials[0].CredentialID
	collection.HistoryNote = "switched credential"
	if err := store.SaveCollection(ctx, collection); err != nil {
		t.Fatalf("SaveCollection: %v", err)
	}

	cf := &CollectionFixture{Collection: collection}
	seeds := []*records.Seed{
		{CollectionID: collection.CollectionID, UID: fmt.Sprintf("uid-%d", n), IsActive: true, IsValid: true},
		{CollectionID: collection.CollectionID, Token: fmt.Sprintf("query-%d", n), IsActive: true, IsValid: true},
	}
	for _, seed := range seeds {
		if err := store.CreateSeed(ctx, seed); err != nil {
			t.Fatalf("CreateSeed: %v", err)
		}
	}
	seeds[0].Token = fmt.Sprintf("screen_name_%d", n)
	if err := store.SaveSeed(ctx, seeds[0]); err != nil {
		t.Fatalf("SaveSeed: %v", err)
	}
	cf.Seeds = seeds

	harvest := &records.Harvest{CollectionID: collection.CollectionID}
	if err := store.CreateHarvest(ctx, harvest); err != nil {
		t.Fatalf("CreateHarvest: %v", err)
	}
	started := time.Date(2016, 5, 20, 0, 0, 0, 0, time.UTC)
	ended := started.Add(time.Hour)
	harvest.Status = records.HarvestSuccess
	harvest.DateStarted = &started
	harvest.DateEnded = &ended
	harvest.Stats = map[string]int64{"tweet": 12}
	harvest.Infos = []string{"harvest finished"}
	harvest.WarcsCount = 2
	harvest.WarcsBytes = 21
	if err := store.UpdateHarvest(ctx, harvest); err != nil {
		t.Fatalf("UpdateHarvest: %v", err)
	}
	cf.Harvest = harvest

	for _, stat := range []*records.HarvestStat{
		{HarvestID: harvest.HarvestID, Item: "tweet", HarvestDate: "2016-05-20", Count: 10},
		{HarvestID: harvest.HarvestID, Item: "user", HarvestDate: "2016-05-20", Count: 2},
	} {
		if err := store.InsertHarvestStat(ctx, stat); err != nil {
			t.Fatalf("InsertHarvestStat: %v", err)
		}
		cf.Stats = append(cf.Stats, stat)
	}
	for i := 1; i <= 2; i++ {
		warc := &records.Warc{
			WarcID:      fmt.Sprintf("warc-%d-%d", n, i),
			HarvestID:   harvest.HarvestID,
			Path:        fmt.Sprintf("/sfm-data/warc-%d-%d.warc.gz", n, i),
			SHA1:        fmt.Sprintf("%040d", i),
			Bytes:       int64(10 + i - 1),
			DateCreated: ended,
		}
		if err := store.InsertWarc(ctx, warc); err != nil {
			t.Fatalf("InsertWarc: %v", err)
		}
		cf.Warcs = append(cf.Warcs, warc)
	}

	f.Collections = append(f.Collections, cf)
	return cf
}
