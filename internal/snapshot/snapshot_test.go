package snapshot_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sfm/internal/config"
	"sfm/internal/logging"
	"sfm/internal/records"
	"sfm/internal/snapshot"
	"sfm/internal/testsupport"
)

type env struct {
	cfg   *config.Config
	store *records.Store
	fx    *testsupport.Fixture
	ser   *snapshot.Serializer
}

func newEnv(t *testing.T) *env {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	return &env{
		cfg:   cfg,
		store: store,
		fx:    testsupport.NewFixture(t, store),
		ser:   snapshot.NewSerializer(store, cfg.Paths.DataDir, logging.NewNop()),
	}
}

func (e *env) export(t *testing.T) string {
	t.Helper()
	result, err := e.ser.SerializeCollection(t.Context(), e.fx.Collection)
	if err != nil {
		t.Fatalf("SerializeCollection failed: %v", err)
	}
	if result.Files != len(snapshot.Files) {
		t.Fatalf("expected %d files, wrote %d", len(snapshot.Files), result.Files)
	}
	return e.ser.CollectionPath(e.fx.Collection)
}

func emptyStore(t *testing.T) *records.Store {
	t.Helper()
	return testsupport.MustOpenStore(t, testsupport.NewConfig(t, testsupport.WithDatabase("target.db")))
}

type rawRecord struct {
	Model  string         `json:"model"`
	Fields map[string]any `json:"fields"`
}

func readRaw(t *testing.T, path string) []rawRecord {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	var out []rawRecord
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return out
}

func TestSerializeCollectionWritesLayout(t *testing.T) {
	e := newEnv(t)
	collectionPath := snapshot.CollectionPath(e.cfg.Paths.DataDir, e.fx.CollectionSet.CollectionSetID, e.fx.Collection.CollectionID)

	warcPath := filepath.Join(collectionPath, "2016", "harvest.warc.gz")
	if err := os.MkdirAll(filepath.Dir(warcPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(warcPath, []byte("warc"), 0o644); err != nil {
		t.Fatal(err)
	}
	stale := filepath.Join(snapshot.RecordsPath(collectionPath), "stale.json")
	if err := os.MkdirAll(filepath.Dir(stale), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(stale, []byte("[]"), 0o644); err != nil {
		t.Fatal(err)
	}

	if got := e.export(t); got != collectionPath {
		t.Fatalf("collection path = %q, want %q", got, collectionPath)
	}

	if _, err := os.Stat(warcPath); err != nil {
		t.Fatalf("collection directory contents were removed: %v", err)
	}
	if _, err := os.Stat(stale); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected stale records file to be removed, got %v", err)
	}

	dir := snapshot.RecordsPath(collectionPath)
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != len(snapshot.Files) {
		t.Fatalf("expected %d files, found %d", len(snapshot.Files), len(entries))
	}

	groups := readRaw(t, filepath.Join(dir, "groups.json"))
	if len(groups) != 2 || groups[0].Model != "ui.group" || groups[0].Fields["name"] != "test_group" || groups[1].Fields["name"] != "old_group" {
		t.Fatalf("unexpected groups %+v", groups)
	}
	if got := len(readRaw(t, filepath.Join(dir, "credentials.json"))); got != 2 {
		t.Fatalf("expected 2 deduplicated credentials, got %d", got)
	}
	if got := len(readRaw(t, filepath.Join(dir, "users.json"))); got != 2 {
		t.Fatalf("expected 2 users, got %d", got)
	}
	if got := len(readRaw(t, filepath.Join(dir, "historical_collection_set.json"))); got != 2 {
		t.Fatalf("expected 2 collection set versions, got %d", got)
	}

	collection := readRaw(t, filepath.Join(dir, "collection.json"))
	if len(collection) != 1 || collection[0].Model != "ui.collection" {
		t.Fatalf("unexpected collection records %+v", collection)
	}
	ref, ok := collection[0].Fields["collection_set"].([]any)
	if !ok || len(ref) != 1 || ref[0] != e.fx.CollectionSet.CollectionSetID {
		t.Fatalf("collection_set must be a natural key, got %#v", collection[0].Fields["collection_set"])
	}
	if _, ok := collection[0].Fields["id"]; ok {
		t.Fatal("surrogate ids must not be serialized")
	}

	harvests := readRaw(t, filepath.Join(dir, "harvests.json"))
	pinned, ok := harvests[0].Fields["historical_collection"].([]any)
	if !ok || len(pinned) != 2 || pinned[0] != e.fx.Collection.CollectionID {
		t.Fatalf("historical_collection must be (collection_id, history_date), got %#v", harvests[0].Fields["historical_collection"])
	}
}

func TestRoundTripIntoEmptyStore(t *testing.T) {
	e := newEnv(t)
	collectionPath := e.export(t)
	target := emptyStore(t)

	result, err := snapshot.NewDeserializer(target, logging.NewNop()).DeserializeCollection(t.Context(), collectionPath)
	if err != nil {
		t.Fatalf("DeserializeCollection failed: %v", err)
	}
	if result.Collections != 1 || result.SkippedCollections != 0 {
		t.Fatalf("unexpected result %+v", result)
	}

	want := testsupport.MustCounts(t, e.store)
	if got := testsupport.MustCounts(t, target); got != want {
		t.Fatalf("counts = %+v, want %+v", got, want)
	}

	harvest, err := target.GetHarvest(t.Context(), e.fx.Harvest.HarvestID)
	if err != nil || harvest == nil {
		t.Fatalf("GetHarvest: %v %v", harvest, err)
	}
	source, _ := e.store.GetHarvest(t.Context(), e.fx.Harvest.HarvestID)
	if !harvest.CollectionVersion.HistoryDate.Equal(source.CollectionVersion.HistoryDate) ||
		harvest.CredentialVersion.ID != source.CredentialVersion.ID ||
		!harvest.CredentialVersion.HistoryDate.Equal(source.CredentialVersion.HistoryDate) {
		t.Fatalf("pinned versions changed: %+v vs %+v", harvest, source)
	}
	if harvest.Status != source.Status || harvest.WarcsBytes != source.WarcsBytes || !harvest.DateEnded.Equal(*source.DateEnded) {
		t.Fatalf("harvest fields changed: %+v vs %+v", harvest, source)
	}

	sourceHistory, _ := e.store.SeedHistory(t.Context(), e.fx.Seeds[0].SeedID)
	targetHistory, err := target.SeedHistory(t.Context(), e.fx.Seeds[0].SeedID)
	if err != nil {
		t.Fatalf("SeedHistory failed: %v", err)
	}
	if len(targetHistory) != len(sourceHistory) {
		t.Fatalf("seed history length %d, want %d", len(targetHistory), len(sourceHistory))
	}
	for i := range sourceHistory {
		if !targetHistory[i].HistoryDate.Equal(sourceHistory[i].HistoryDate) || targetHistory[i].Token != sourceHistory[i].Token {
			t.Fatalf("seed version %d differs: %+v vs %+v", i, targetHistory[i], sourceHistory[i])
		}
	}
}

func TestReimportIsIdempotent(t *testing.T) {
	e := newEnv(t)
	collectionPath := e.export(t)
	target := emptyStore(t)
	d := snapshot.NewDeserializer(target, logging.NewNop())

	if _, err := d.DeserializeCollection(t.Context(), collectionPath); err != nil {
		t.Fatalf("first import failed: %v", err)
	}
	before := testsupport.MustCounts(t, target)

	result, err := d.DeserializeCollection(t.Context(), collectionPath)
	if err != nil {
		t.Fatalf("second import failed: %v", err)
	}
	if result.SkippedCollections != 1 || result.Total() != 0 {
		t.Fatalf("expected skipped collection, got %+v", result)
	}
	if after := testsupport.MustCounts(t, target); after != before {
		t.Fatalf("counts changed: %+v -> %+v", before, after)
	}
}

func TestImportRestoresDeletedRowsWithoutDuplicatingShared(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()
	collectionPath := e.export(t)
	original := testsupport.MustCounts(t, e.store)

	if _, err := e.store.DeleteHarvest(ctx, e.fx.Harvest.HarvestID); err != nil {
		t.Fatalf("DeleteHarvest failed: %v", err)
	}
	for _, seed := range e.fx.Seeds {
		if _, err := e.store.DeleteSeed(ctx, seed); err != nil {
			t.Fatalf("DeleteSeed failed: %v", err)
		}
	}
	if _, err := e.store.DeleteCollection(ctx, e.fx.Collection); err != nil {
		t.Fatalf("DeleteCollection failed: %v", err)
	}
	afterDelete := testsupport.MustCounts(t, e.store)
	if afterDelete.Collections != 0 || afterDelete.Seeds != 0 || afterDelete.Warcs != 0 {
		t.Fatalf("delete did not remove rows: %+v", afterDelete)
	}

	result, err := snapshot.NewDeserializer(e.store, logging.NewNop()).DeserializeCollection(ctx, collectionPath)
	if err != nil {
		t.Fatalf("DeserializeCollection failed: %v", err)
	}
	if result.Created["groups.json"] != 0 || result.Created["users.json"] != 0 || result.Created["credentials.json"] != 0 {
		t.Fatalf("shared rows were recreated: %+v", result.Created)
	}

	restored := testsupport.MustCounts(t, e.store)
	want := original
	// Deletions are part of each entity's history and stay there.
	want.HistoricalCollections = afterDelete.HistoricalCollections
	want.HistoricalSeeds = afterDelete.HistoricalSeeds
	if restored != want {
		t.Fatalf("counts = %+v, want %+v", restored, want)
	}
}

func TestMissingFileIsFatalAndAppliesNothing(t *testing.T) {
	e := newEnv(t)
	collectionPath := e.export(t)
	missing := filepath.Join(snapshot.RecordsPath(collectionPath), "warcs.json")
	if err := os.Remove(missing); err != nil {
		t.Fatal(err)
	}
	target := emptyStore(t)

	_, err := snapshot.NewDeserializer(target, logging.NewNop()).DeserializeCollection(t.Context(), collectionPath)
	if !errors.Is(err, snapshot.ErrMalformedSnapshot) {
		t.Fatalf("expected ErrMalformedSnapshot, got %v", err)
	}
	if err == nil || !strings.Contains(err.Error(), "warcs.json") {
		t.Fatalf("error must name the missing file, got %v", err)
	}
	if got := testsupport.MustCounts(t, target); got != (records.Counts{}) {
		t.Fatalf("expected nothing applied, got %+v", got)
	}
}

func TestUndecodableFileIsFatalAndAppliesNothing(t *testing.T) {
	e := newEnv(t)
	collectionPath := e.export(t)
	broken := filepath.Join(snapshot.RecordsPath(collectionPath), "seeds.json")
	if err := os.WriteFile(broken, []byte(`[{"model":"ui.warc","fields":{}}]`), 0o644); err != nil {
		t.Fatal(err)
	}
	target := emptyStore(t)

	_, err := snapshot.NewDeserializer(target, logging.NewNop()).DeserializeCollection(t.Context(), collectionPath)
	if !errors.Is(err, snapshot.ErrMalformedSnapshot) {
		t.Fatalf("expected ErrMalformedSnapshot, got %v", err)
	}
	if got := testsupport.MustCounts(t, target); got != (records.Counts{}) {
		t.Fatalf("expected nothing applied, got %+v", got)
	}
}

func TestCredentialHistoryOnlyForNewCredentials(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()
	collectionPath := e.export(t)
	target := emptyStore(t)

	for _, user := range e.fx.Users {
		if _, err := target.CreateUser(ctx, user.Username, user.Email); err != nil {
			t.Fatalf("CreateUser failed: %v", err)
		}
	}
	existing := *e.fx.Credentials[1]
	if err := target.InsertCredential(ctx, &existing); err != nil {
		t.Fatalf("InsertCredential failed: %v", err)
	}

	result, err := snapshot.NewDeserializer(target, logging.NewNop()).DeserializeCollection(ctx, collectionPath)
	if err != nil {
		t.Fatalf("DeserializeCollection failed: %v", err)
	}
	if result.Created["credentials.json"] != 1 || result.Existing["credentials.json"] != 1 {
		t.Fatalf("unexpected credential result %+v", result)
	}

	history, err := target.CredentialHistory(ctx, e.fx.Credentials[1].CredentialID)
	if err != nil {
		t.Fatalf("CredentialHistory failed: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("history attached to pre-existing credential: %d rows", len(history))
	}
	history, err = target.CredentialHistory(ctx, e.fx.Credentials[0].CredentialID)
	if err != nil {
		t.Fatalf("CredentialHistory failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 versions for new credential, got %d", len(history))
	}
	if got := testsupport.MustCounts(t, target).Users; got != 2 {
		t.Fatalf("users duplicated: %d", got)
	}
}

func TestCollectionSetRoundTrip(t *testing.T) {
	e := newEnv(t)
	ctx := t.Context()
	e.fx.AddCollection(t, e.store, "Second collection")

	result, err := e.ser.SerializeCollectionSet(ctx, e.fx.CollectionSet)
	if err != nil {
		t.Fatalf("SerializeCollectionSet failed: %v", err)
	}
	if result.Collections != 2 {
		t.Fatalf("expected 2 collections serialized, got %d", result.Collections)
	}
	setPath := snapshot.CollectionSetPath(e.cfg.Paths.DataDir, e.fx.CollectionSet.CollectionSetID)
	if err := os.MkdirAll(filepath.Join(setPath, "not-a-collection"), 0o755); err != nil {
		t.Fatal(err)
	}

	target := emptyStore(t)
	imported, err := snapshot.NewDeserializer(target, logging.NewNop()).DeserializeCollectionSet(ctx, setPath)
	if err != nil {
		t.Fatalf("DeserializeCollectionSet failed: %v", err)
	}
	if imported.Collections != 2 {
		t.Fatalf("expected 2 collections imported, got %+v", imported)
	}
	if got, want := testsupport.MustCounts(t, target), testsupport.MustCounts(t, e.store); got != want {
		t.Fatalf("counts = %+v, want %+v", got, want)
	}
}
