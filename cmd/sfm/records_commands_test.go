package main

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"sfm/internal/records"
	"sfm/internal/snapshot"
	"sfm/internal/testsupport"
)

func TestExportThenImportIntoSecondStore(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	fx := testsupport.NewFixture(t, store)
	want := testsupport.MustCounts(t, store)

	out, _, err := runCLI(t, []string{"export", "collection", fx.Collection.CollectionID}, writeConfigFile(t, cfg))
	if err != nil {
		t.Fatalf("export collection: %v", err)
	}
	requireContains(t, out, "Exported 1 collection(s), 13 file(s)")

	target := testsupport.NewConfig(t)
	target.Paths.DataDir = cfg.Paths.DataDir
	targetConfig := writeConfigFile(t, target)
	setPath := snapshot.CollectionSetPath(cfg.Paths.DataDir, fx.CollectionSet.CollectionSetID)

	out, _, err = runCLI(t, []string{"import", "set", setPath, "--json"}, targetConfig)
	if err != nil {
		t.Fatalf("import set: %v", err)
	}
	var result snapshot.Result
	decodeJSON(t, out, &result)
	if result.Collections != 1 || result.SkippedCollections != 0 {
		t.Fatalf("unexpected import result %+v", result)
	}

	out, _, err = runCLI(t, []string{"import", "collection", filepath.Join(setPath, fx.Collection.CollectionID)}, targetConfig)
	if err != nil {
		t.Fatalf("import collection: %v", err)
	}
	requireContains(t, out, "skipped 1 existing collection(s)")

	targetStore := testsupport.MustOpenStore(t, target)
	if got := testsupport.MustCounts(t, targetStore); got != want {
		t.Fatalf("imported counts = %+v, want %+v", got, want)
	}
}

func TestExportSetAndUnknownIDs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	fx := testsupport.NewFixture(t, store)
	fx.AddCollection(t, store, "Another collection")
	configPath := writeConfigFile(t, cfg)

	out, _, err := runCLI(t, []string{"export", "set", fx.CollectionSet.CollectionSetID, "--json"}, configPath)
	if err != nil {
		t.Fatalf("export set: %v", err)
	}
	var result snapshot.Result
	decodeJSON(t, out, &result)
	if result.Collections != 2 || result.Files != 2*len(snapshot.Files) {
		t.Fatalf("unexpected export result %+v", result)
	}

	_, _, err = runCLI(t, []string{"export", "collection", "nope"}, configPath)
	if !errors.Is(err, records.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	_, _, err = runCLI(t, []string{"export", "set", "nope"}, configPath)
	if !errors.Is(err, records.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestImportMalformedSnapshotFails(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	configPath := writeConfigFile(t, cfg)
	dir := filepath.Join(t.TempDir(), "collection")
	if err := makeDir(filepath.Join(dir, snapshot.RecordsDir)); err != nil {
		t.Fatal(err)
	}

	_, _, err := runCLI(t, []string{"import", "collection", dir}, configPath)
	if !errors.Is(err, snapshot.ErrMalformedSnapshot) {
		t.Fatalf("expected malformed snapshot error, got %v", err)
	}
}

func TestCollectionsListing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	fx := testsupport.NewFixture(t, store)
	configPath := writeConfigFile(t, cfg)

	out, _, err := runCLI(t, []string{"collections"}, configPath)
	if err != nil {
		t.Fatalf("collections: %v", err)
	}
	requireContains(t, out, fx.Collection.CollectionID)
	requireContains(t, out, "Completed Success")

	out, _, err = runCLI(t, []string{"collections", "--json"}, configPath)
	if err != nil {
		t.Fatalf("collections --json: %v", err)
	}
	var views []collectionView
	decodeJSON(t, out, &views)
	if len(views) != 1 {
		t.Fatalf("expected one collection, got %d", len(views))
	}
	v := views[0]
	if v.Seeds != 2 || v.Harvests != 1 || v.LatestHarvest != fx.Harvest.HarvestID || v.LatestStatus != records.HarvestSuccess {
		t.Fatalf("unexpected view %+v", v)
	}
}

func TestCollectionsEmpty(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	out, _, err := runCLI(t, []string{"collections"}, writeConfigFile(t, cfg))
	if err != nil {
		t.Fatalf("collections: %v", err)
	}
	requireContains(t, out, "No collections")
}

func TestHarvestShow(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	fx := testsupport.NewFixture(t, store)
	configPath := writeConfigFile(t, cfg)

	out, _, err := runCLI(t, []string{"harvest", "show", fx.Harvest.HarvestID}, configPath)
	if err != nil {
		t.Fatalf("harvest show: %v", err)
	}
	requireContains(t, out, "Completed Success")
	requireContains(t, out, "tweet=10, user=2")
	requireContains(t, out, fx.Warcs[0].WarcID)

	out, _, err = runCLI(t, []string{"harvest", "show", fx.Harvest.HarvestID, "--json"}, configPath)
	if err != nil {
		t.Fatalf("harvest show --json: %v", err)
	}
	var view harvestView
	decodeJSON(t, out, &view)
	if view.WarcsBytes != 21 || len(view.Warcs) != 2 || view.DailyStats["2016-05-20"]["tweet"] != 10 {
		t.Fatalf("unexpected view %+v", view)
	}

	_, _, err = runCLI(t, []string{"harvest", "show", "missing"}, configPath)
	if err == nil || !strings.Contains(err.Error(), "missing") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestStatusLabel(t *testing.T) {
	cases := map[string]string{
		"":                        "-",
		"running":                 "Running",
		"completed with warnings": "Completed With Warnings",
	}
	for in, want := range cases {
		if got := statusLabel(in); got != want {
			t.Errorf("statusLabel(%q) = %q, want %q", in, got, want)
		}
	}
}
