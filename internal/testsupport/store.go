package testsupport

import (
	"testing"

	"sfm/internal/config"
	"sfm/internal/records"
)

// MustOpenStore opens a records.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *records.Store {
	t.Helper()

	store, err := records.Open(cfg)
	if err != nil {
		t.Fatalf("records.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustCounts returns the row counts of every record table.
func MustCounts(t testing.TB, store *records.Store) records.Counts {
	t.Helper()

	counts, err := store.Counts(t.Context())
	if err != nil {
		t.Fatalf("store.Counts: %v", err)
	}
	return counts
}
