package snapshot

// Result tallies what an export or import touched.
type Result struct {
	// Collections counts collections written or imported.
	Collections int
	// SkippedCollections counts collections an import left alone because they
	// already existed.
	SkippedCollections int
	// Files counts snapshot files written or read.
	Files int
	// Created counts records written (export) or created (import) per file.
	Created map[string]int
	// Existing counts records an import skipped because they were present.
	Existing map[string]int
}

func newResult() Result {
	return Result{Created: map[string]int{}, Existing: map[string]int{}}
}

func (r *Result) created(file string, n int) {
	r.Created[file] += n
}

func (r *Result) existing(file string, n int) {
	r.Existing[file] += n
}

func (r *Result) add(other Result) {
	r.Collections += other.Collections
	r.SkippedCollections += other.SkippedCollections
	r.Files += other.Files
	for file, n := range other.Created {
		r.Created[file] += n
	}
	for file, n := range other.Existing {
		r.Existing[file] += n
	}
}

// Total returns the number of records created across all files.
func (r Result) Total() int {
	total := 0
	for _, n := range r.Created {
		total += n
	}
	return total
}
