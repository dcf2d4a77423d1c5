// Package snapshot exports a collection's record subtree to a directory of
// JSON files and imports such a directory back into a record store.
//
// A snapshot lives in <collection-path>/records and holds one file per record
// type. Each file is an indented JSON array of {"model", "fields"} records
// whose references to other records are natural keys (group name, username,
// generated ids, and (id, history_date) pairs for historical versions), so a
// snapshot can be imported into a store whose surrogate ids differ.
//
// Import is idempotent: a collection that already exists is skipped as a
// whole, and shared records (groups, users, collection sets, credentials) are
// only created when absent. Neither direction is transactional across files;
// callers must not run an export and an import of the same path concurrently.
package snapshot
