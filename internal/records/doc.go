// Package records persists collection, seed, harvest, and WARC records in
// SQLite and exposes the lookup, create, update, and history operations the
// consumer and snapshot packages depend on.
//
// Collection sets, credentials, collections, and seeds are historized: every
// Create*, Save*, and Delete* call writes the head row and appends one row to
// the matching historical_* table inside a single transaction. History rows are
// keyed by (natural id, history_date), strictly ordered per entity, and never
// updated or deleted. Insert* methods are the import path: they write rows
// verbatim, including history rows, without deriving new history.
//
// Cross-table references use natural keys (group name, username, generated
// ids) so rows can be moved between databases without translating surrogate
// ids. Lookups that miss return (nil, nil); inserts that reference a missing
// natural key fail with an error wrapping ErrNotFound.
package records
