// Package stores provides the run journal: a SQLite database (modernc, no
// cgo) recording every manifest, cookbook and patch run with one row per
// step. The schema is applied with golang-migrate from embedded migrations.
package stores
