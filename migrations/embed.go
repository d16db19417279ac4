// Package migrations holds the versioned PostgreSQL schema of the sync engine.
// Files follow the golang-migrate naming scheme {version}_{name}.{up|down}.sql.
package migrations

import "embed"

// FS contains every migration file, compiled into the binary
//
//go:embed *.sql
var FS embed.FS
