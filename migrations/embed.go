// Package migrations embeds the fsanet schema so that the binary can
// migrate its inventory database without SQL files on disk.
package migrations

import "embed"

// FS holds every migration file at its root; pass "." as the directory to
// database.DB.Migrate.
//
//go:embed *.sql
var FS embed.FS
