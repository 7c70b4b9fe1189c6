package migrations

import "embed"

// FS contains the embedded Postgres schema for rubata storage.
//
//go:embed *.sql
var FS embed.FS
