package migrations

import "embed"

// FS contains the embedded schema for the sqlite entry store.
//
//go:embed *.sql
var FS embed.FS
