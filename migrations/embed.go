package migrations

import "embed"

// PostgresFS embeds the PostgreSQL schema migrations.
//
//go:embed postgres/*.sql
var PostgresFS embed.FS
