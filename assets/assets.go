// Package assets embeds the database schema migrations.
package assets

import "embed"

// SQLiteMigrationDir is the path of the sqlite migration scripts inside
// EmbedMigrations.
const SQLiteMigrationDir = "migrations/sqlite"

//go:embed migrations/*
var EmbedMigrations embed.FS
