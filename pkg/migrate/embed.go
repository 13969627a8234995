package migrate

import "embed"

// Migrations bundles the SQL files so binaries can migrate without the source tree.
//
//go:embed migrations/*.sql
var Migrations embed.FS

const embeddedDir = "migrations"
