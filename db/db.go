package db

import "embed"

//go:embed migrations-datastore/*.sql
var DatastoreMigrationFS embed.FS
