// Package db provides embedded database migrations and seed data.
package db

import "embed"

// Migrations holds the golang-migrate up/down files for all application tables.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory inside Migrations that holds the SQL files.
const MigrationsDir = "migrations"

// SeedCatalog is the demo catalog loaded by cmd/seed-db when no file is given.
//
//go:embed seed/catalog.json
var SeedCatalog []byte
