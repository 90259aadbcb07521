// Package db provides the embedded migrations and seed data.
package db

import "embed"

// Migrations holds the goose migrations under migrations/.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// SeedProducts is the demo catalog used by seed-db.
//
//go:embed seed/products.json
var SeedProducts []byte
