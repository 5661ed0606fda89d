// Package db provides the embedded versioned schema migrations and the
// reference catalog.
package db

import "embed"

// Migrations holds the golang-migrate files under migrations/.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// Products is the reference catalog used by seed-db and the in-memory store.
//
//go:embed seed/products.json
var Products []byte
