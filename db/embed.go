// Package db provides the embedded database schema.
package db

import _ "embed"

// Schema contains the DDL statements for all storefront tables, including
// the CHECK constraints that back the stock accounting invariants.
//
//go:embed migrations/001_schema.sql
var Schema string
