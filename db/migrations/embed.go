// Package dbmigrations exposes embedded SQL migrations for orderingest binaries.
package dbmigrations

import "embed"

// Files contains the embedded SQL migrations bundled into orderingest binaries.
//
//go:embed *.sql
var Files embed.FS
