//go:build !cgo_sqlite

package main

import _ "modernc.org/sqlite"

// sqliteDriver names the pure Go sqlite driver used by default builds.
const sqliteDriver = "sqlite"
