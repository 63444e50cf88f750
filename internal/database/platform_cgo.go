//go:build cgo

package database

// The SQLite driver is a cgo binding.
const sqliteAvailable = true
