//go:build !cgo

package database

const sqliteAvailable = false
