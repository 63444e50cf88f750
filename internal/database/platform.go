package database

// Available reports whether the SQLite local store can run in this build.
// Builds without cgo cannot load the driver; store constructors return
// tally.ErrPlatformUnsupported there.
func Available() bool {
	return sqliteAvailable
}
