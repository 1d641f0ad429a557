// Package boltdbtest provides BoltDB databases for use in tests.
package boltdbtest

import (
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

// TempFile returns the path of a database file that does not exist yet. The
// file is placed in a new temporary directory.
//
// It returns a function that removes the directory. It is safe to call more
// than once.
func TempFile() (string, func()) {
	dir, err := os.MkdirTemp("", "ledger-boltdb-")
	if err != nil {
		panic(err)
	}

	return filepath.Join(dir, "ledger.boltdb"), func() {
		os.RemoveAll(dir) // nolint:errcheck
	}
}

// Open opens a database in a temporary file.
//
// The returned function closes the database and removes the file. It must be
// used instead of DB.Close().
func Open() (*bbolt.DB, func()) {
	path, remove := TempFile()

	db, err := bbolt.Open(
		path,
		0600,
		&bbolt.Options{
			Timeout:        time.Second,
			NoFreelistSync: true,
		},
	)
	if err != nil {
		remove()
		panic(err)
	}

	return db, func() {
		db.Close() // nolint:errcheck
		remove()
	}
}
