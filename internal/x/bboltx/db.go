package bboltx

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/dogmatiq/linger"
	"go.etcd.io/bbolt"
)

// Open creates and opens a database at the given path, creating its parent
// directory if necessary.
//
// If mode is zero, 0600 is used.
//
// BoltDB holds an exclusive file lock while the database is open. If the
// deadline from ctx is sooner than opts.Timeout, the context deadline is used
// as the time to wait for that lock instead.
func Open(
	ctx context.Context,
	path string,
	mode os.FileMode,
	opts *bbolt.Options,
) (*bbolt.DB, error) {
	if mode == 0 {
		mode = 0600
	}

	// A non-positive timeout in the BoltDB options means "wait forever", so
	// an ended context must be caught here.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if timeout, ok := linger.FromContextDeadline(ctx); ok {
		clone := *bbolt.DefaultOptions
		if opts != nil {
			clone = *opts
		}

		if clone.Timeout == 0 || clone.Timeout > timeout {
			clone.Timeout = timeout
		}

		opts = &clone
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}

	db, err := bbolt.Open(path, mode, opts)
	if errors.Is(err, bbolt.ErrTimeout) {
		err = context.DeadlineExceeded
	}

	return db, err
}
