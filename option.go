package bonddb

import "github.com/pkg/errors"

// An Option configures a DB.
type Option func(*DB) error

// OptCapacity sets the number of slots (1..255).
func OptCapacity(n int) Option {
	return func(db *DB) error {
		if n <= 0 || n > maxCapacity {
			return errors.Errorf("invalid capacity %d", n)
		}
		db.capacity = n
		return nil
	}
}

// OptOffset sets the storage offset of the table.
func OptOffset(off int64) Option {
	return func(db *DB) error {
		if off < 0 {
			return errors.Errorf("invalid offset %d", off)
		}
		db.offset = off
		return nil
	}
}

// OptYield sets the hook called while waiting on a flash erase, typically the
// radio scheduler of the surrounding event loop.
func OptYield(fn func()) Option {
	return func(db *DB) error {
		db.yield = fn
		return nil
	}
}

// OptPollLimit sets how many busy polls an erase may take before ErrStorageTimeout.
func OptPollLimit(n int) Option {
	return func(db *DB) error {
		if n <= 0 {
			return errors.Errorf("invalid poll limit %d", n)
		}
		db.pollLimit = n
		return nil
	}
}

// OptLogger overrides the logger.
func OptLogger(l Logger) Option {
	return func(db *DB) error {
		db.log = l
		return nil
	}
}
