// Package bonddb caches BLE bonding credentials in a fixed size slot table kept in
// external non-volatile memory (serial flash or EEPROM).
//
// The table is loaded once with Init and rewritten in full after every change.
// A DB does no locking of its own; callers serialize access.
package bonddb

import (
	"io"

	"github.com/pkg/errors"
	"github.com/rigado/bonddb/nvm"
)

const (
	DefaultCapacity = 5
	// DefaultOffset is where the table lives on a flash part.
	DefaultOffset = 0x1e000
	// DefaultEEPROMOffset is where the table lives on an EEPROM part.
	DefaultEEPROMOffset = 0x8000
	// DefaultPollLimit bounds the busy polls spent on one sector erase.
	DefaultPollLimit = 50000

	maxCapacity = 255
)

// ErrStorageTimeout means the storage stayed busy after an erase for longer than
// the poll limit. It is not retried; an unresponsive part is treated as broken.
var ErrStorageTimeout = errors.New("bonddb: storage erase timed out")

// DB is the bond database.
type DB struct {
	st        nvm.Storage
	capacity  int
	offset    int64
	yield     func()
	pollLimit int
	log       Logger

	t   *table
	buf []byte
}

// New returns an empty database over st. Call Init before use.
func New(st nvm.Storage, opts ...Option) (*DB, error) {
	if st == nil {
		return nil, errors.New("nil storage")
	}

	db := &DB{
		st:        st,
		capacity:  DefaultCapacity,
		offset:    DefaultOffset,
		pollLimit: DefaultPollLimit,
	}
	if _, ok := st.(nvm.Eraser); !ok {
		db.offset = DefaultEEPROMOffset
	}

	for _, opt := range opts {
		if err := opt(db); err != nil {
			return nil, err
		}
	}

	if db.log == nil {
		db.log = ModuleLogger("bonddb")
	}
	db.t = newTable(db.capacity)
	db.buf = make([]byte, TableSize(db.capacity))

	return db, nil
}

// Capacity is the number of slots in the table.
func (db *DB) Capacity() int {
	return db.capacity
}

// Size is the number of bytes the table occupies on the storage.
func (db *DB) Size() int {
	return len(db.buf)
}

// Offset is the storage offset of the table.
func (db *DB) Offset() int64 {
	return db.offset
}

// Init loads the table from storage. A table with bad header words (blank part,
// a different layout version, an interrupted write) is cleared and written back;
// that is not reported as an error.
func (db *DB) Init() error {
	ok, err := db.load()
	if err != nil {
		return err
	}

	if !ok {
		db.log.Warn("bond table missing or corrupt, clearing")
		db.t.reset()
		return db.Persist(false)
	}

	db.log.Debugf("bond table loaded, %d/%d slots in use", db.t.occupied(), db.capacity)
	return nil
}

func (db *DB) load() (bool, error) {
	if err := db.acquire(); err != nil {
		return false, err
	}
	defer db.release()

	n, err := db.st.ReadAt(db.buf, db.offset)
	if err != nil && err != io.EOF {
		return false, errors.Wrap(err, "can't read bond table")
	}
	if n < len(db.buf) {
		return false, nil
	}

	return db.t.decode(db.buf), nil
}

// Persist writes the whole table to storage. On media that need an erase, each
// covered sector is erased first and its busy flag polled; with yield set the
// Yield hook runs between polls so the caller's scheduler keeps going.
func (db *DB) Persist(yield bool) error {
	db.t.encode(db.buf)

	if err := db.acquire(); err != nil {
		return err
	}
	defer db.release()

	if e, ok := db.st.(nvm.Eraser); ok {
		if err := db.erase(e, yield); err != nil {
			return err
		}
	}

	n, err := db.st.WriteAt(db.buf, db.offset)
	if err != nil {
		return errors.Wrap(err, "can't write bond table")
	}
	if n != len(db.buf) {
		return errors.Errorf("short bond table write %d/%d", n, len(db.buf))
	}

	return nil
}

func (db *DB) erase(e nvm.Eraser, yield bool) error {
	ss := e.SectorSize()
	start, count := nvm.SectorSpan(db.offset, int64(len(db.buf)), ss)

	for i := 0; i < count; i++ {
		off := start + int64(i*ss)
		if err := e.EraseSector(off); err != nil {
			return errors.Wrapf(err, "can't erase sector 0x%x", off)
		}
		if err := db.waitIdle(e, off, yield); err != nil {
			return err
		}
	}

	return nil
}

func (db *DB) waitIdle(e nvm.Eraser, off int64, yield bool) error {
	for polls := 0; ; polls++ {
		busy, err := e.Busy()
		if err != nil {
			return errors.Wrap(err, "can't read storage status")
		}
		if !busy {
			return nil
		}
		if polls >= db.pollLimit {
			db.log.Errorf("sector 0x%x still busy after %d polls", off, polls)
			return errors.Wrapf(ErrStorageTimeout, "sector 0x%x", off)
		}
		if yield && db.yield != nil {
			db.yield()
		}
	}
}

func (db *DB) acquire() error {
	if s, ok := db.st.(nvm.Session); ok {
		return errors.Wrap(s.Acquire(), "can't acquire storage")
	}
	return nil
}

func (db *DB) release() {
	if s, ok := db.st.(nvm.Session); ok {
		if err := s.Release(); err != nil {
			db.log.Warnf("can't release storage: %v", err)
		}
	}
}
