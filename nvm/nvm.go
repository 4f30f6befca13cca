// Package nvm defines the non-volatile storage port the bond database persists to,
// along with in-memory serial flash and EEPROM media.
package nvm

import (
	"io"

	"github.com/pkg/errors"
)

// Storage is a byte addressed non-volatile medium.
type Storage interface {
	io.ReaderAt
	io.WriterAt
}

// Eraser is implemented by media that must be erased before they are written,
// e.g. serial NOR flash. EraseSector starts an erase and returns without waiting;
// Busy reports whether it is still in progress.
type Eraser interface {
	SectorSize() int
	EraseSector(off int64) error
	Busy() (bool, error)
}

// Session is implemented by media that need to be powered up (or locked) around
// a sequence of accesses.
type Session interface {
	Acquire() error
	Release() error
}

var (
	ErrOutOfRange  = errors.New("nvm: access out of range")
	ErrBusy        = errors.New("nvm: device busy")
	ErrPoweredDown = errors.New("nvm: device powered down")
	ErrUnaligned   = errors.New("nvm: erase offset not sector aligned")
)

// SectorSpan returns the sector aligned start offset and the number of sectors
// covering [off, off+size).
func SectorSpan(off, size int64, sectorSize int) (start int64, count int) {
	if sectorSize <= 0 || size <= 0 {
		return off, 0
	}
	ss := int64(sectorSize)
	start = (off / ss) * ss
	end := off + size
	n := (end - start) / ss
	if (end-start)%ss != 0 {
		n++
	}
	return start, int(n)
}

// readAt implements io.ReaderAt semantics over a plain byte slice.
func readAt(data, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, ErrOutOfRange
	}
	if off >= int64(len(data)) {
		return 0, io.EOF
	}
	n := copy(p, data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func checkRange(size int, p []byte, off int64) error {
	if off < 0 || off+int64(len(p)) > int64(size) {
		return errors.Wrapf(ErrOutOfRange, "offset 0x%x len %d size %d", off, len(p), size)
	}
	return nil
}
