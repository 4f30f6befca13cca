package nvm

import (
	"github.com/pkg/errors"
	"github.com/rigado/bonddb/sliceops"
)

// DefaultSectorSize is the erase granularity of the serial flash parts the bond
// database is usually placed on.
const DefaultSectorSize = 4096

// Flash emulates a serial NOR flash: erased bytes read 0xFF, programming can only
// clear bits, and a sector erase keeps the device busy for a number of status polls.
type Flash struct {
	data       []byte
	sectorSize int

	latency  int
	busyLeft int
	stuck    bool
	powered  bool

	// counters, useful to check how often the medium was touched
	Erases int
	Writes int
}

// NewFlash returns an erased flash of size bytes.
func NewFlash(size, sectorSize int) *Flash {
	if sectorSize <= 0 {
		sectorSize = DefaultSectorSize
	}
	f := &Flash{
		data:       make([]byte, size),
		sectorSize: sectorSize,
		latency:    3,
	}
	sliceops.Fill(f.data, 0xff)
	return f
}

// SetEraseLatency sets how many Busy polls an erase lasts.
func (f *Flash) SetEraseLatency(polls int) {
	f.latency = polls
}

// SetStuck makes the device report busy forever, as a failed erase would.
// Erases are still accepted.
func (f *Flash) SetStuck(stuck bool) {
	f.stuck = stuck
}

// Bytes returns a copy of the flash contents.
func (f *Flash) Bytes() []byte {
	out := make([]byte, len(f.data))
	copy(out, f.data)
	return out
}

func (f *Flash) Size() int {
	return len(f.data)
}

func (f *Flash) Acquire() error {
	f.powered = true
	return nil
}

func (f *Flash) Release() error {
	f.powered = false
	return nil
}

func (f *Flash) SectorSize() int {
	return f.sectorSize
}

func (f *Flash) ReadAt(p []byte, off int64) (int, error) {
	if !f.powered {
		return 0, ErrPoweredDown
	}
	return readAt(f.data, p, off)
}

func (f *Flash) WriteAt(p []byte, off int64) (int, error) {
	if !f.powered {
		return 0, ErrPoweredDown
	}
	if f.stuck || f.busyLeft > 0 {
		return 0, ErrBusy
	}
	if err := checkRange(len(f.data), p, off); err != nil {
		return 0, err
	}
	for i, b := range p {
		f.data[off+int64(i)] &= b
	}
	f.Writes++
	return len(p), nil
}

func (f *Flash) EraseSector(off int64) error {
	if !f.powered {
		return ErrPoweredDown
	}
	if f.busyLeft > 0 {
		return ErrBusy
	}
	if off%int64(f.sectorSize) != 0 {
		return errors.Wrapf(ErrUnaligned, "offset 0x%x", off)
	}
	end := off + int64(f.sectorSize)
	if off < 0 || end > int64(len(f.data)) {
		return errors.Wrapf(ErrOutOfRange, "sector 0x%x", off)
	}
	sliceops.Fill(f.data[off:end], 0xff)
	f.busyLeft = f.latency
	f.Erases++
	return nil
}

func (f *Flash) Busy() (bool, error) {
	if !f.powered {
		return false, ErrPoweredDown
	}
	busy := f.busyLeft > 0
	if busy {
		f.busyLeft--
	}
	return busy || f.stuck, nil
}
