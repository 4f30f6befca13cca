package nvm

import "github.com/rigado/bonddb/sliceops"

// EEPROM emulates an I2C EEPROM: byte writable, no erase needed.
type EEPROM struct {
	data    []byte
	powered bool

	Writes int
}

// NewEEPROM returns a blank EEPROM of size bytes.
func NewEEPROM(size int) *EEPROM {
	e := &EEPROM{data: make([]byte, size)}
	sliceops.Fill(e.data, 0xff)
	return e
}

func (e *EEPROM) Bytes() []byte {
	out := make([]byte, len(e.data))
	copy(out, e.data)
	return out
}

func (e *EEPROM) Acquire() error {
	e.powered = true
	return nil
}

func (e *EEPROM) Release() error {
	e.powered = false
	return nil
}

func (e *EEPROM) ReadAt(p []byte, off int64) (int, error) {
	if !e.powered {
		return 0, ErrPoweredDown
	}
	return readAt(e.data, p, off)
}

func (e *EEPROM) WriteAt(p []byte, off int64) (int, error) {
	if !e.powered {
		return 0, ErrPoweredDown
	}
	if err := checkRange(len(e.data), p, off); err != nil {
		return 0, err
	}
	copy(e.data[off:], p)
	e.Writes++
	return len(p), nil
}
