// Package serial reaches a bond image held by a target over a UART. The host
// side is Port, which implements the nvm storage interfaces; the target side is
// Agent, which serves the same frames against any nvm.Storage.
package serial

import (
	"io"
	"sync"
	"time"

	jserial "github.com/jacobsa/go-serial/serial"
	"github.com/pkg/errors"
	"github.com/rigado/bonddb"
	"github.com/rigado/bonddb/nvm"
)

const DefaultTimeout = 2 * time.Second

// Port is a storage medium on the far side of a serial link.
type Port struct {
	rw  io.ReadWriteCloser
	fr  *reader
	mu  sync.Mutex
	log bonddb.Logger
}

// FlashPort is a Port whose part needs sector erases.
type FlashPort struct {
	*Port
	sectorSize int
}

// Open opens the serial device at path.
func Open(path string, baud uint) (*Port, error) {
	opts := jserial.OpenOptions{
		PortName:        path,
		BaudRate:        baud,
		DataBits:        8,
		StopBits:        1,
		ParityMode:      jserial.PARITY_NONE,
		MinimumReadSize: 0,
		// 1/10ths of a second
		InterCharacterTimeout: 100,
	}

	sp, err := jserial.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "can't open %v", path)
	}
	return New(sp), nil
}

// OpenFlash opens the serial device at path for a part erased in sectorSize units.
func OpenFlash(path string, baud uint, sectorSize int) (*FlashPort, error) {
	if sectorSize <= 0 {
		return nil, errors.Errorf("invalid sector size %d", sectorSize)
	}
	p, err := Open(path, baud)
	if err != nil {
		return nil, err
	}
	return &FlashPort{Port: p, sectorSize: sectorSize}, nil
}

// New wraps an already open link.
func New(rw io.ReadWriteCloser) *Port {
	return &Port{
		rw:  rw,
		fr:  &reader{r: rw, timeout: DefaultTimeout},
		log: bonddb.ModuleLogger("nvm/serial"),
	}
}

func NewFlash(rw io.ReadWriteCloser, sectorSize int) *FlashPort {
	return &FlashPort{Port: New(rw), sectorSize: sectorSize}
}

// SetTimeout bounds how long a single response may take.
func (p *Port) SetTimeout(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fr.timeout = d
}

func (p *Port) Close() error {
	return p.rw.Close()
}

// transact sends one request and waits for its response.
func (p *Port) transact(req *request) (*response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.rw.Write(req.encode()); err != nil {
		return nil, errors.Wrap(err, "can't send request")
	}

	rsp, err := p.fr.readResponse()
	if err != nil {
		return nil, errors.Wrapf(err, "op 0x%02x at 0x%x", req.op, req.off)
	}

	switch rsp.status {
	case statusOK:
		return rsp, nil
	case statusBusy:
		return nil, nvm.ErrBusy
	default:
		return nil, errors.Errorf("agent: %s", rsp.payload)
	}
}

func (p *Port) ReadAt(b []byte, off int64) (int, error) {
	if off < 0 {
		return 0, nvm.ErrOutOfRange
	}

	n := 0
	for n < len(b) {
		l := len(b) - n
		if l > MaxChunk {
			l = MaxChunk
		}

		rsp, err := p.transact(&request{op: opRead, off: uint32(off) + uint32(n), length: uint16(l)})
		if err != nil {
			return n, err
		}
		if len(rsp.payload) != l {
			return n, errors.Errorf("short read, wanted %d got %d", l, len(rsp.payload))
		}
		n += copy(b[n:], rsp.payload)
	}

	p.log.Debugf("read %d bytes at 0x%x", n, off)
	return n, nil
}

func (p *Port) WriteAt(b []byte, off int64) (int, error) {
	if off < 0 {
		return 0, nvm.ErrOutOfRange
	}

	n := 0
	for n < len(b) {
		l := len(b) - n
		if l > MaxChunk {
			l = MaxChunk
		}

		req := &request{op: opWrite, off: uint32(off) + uint32(n), length: uint16(l), payload: b[n : n+l]}
		if _, err := p.transact(req); err != nil {
			return n, err
		}
		n += l
	}

	p.log.Debugf("wrote %d bytes at 0x%x", n, off)
	return n, nil
}

func (p *FlashPort) SectorSize() int {
	return p.sectorSize
}

// EraseSector starts an erase on the target; poll Busy for completion.
func (p *FlashPort) EraseSector(off int64) error {
	if p.sectorSize <= 0 || off%int64(p.sectorSize) != 0 {
		return nvm.ErrUnaligned
	}
	_, err := p.transact(&request{op: opErase, off: uint32(off)})
	return err
}

func (p *FlashPort) Busy() (bool, error) {
	rsp, err := p.transact(&request{op: opStatus})
	if err != nil {
		return false, err
	}
	return len(rsp.payload) > 0 && rsp.payload[0] != 0, nil
}

// Acquire powers the part up.
func (p *Port) Acquire() error {
	_, err := p.transact(&request{op: opPowerUp})
	return err
}

// Release powers the part down.
func (p *Port) Release() error {
	_, err := p.transact(&request{op: opPowerDown})
	return err
}
