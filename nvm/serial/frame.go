package serial

import (
	"encoding/binary"
	"io"
	"io/ioutil"
	"time"

	"github.com/pkg/errors"
)

const (
	requestStart  = 0xa5
	responseStart = 0x5a

	requestHeaderLength  = 8
	responseHeaderLength = 4

	// MaxChunk is the largest payload carried by one frame.
	MaxChunk = 256
)

const (
	opRead      = 0x01
	opWrite     = 0x02
	opErase     = 0x03
	opStatus    = 0x04
	opPowerUp   = 0x05
	opPowerDown = 0x06
)

const (
	statusOK   = 0x00
	statusErr  = 0x01
	statusBusy = 0x02
)

var ErrTimeout = errors.New("serial: timed out waiting for the agent")

// request is [0xa5][op][offset u32][length u16][payload], little endian. The
// payload is only sent for writes; for reads length is the number of bytes wanted.
type request struct {
	op      byte
	off     uint32
	length  uint16
	payload []byte
}

// response is [0x5a][status][length u16][payload].
type response struct {
	status  byte
	payload []byte
}

func (r *request) encode() []byte {
	b := make([]byte, requestHeaderLength, requestHeaderLength+len(r.payload))
	b[0] = requestStart
	b[1] = r.op
	binary.LittleEndian.PutUint32(b[2:], r.off)
	binary.LittleEndian.PutUint16(b[6:], r.length)
	return append(b, r.payload...)
}

func (r *response) encode() []byte {
	b := make([]byte, responseHeaderLength, responseHeaderLength+len(r.payload))
	b[0] = responseStart
	b[1] = r.status
	binary.LittleEndian.PutUint16(b[2:], uint16(len(r.payload)))
	return append(b, r.payload...)
}

// reader pulls frames off a byte stream. A serial port opened without a
// minimum read size returns empty reads, or (0, io.EOF) from an *os.File, while
// the line is idle; with a deadline set those count against it. Without one
// EOF ends the stream.
type reader struct {
	r       io.Reader
	timeout time.Duration
	one     [1]byte
}

func (fr *reader) readFull(b []byte, deadline time.Time) error {
	for n := 0; n < len(b); {
		m, err := fr.r.Read(b[n:])
		n += m
		if m == 0 && err == io.EOF && !deadline.IsZero() {
			err = nil
		}
		if err != nil {
			if err == io.EOF && n > 0 {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		if m == 0 && !deadline.IsZero() && time.Now().After(deadline) {
			return ErrTimeout
		}
	}
	return nil
}

// waitStart discards bytes until start is seen.
func (fr *reader) waitStart(start byte, deadline time.Time) error {
	for {
		if err := fr.readFull(fr.one[:], deadline); err != nil {
			return err
		}
		if fr.one[0] == start {
			return nil
		}
	}
}

func (fr *reader) deadline() time.Time {
	if fr.timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(fr.timeout)
}

func (fr *reader) readRequest() (*request, error) {
	// the agent waits indefinitely for the next request
	var dl time.Time
	if err := fr.waitStart(requestStart, dl); err != nil {
		return nil, err
	}

	h := make([]byte, requestHeaderLength-1)
	if err := fr.readFull(h, dl); err != nil {
		return nil, err
	}

	req := &request{
		op:     h[0],
		off:    binary.LittleEndian.Uint32(h[1:]),
		length: binary.LittleEndian.Uint16(h[5:]),
	}
	if req.length > MaxChunk {
		if req.op == opWrite {
			// drop the payload so it is not parsed as frames
			if _, err := io.CopyN(ioutil.Discard, fr.r, int64(req.length)); err != nil {
				return nil, err
			}
		}
		return req, errors.Errorf("frame length %d exceeds %d", req.length, MaxChunk)
	}
	if req.op == opWrite {
		req.payload = make([]byte, req.length)
		if err := fr.readFull(req.payload, dl); err != nil {
			return nil, err
		}
	}
	return req, nil
}

func (fr *reader) readResponse() (*response, error) {
	dl := fr.deadline()
	if err := fr.waitStart(responseStart, dl); err != nil {
		return nil, err
	}

	h := make([]byte, responseHeaderLength-1)
	if err := fr.readFull(h, dl); err != nil {
		return nil, err
	}

	l := binary.LittleEndian.Uint16(h[1:])
	if l > MaxChunk {
		return nil, errors.Errorf("response length %d exceeds %d", l, MaxChunk)
	}

	rsp := &response{status: h[0], payload: make([]byte, l)}
	if err := fr.readFull(rsp.payload, dl); err != nil {
		return nil, err
	}
	return rsp, nil
}
