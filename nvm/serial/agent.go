package serial

import (
	"io"

	"github.com/pkg/errors"
	"github.com/rigado/bonddb"
	"github.com/rigado/bonddb/nvm"
)

// Agent answers Port requests against a local medium. Erase, status and power
// requests are passed on when the medium implements nvm.Eraser or nvm.Session
// and acknowledged otherwise.
type Agent struct {
	st  nvm.Storage
	log bonddb.Logger
}

func NewAgent(st nvm.Storage) *Agent {
	return &Agent{st: st, log: bonddb.ModuleLogger("nvm/serial-agent")}
}

// Serve handles requests from rw until it is closed.
func (a *Agent) Serve(rw io.ReadWriter) error {
	fr := &reader{r: rw}
	for {
		req, err := fr.readRequest()
		switch {
		case err == io.EOF || err == io.ErrClosedPipe:
			return nil
		case req == nil && err != nil:
			return errors.Wrap(err, "can't read request")
		}

		var rsp *response
		if err != nil {
			rsp = fail(err)
		} else {
			rsp = a.handle(req)
		}

		if _, err := rw.Write(rsp.encode()); err != nil {
			if err == io.ErrClosedPipe {
				return nil
			}
			return errors.Wrap(err, "can't send response")
		}
	}
}

func fail(err error) *response {
	if errors.Cause(err) == nvm.ErrBusy {
		return &response{status: statusBusy}
	}
	msg := []byte(err.Error())
	if len(msg) > MaxChunk {
		msg = msg[:MaxChunk]
	}
	return &response{status: statusErr, payload: msg}
}

func (a *Agent) handle(req *request) *response {
	off := int64(req.off)
	a.log.Debugf("op 0x%02x off 0x%x len %d", req.op, off, req.length)

	switch req.op {
	case opRead:
		b := make([]byte, req.length)
		if _, err := a.st.ReadAt(b, off); err != nil {
			return fail(err)
		}
		return &response{status: statusOK, payload: b}

	case opWrite:
		if _, err := a.st.WriteAt(req.payload, off); err != nil {
			return fail(err)
		}

	case opErase:
		e, ok := a.st.(nvm.Eraser)
		if !ok {
			return fail(errors.New("medium has no erase"))
		}
		if err := e.EraseSector(off); err != nil {
			return fail(err)
		}

	case opStatus:
		busy := false
		if e, ok := a.st.(nvm.Eraser); ok {
			var err error
			if busy, err = e.Busy(); err != nil {
				return fail(err)
			}
		}
		if busy {
			return &response{status: statusOK, payload: []byte{1}}
		}
		return &response{status: statusOK, payload: []byte{0}}

	case opPowerUp, opPowerDown:
		s, ok := a.st.(nvm.Session)
		if !ok {
			break
		}
		var err error
		if req.op == opPowerUp {
			err = s.Acquire()
		} else {
			err = s.Release()
		}
		if err != nil {
			return fail(err)
		}

	default:
		return fail(errors.Errorf("unknown op 0x%02x", req.op))
	}

	return &response{status: statusOK}
}
