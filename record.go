package bonddb

import "encoding/binary"

// KeyFlags marks which keys of a Record are present.
type KeyFlags uint8

const (
	KeyLTK KeyFlags = 1 << iota
	KeyRemoteLTK
	KeyRemoteIRK
	KeyLocalCSRK
	KeyRemoteCSRK
)

func (f KeyFlags) Has(k KeyFlags) bool {
	return f&k == k
}

// AuthLevel is the GAP authentication requirement reached by the pairing.
type AuthLevel uint8

const (
	AuthBond      AuthLevel = 0x01
	AuthMITM      AuthLevel = 0x04
	AuthSecure    AuthLevel = 0x08
	AuthKeySize16 AuthLevel = 0x10
)

func (a AuthLevel) Has(l AuthLevel) bool {
	return a&l == l
}

// LTK is a long term key with the values used to look it up during encryption.
type LTK struct {
	Key     [16]byte
	Rand    [8]byte
	EDIV    uint16
	KeySize uint8
}

// IRK is a peer identity resolving key and the identity address it belongs to.
type IRK struct {
	Key      [16]byte
	Identity Address
}

// Record holds everything cached for one bonded peer. Keys are opaque to the
// database; they are stored and compared byte for byte.
type Record struct {
	ValidKeys  KeyFlags
	LTK        LTK
	RemoteLTK  LTK
	RemoteIRK  IRK
	LocalCSRK  [16]byte
	RemoteCSRK [16]byte
	Peer       Address
	Auth       AuthLevel
	// Slot is the table slot the record occupies; set by DB.Add.
	Slot uint8
}

// IdentityKey is a stored IRK with the identity it resolves to.
type IdentityKey struct {
	IRK      [16]byte
	Identity Address
}

// IdentityInfo is what the controller resolving list needs for one device.
type IdentityInfo struct {
	Addr     BDAddr
	AddrType AddrType
	IRK      [16]byte
}

const (
	ltkSize    = 16 + 8 + 2 + 1
	irkSize    = 16 + 6 + 1
	addrSize   = 6 + 1
	recordSize = 1 + ltkSize + ltkSize + irkSize + 16 + 16 + addrSize + 1 + 1
)

type recordWriter struct {
	b   []byte
	off int
}

func (w *recordWriter) put(p []byte) {
	w.off += copy(w.b[w.off:], p)
}

func (w *recordWriter) u8(v uint8) {
	w.b[w.off] = v
	w.off++
}

func (w *recordWriter) u16(v uint16) {
	binary.LittleEndian.PutUint16(w.b[w.off:], v)
	w.off += 2
}

func (w *recordWriter) ltk(k *LTK) {
	w.put(k.Key[:])
	w.put(k.Rand[:])
	w.u16(k.EDIV)
	w.u8(k.KeySize)
}

func (w *recordWriter) addr(a *Address) {
	w.put(a.Addr[:])
	w.u8(uint8(a.Type))
}

type recordReader struct {
	b   []byte
	off int
}

func (r *recordReader) get(p []byte) {
	r.off += copy(p, r.b[r.off:r.off+len(p)])
}

func (r *recordReader) u8() uint8 {
	v := r.b[r.off]
	r.off++
	return v
}

func (r *recordReader) u16() uint16 {
	v := binary.LittleEndian.Uint16(r.b[r.off:])
	r.off += 2
	return v
}

func (r *recordReader) ltk(k *LTK) {
	r.get(k.Key[:])
	r.get(k.Rand[:])
	k.EDIV = r.u16()
	k.KeySize = r.u8()
}

func (r *recordReader) addr(a *Address) {
	r.get(a.Addr[:])
	a.Type = AddrType(r.u8())
}

// marshal writes the fixed recordSize encoding of rec into b.
func (rec *Record) marshal(b []byte) {
	w := recordWriter{b: b[:recordSize]}
	w.u8(uint8(rec.ValidKeys))
	w.ltk(&rec.LTK)
	w.ltk(&rec.RemoteLTK)
	w.put(rec.RemoteIRK.Key[:])
	w.addr(&rec.RemoteIRK.Identity)
	w.put(rec.LocalCSRK[:])
	w.put(rec.RemoteCSRK[:])
	w.addr(&rec.Peer)
	w.u8(uint8(rec.Auth))
	w.u8(rec.Slot)
}

func (rec *Record) unmarshal(b []byte) {
	r := recordReader{b: b[:recordSize]}
	rec.ValidKeys = KeyFlags(r.u8())
	r.ltk(&rec.LTK)
	r.ltk(&rec.RemoteLTK)
	r.get(rec.RemoteIRK.Key[:])
	r.addr(&rec.RemoteIRK.Identity)
	r.get(rec.LocalCSRK[:])
	r.get(rec.RemoteCSRK[:])
	r.addr(&rec.Peer)
	rec.Auth = AuthLevel(r.u8())
	rec.Slot = r.u8()
}
