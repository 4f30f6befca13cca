package bonddb

import "github.com/pkg/errors"

// SearchKey selects a slot. It is one of ByEDIV, ByAddr, ByIRK, ByIdentity or BySlot.
type SearchKey interface {
	matches(rec *Record) bool
}

// ByEDIV matches the encryption diversifier of the stored LTK.
type ByEDIV uint16

// ByAddr matches the peer device address.
type ByAddr BDAddr

// ByIRK matches the stored remote IRK.
type ByIRK [16]byte

// ByIdentity matches the identity address stored with the remote IRK.
type ByIdentity BDAddr

// BySlot selects a slot directly.
type BySlot uint8

func (k ByEDIV) matches(rec *Record) bool {
	return rec.LTK.EDIV == uint16(k)
}

func (k ByAddr) matches(rec *Record) bool {
	return rec.Peer.Addr == BDAddr(k)
}

func (k ByIRK) matches(rec *Record) bool {
	return rec.ValidKeys.Has(KeyRemoteIRK) && rec.RemoteIRK.Key == [16]byte(k)
}

func (k ByIdentity) matches(rec *Record) bool {
	return rec.ValidKeys.Has(KeyRemoteIRK) && rec.RemoteIRK.Identity.Addr == BDAddr(k)
}

// valid slots always carry their own index
func (k BySlot) matches(rec *Record) bool {
	return rec.Slot == uint8(k)
}

// RemoveMode selects what Remove clears.
type RemoveMode int

const (
	RemoveThis RemoveMode = iota
	RemoveAllButThis
	RemoveAll
)

// Slot is an occupied table slot.
type Slot struct {
	Index      int
	WriteOrder uint32
	Record     Record
}

// find returns the lowest occupied slot matching key, or -1.
func (t *table) find(key SearchKey) int {
	if key == nil {
		return -1
	}
	for i := range t.records {
		if t.valid[i] && key.matches(&t.records[i]) {
			return i
		}
	}
	return -1
}

// Search returns a copy of the first occupied record matching key.
func (db *DB) Search(key SearchKey) (*Record, bool) {
	i := db.t.find(key)
	if i < 0 {
		return nil, false
	}
	rec := db.t.records[i]
	return &rec, true
}

// Remove clears the slot selected by key (RemoveThis), every other slot
// (RemoveAllButThis) or the whole table (RemoveAll, key ignored). BySlot names
// the slot by index, occupied or not. A key that selects nothing is a no-op.
func (db *DB) Remove(key SearchKey, mode RemoveMode) error {
	switch mode {
	case RemoveAll:
		return db.Clear()
	case RemoveThis, RemoveAllButThis:
	default:
		return errors.Errorf("unknown removal mode %d", mode)
	}

	slot := db.t.find(key)
	if k, ok := key.(BySlot); ok && int(k) < db.capacity {
		slot = int(k)
	}
	if slot < 0 || (mode == RemoveThis && !db.t.valid[slot]) {
		return nil
	}

	if mode == RemoveThis {
		db.log.Debugf("removing bond in slot %d", slot)
		db.t.clearSlot(slot)
	} else {
		db.log.Debugf("removing all bonds except slot %d", slot)
		for i := range db.t.records {
			if i != slot && db.t.valid[i] {
				db.t.clearSlot(i)
			}
		}
	}

	return db.Persist(true)
}

// Clear empties the table and persists it.
func (db *DB) Clear() error {
	db.log.Info("clearing bond table")
	db.t.reset()
	return db.Persist(true)
}

// Occupied is the number of slots in use.
func (db *DB) Occupied() int {
	return db.t.occupied()
}

// Slots returns the occupied slots in slot order.
func (db *DB) Slots() []Slot {
	var out []Slot
	for i := range db.t.records {
		if db.t.valid[i] {
			out = append(out, Slot{Index: i, WriteOrder: db.t.writeOrder[i], Record: db.t.records[i]})
		}
	}
	return out
}

// Entries returns the occupied records in slot order.
func (db *DB) Entries() []Record {
	out := make([]Record, 0, db.t.occupied())
	for i := range db.t.records {
		if db.t.valid[i] {
			out = append(out, db.t.records[i])
		}
	}
	return out
}
