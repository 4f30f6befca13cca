package bonddb

func (t *table) hasIdentity(i int) bool {
	return t.valid[i] && t.records[i].ValidKeys.Has(KeyRemoteIRK)
}

// IdentityCount is the number of stored peers with a remote IRK.
func (db *DB) IdentityCount() int {
	n := 0
	for i := range db.t.records {
		if db.t.hasIdentity(i) {
			n++
		}
	}
	return n
}

// IdentityKeys returns the remote IRK and identity of every stored peer that has
// one, in slot order.
func (db *DB) IdentityKeys() []IdentityKey {
	out := make([]IdentityKey, 0, db.IdentityCount())
	for i := range db.t.records {
		if db.t.hasIdentity(i) {
			irk := db.t.records[i].RemoteIRK
			out = append(out, IdentityKey{IRK: irk.Key, Identity: irk.Identity})
		}
	}
	return out
}

// IdentityKeysInto fills dst like IdentityKeys and returns how many were written.
func (db *DB) IdentityKeysInto(dst []IdentityKey) int {
	n := 0
	for i := range db.t.records {
		if n == len(dst) {
			break
		}
		if db.t.hasIdentity(i) {
			irk := db.t.records[i].RemoteIRK
			dst[n] = IdentityKey{IRK: irk.Key, Identity: irk.Identity}
			n++
		}
	}
	return n
}

// SlotIdentity returns the resolving list entry for slot, if the slot is in use
// and holds a remote IRK.
func (db *DB) SlotIdentity(slot int) (IdentityInfo, bool) {
	if slot < 0 || slot >= db.capacity || !db.t.hasIdentity(slot) {
		return IdentityInfo{}, false
	}
	irk := db.t.records[slot].RemoteIRK
	return IdentityInfo{
		Addr:     irk.Identity.Addr,
		AddrType: irk.Identity.Type,
		IRK:      irk.Key,
	}, true
}
