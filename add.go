package bonddb

// Add stores rec, picking its slot in this order: the occupied slot holding the
// same peer (same remote IRK when both carry one, otherwise same peer address),
// the first empty slot, and finally the least recently written slot, which is
// evicted. rec.Slot is set to the chosen slot. The table is persisted before
// returning; if that fails the in-memory table is left as it was.
func (db *DB) Add(rec *Record) (int, error) {
	slot, evict := db.t.selectSlot(rec)
	if evict {
		db.log.Infof("bond table full, evicting %v from slot %d", db.t.records[slot].Peer, slot)
	}

	prevRec, prevValid := db.t.records[slot], db.t.valid[slot]
	prevCounter := db.t.counter
	prevOrder := append([]uint32(nil), db.t.writeOrder...)

	order := db.t.nextOrder()
	rec.Slot = uint8(slot)
	db.t.records[slot] = *rec
	db.t.valid[slot] = true
	db.t.writeOrder[slot] = order

	if err := db.Persist(true); err != nil {
		db.t.records[slot], db.t.valid[slot] = prevRec, prevValid
		db.t.counter = prevCounter
		copy(db.t.writeOrder, prevOrder)
		return slot, err
	}

	db.log.Debugf("bond for %v stored in slot %d (order %d)", rec.Peer, slot, order)
	return slot, nil
}

// selectSlot returns the slot rec goes to and whether that displaces another peer.
func (t *table) selectSlot(rec *Record) (int, bool) {
	empty := -1

	for i := range t.records {
		if !t.valid[i] {
			if empty < 0 {
				empty = i
			}
			continue
		}

		cur := &t.records[i]
		if cur.ValidKeys.Has(KeyRemoteIRK) && rec.ValidKeys.Has(KeyRemoteIRK) {
			if cur.RemoteIRK.Key == rec.RemoteIRK.Key {
				return i, false
			}
		} else if cur.Peer == rec.Peer {
			return i, false
		}
	}

	if empty >= 0 {
		return empty, false
	}

	return t.oldest(), true
}
