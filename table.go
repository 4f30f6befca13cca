package bonddb

import (
	"encoding/binary"
	"math"
	"sort"
)

const (
	// Version is the layout version folded into both header words.
	Version     = 0x0001
	HeaderStart = uint16(0x1234 + Version)
	HeaderEnd   = uint16(0x4321 + Version)

	slotValid = 0xaa
	slotEmpty = 0x00
)

// table is the in-memory image of the persisted bond table.
type table struct {
	start      uint16
	valid      []bool
	counter    uint32
	writeOrder []uint32
	records    []Record
	end        uint16
}

func newTable(n int) *table {
	t := &table{
		valid:      make([]bool, n),
		writeOrder: make([]uint32, n),
		records:    make([]Record, n),
	}
	t.reset()
	return t
}

// TableSize is the encoded size of a table with n slots.
func TableSize(n int) int {
	return 2 + n + 4 + 4*n + recordSize*n + 2
}

// reset empties every slot and restores the header words.
func (t *table) reset() {
	for i := range t.records {
		t.clearSlot(i)
	}
	t.counter = 0
	t.start = HeaderStart
	t.end = HeaderEnd
}

func (t *table) clearSlot(i int) {
	t.records[i] = Record{}
	t.writeOrder[i] = 0
	t.valid[i] = false
}

func (t *table) occupied() int {
	n := 0
	for _, v := range t.valid {
		if v {
			n++
		}
	}
	return n
}

// nextOrder returns the write order for the slot about to be written. Once the
// counter has reached its maximum the occupied slots are renumbered 1..k, keeping
// their relative order, and counting continues from k.
func (t *table) nextOrder() uint32 {
	if t.counter == math.MaxUint32 {
		t.renumber()
	}
	t.counter++
	return t.counter
}

func (t *table) renumber() {
	var idx []int
	for i, v := range t.valid {
		if v {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return t.writeOrder[idx[a]] < t.writeOrder[idx[b]]
	})
	for rank, i := range idx {
		t.writeOrder[i] = uint32(rank + 1)
	}
	t.counter = uint32(len(idx))
}

// oldest returns the slot with the smallest write order, lowest index on ties.
func (t *table) oldest() int {
	slot := 0
	for i := 1; i < len(t.writeOrder); i++ {
		if t.writeOrder[i] < t.writeOrder[slot] {
			slot = i
		}
	}
	return slot
}

func (t *table) encode(b []byte) {
	off := 0

	binary.LittleEndian.PutUint16(b[off:], t.start)
	off += 2
	for _, v := range t.valid {
		if v {
			b[off] = slotValid
		} else {
			b[off] = slotEmpty
		}
		off++
	}
	binary.LittleEndian.PutUint32(b[off:], t.counter)
	off += 4
	for _, o := range t.writeOrder {
		binary.LittleEndian.PutUint32(b[off:], o)
		off += 4
	}
	for i := range t.records {
		t.records[i].marshal(b[off:])
		off += recordSize
	}
	binary.LittleEndian.PutUint16(b[off:], t.end)
}

// decode loads b into t. It returns false, leaving t untouched, when either header
// word does not carry the expected magic.
func (t *table) decode(b []byte) bool {
	n := len(t.records)
	if len(b) < TableSize(n) {
		return false
	}
	start := binary.LittleEndian.Uint16(b[0:])
	end := binary.LittleEndian.Uint16(b[TableSize(n)-2:])
	if start != HeaderStart || end != HeaderEnd {
		return false
	}

	t.start = start
	t.end = end
	off := 2
	for i := 0; i < n; i++ {
		t.valid[i] = b[off] == slotValid
		off++
	}
	t.counter = binary.LittleEndian.Uint32(b[off:])
	off += 4
	for i := 0; i < n; i++ {
		t.writeOrder[i] = binary.LittleEndian.Uint32(b[off:])
		off += 4
	}
	for i := 0; i < n; i++ {
		t.records[i].unmarshal(b[off:])
		off += recordSize
		if !t.valid[i] {
			t.clearSlot(i)
			continue
		}
		t.records[i].Slot = uint8(i)
	}
	return true
}
