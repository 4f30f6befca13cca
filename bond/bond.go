// Package bond puts the bond table behind the address keyed BondManager used by
// connection code, and moves whole tables in and out as JSON.
package bond

import (
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"
	"github.com/rigado/bonddb"
)

type BondManager interface {
	Find(addr string) (BondInfo, error)
	Save(string, BondInfo) error
	Exists(addr string) bool
	Delete(addr string) error
}

type BondInfo interface {
	LongTermKey() []byte
	EDiv() uint16
	Random() uint64
	Legacy() bool
}

type bondInfo struct {
	longTermKey []byte
	ediv        uint16
	randVal     uint64
	legacy      bool
}

func NewBondInfo(longTermKey []byte, ediv uint16, random uint64, legacy bool) BondInfo {
	return &bondInfo{
		longTermKey: longTermKey,
		ediv:        ediv,
		randVal:     random,
		legacy:      legacy,
	}
}

func (b *bondInfo) LongTermKey() []byte {
	return b.longTermKey
}

func (b *bondInfo) EDiv() uint16 {
	return b.ediv
}

func (b *bondInfo) Random() uint64 {
	return b.randVal
}

func (b *bondInfo) Legacy() bool {
	return b.legacy
}

// Manager is safe for use by several connections at once.
type Manager struct {
	lock sync.RWMutex
	db   *bonddb.DB
	log  bonddb.Logger
}

// NewManager wraps an initialised bond table.
func NewManager(db *bonddb.DB) *Manager {
	return &Manager{db: db, log: bonddb.ModuleLogger("bond")}
}

// parseAddr takes the 12 hex digit form used by the connection layer.
func parseAddr(addr string) (bonddb.BDAddr, error) {
	if len(addr) != 12 {
		return bonddb.BDAddr{}, errors.Errorf("invalid address: %s", addr)
	}
	return bonddb.ParseBDAddr(addr)
}

func (m *Manager) Exists(addr string) bool {
	a, err := parseAddr(addr)
	if err != nil {
		return false
	}

	m.lock.RLock()
	defer m.lock.RUnlock()

	_, ok := m.db.Search(bonddb.ByAddr(a))
	return ok
}

func (m *Manager) Find(addr string) (BondInfo, error) {
	a, err := parseAddr(addr)
	if err != nil {
		return nil, err
	}

	m.lock.RLock()
	defer m.lock.RUnlock()

	rec, ok := m.db.Search(bonddb.ByAddr(a))
	if !ok || !rec.ValidKeys.Has(bonddb.KeyLTK) {
		return nil, errors.Errorf("bond information not found for %s", addr)
	}

	return NewBondInfo(
		append([]byte(nil), rec.LTK.Key[:]...),
		rec.LTK.EDIV,
		binary.LittleEndian.Uint64(rec.LTK.Rand[:]),
		!rec.Auth.Has(bonddb.AuthSecure),
	), nil
}

// Save stores bond for a public address peer, replacing what was there.
func (m *Manager) Save(addr string, bond BondInfo) error {
	a, err := parseAddr(addr)
	if err != nil {
		return err
	}

	if bond == nil {
		return errors.New("empty bond information")
	}

	ltk := bond.LongTermKey()
	if len(ltk) != 16 {
		return errors.Errorf("invalid long term key length %d", len(ltk))
	}

	rec := &bonddb.Record{
		ValidKeys: bonddb.KeyLTK,
		Peer:      bonddb.Address{Addr: a, Type: bonddb.AddrPublic},
		Auth:      bonddb.AuthBond,
	}
	copy(rec.LTK.Key[:], ltk)
	rec.LTK.EDIV = bond.EDiv()
	rec.LTK.KeySize = 16
	binary.LittleEndian.PutUint64(rec.LTK.Rand[:], bond.Random())
	if !bond.Legacy() {
		rec.Auth |= bonddb.AuthSecure
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	slot, err := m.db.Add(rec)
	if err != nil {
		return errors.Wrapf(err, "failed to save bond for %s", addr)
	}
	m.log.Debugf("saved bond for %s in slot %d", addr, slot)
	return nil
}

func (m *Manager) Delete(addr string) error {
	a, err := parseAddr(addr)
	if err != nil {
		return err
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	if _, ok := m.db.Search(bonddb.ByAddr(a)); !ok {
		return errors.Errorf("bond information not found for %s", addr)
	}
	return m.db.Remove(bonddb.ByAddr(a), bonddb.RemoveThis)
}
