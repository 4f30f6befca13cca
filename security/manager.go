// Package security is the part of the host that decides, from the bond database,
// whether a reconnecting peer may resume encryption, and keeps the controller's
// resolving list in step with the stored identities.
package security

import (
	"github.com/pkg/errors"
	"github.com/rigado/bonddb"
)

var (
	// ErrNoBond means no usable keys are stored for the peer; the encryption
	// request should be rejected and the link dropped.
	ErrNoBond = errors.New("security: no bond for peer")
	// ErrNonResolvable means the peer uses an address that can never be tied
	// to a bond.
	ErrNonResolvable = errors.New("security: peer address can't be resolved")
)

// BondStore is the part of the bond database the manager relies on.
type BondStore interface {
	Add(rec *bonddb.Record) (int, error)
	Search(key bonddb.SearchKey) (*bonddb.Record, bool)
	Remove(key bonddb.SearchKey, mode bonddb.RemoveMode) error
	IdentityKeys() []bonddb.IdentityKey
	SlotIdentity(slot int) (bonddb.IdentityInfo, bool)
	Capacity() int
}

// ResolvingList is the controller resolving list.
type ResolvingList interface {
	Clear() error
	Add(dev bonddb.IdentityInfo) error
}

type Manager struct {
	db  BondStore
	ral ResolvingList
	log bonddb.Logger
}

type Option func(*Manager)

func OptLogger(l bonddb.Logger) Option {
	return func(m *Manager) {
		m.log = l
	}
}

// New returns a manager over db. ral may be nil when the controller has no
// resolving list; SyncResolvingList is then a no-op.
func New(db BondStore, ral ResolvingList, opts ...Option) *Manager {
	m := &Manager{db: db, ral: ral}
	for _, o := range opts {
		o(m)
	}
	if m.log == nil {
		m.log = bonddb.ModuleLogger("security")
	}
	return m
}

// OnPairingSucceeded stores the keys of a finished pairing when the peer asked
// for bonding. It reports whether the record was stored.
func (m *Manager) OnPairingSucceeded(rec *bonddb.Record) (bool, error) {
	if !rec.Auth.Has(bonddb.AuthBond) {
		m.log.Debugf("pairing with %v not bonded, keys not stored", rec.Peer)
		return false, nil
	}

	slot, err := m.db.Add(rec)
	if err != nil {
		return false, errors.Wrapf(err, "can't store bond for %v", rec.Peer)
	}
	m.log.Infof("bonded with %v, slot %d", rec.Peer, slot)
	return true, nil
}

// OnEncryptRequest finds the keys to resume encryption with peer. A non zero
// ediv is a legacy pairing looked up by EDIV and Rand; otherwise the keys are
// found from the peer address.
func (m *Manager) OnEncryptRequest(peer bonddb.Address, ediv uint16, rand [8]byte) (*bonddb.Record, error) {
	var rec *bonddb.Record
	var ok bool

	if ediv != 0 {
		rec, ok = m.db.Search(bonddb.ByEDIV(ediv))
		if ok && rec.LTK.Rand != rand {
			m.log.Warnf("ediv 0x%04x from %v found with a different rand", ediv, peer)
			ok = false
		}
	} else {
		key, err := m.keyFor(peer)
		if err != nil {
			return nil, err
		}
		rec, ok = m.db.Search(key)
	}

	if !ok || !rec.ValidKeys.Has(bonddb.KeyLTK) {
		return nil, errors.Wrapf(ErrNoBond, "%v", peer)
	}
	return rec, nil
}

// keyFor picks how a peer is looked up from its address.
func (m *Manager) keyFor(peer bonddb.Address) (bonddb.SearchKey, error) {
	switch kind := ClassifyAddress(peer); kind {
	case KindIdentity:
		return bonddb.ByIdentity(peer.Addr), nil
	case KindPublic, KindRandomStatic:
		return bonddb.ByAddr(peer.Addr), nil
	case KindResolvable:
		id, ok := m.Resolve(peer.Addr)
		if !ok {
			return nil, errors.Wrapf(ErrNoBond, "%v did not resolve", peer)
		}
		return bonddb.ByIRK(id.IRK), nil
	default:
		return nil, errors.Wrapf(ErrNonResolvable, "%v is %v", peer, kind)
	}
}

// Resolve tries every stored IRK against a resolvable private address.
func (m *Manager) Resolve(addr bonddb.BDAddr) (bonddb.IdentityKey, bool) {
	for _, id := range m.db.IdentityKeys() {
		if Matches(id.IRK, addr) {
			return id, true
		}
	}
	return bonddb.IdentityKey{}, false
}

// SyncResolvingList rebuilds the controller resolving list from the stored
// identities and returns how many were added.
func (m *Manager) SyncResolvingList() (int, error) {
	if m.ral == nil {
		return 0, nil
	}

	if err := m.ral.Clear(); err != nil {
		return 0, errors.Wrap(err, "can't clear resolving list")
	}

	n := 0
	for slot := 0; slot < m.db.Capacity(); slot++ {
		dev, ok := m.db.SlotIdentity(slot)
		if !ok {
			continue
		}
		if err := m.ral.Add(dev); err != nil {
			return n, errors.Wrapf(err, "can't add %v to resolving list", dev.Addr)
		}
		n++
	}

	m.log.Debugf("resolving list synced, %d devices", n)
	return n, nil
}

// OnKeyMismatch drops the bond of a peer whose keys no longer work.
func (m *Manager) OnKeyMismatch(peer bonddb.Address) error {
	return m.remove(peer, bonddb.RemoveThis)
}

// ForgetAllExcept keeps only the bond of peer.
func (m *Manager) ForgetAllExcept(peer bonddb.Address) error {
	return m.remove(peer, bonddb.RemoveAllButThis)
}

// ForgetAll drops every bond.
func (m *Manager) ForgetAll() error {
	return m.db.Remove(nil, bonddb.RemoveAll)
}

func (m *Manager) remove(peer bonddb.Address, mode bonddb.RemoveMode) error {
	key, err := m.keyFor(peer)
	if err != nil {
		m.log.Debugf("nothing to remove for %v: %v", peer, err)
		return nil
	}
	return m.db.Remove(key, mode)
}
