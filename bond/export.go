package bond

import (
	"encoding/hex"
	"io"
	"sort"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/rigado/bonddb"
	"github.com/rigado/bonddb/sliceops"
)

type bondFile struct {
	Bonds []remoteKeyInfo `json:"bonds"`
}

// remoteKeyInfo is one stored bond. Keys and addresses are hex, most significant
// byte first; ediv and rand keep the little endian wire order.
type remoteKeyInfo struct {
	Address               string   `json:"address"`
	AddressType           string   `json:"addressType"`
	Slot                  int      `json:"slot"`
	Keys                  uint8    `json:"keys"`
	Auth                  uint8    `json:"auth"`
	LongTermKey           string   `json:"longTermKey,omitempty"`
	EncryptionDiversifier string   `json:"encryptionDiversifier,omitempty"`
	RandomValue           string   `json:"randomValue,omitempty"`
	KeySize               uint8    `json:"keySize,omitempty"`
	Legacy                bool     `json:"legacy"`
	RemoteLTK             *ltkInfo `json:"remoteLongTermKey,omitempty"`
	IRK                   *irkInfo `json:"irk,omitempty"`
	LocalCSRK             string   `json:"localCsrk,omitempty"`
	RemoteCSRK            string   `json:"remoteCsrk,omitempty"`
}

type ltkInfo struct {
	Key     string `json:"key"`
	EDiv    string `json:"ediv"`
	Rand    string `json:"rand"`
	KeySize uint8  `json:"keySize"`
}

type irkInfo struct {
	Key             string `json:"key"`
	IdentityAddress string `json:"identityAddress"`
	IdentityType    string `json:"identityType"`
}

// Export writes every stored bond, least recently written first, so an Import of
// the output keeps the eviction order.
func (m *Manager) Export(w io.Writer) error {
	m.lock.RLock()
	slots := m.db.Slots()
	m.lock.RUnlock()

	sort.Slice(slots, func(i, j int) bool {
		return slots[i].WriteOrder < slots[j].WriteOrder
	})

	bf := bondFile{Bonds: make([]remoteKeyInfo, 0, len(slots))}
	for _, s := range slots {
		bf.Bonds = append(bf.Bonds, createRemoteKeyInfo(&s.Record))
	}

	out, err := jsoniter.MarshalIndent(bf, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal bonds to json")
	}
	_, err = w.Write(append(out, '\n'))
	return err
}

// Import replaces the table with the bonds read from r. Nothing is changed if
// any entry is invalid.
func (m *Manager) Import(r io.Reader) (int, error) {
	var bf bondFile
	if err := jsoniter.NewDecoder(r).Decode(&bf); err != nil {
		return 0, errors.Wrap(err, "failed to unmarshal bond info")
	}

	recs := make([]bonddb.Record, 0, len(bf.Bonds))
	for i := range bf.Bonds {
		rec, err := bf.Bonds[i].record()
		if err != nil {
			return 0, errors.Wrapf(err, "bond %d", i)
		}
		recs = append(recs, rec)
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	if len(recs) > m.db.Capacity() {
		m.log.Warnf("importing %d bonds into %d slots, the oldest will be evicted", len(recs), m.db.Capacity())
	}

	if err := m.db.Clear(); err != nil {
		return 0, err
	}
	for i := range recs {
		if _, err := m.db.Add(&recs[i]); err != nil {
			return i, err
		}
	}
	return len(recs), nil
}

func encodeHex(b []byte) string {
	return hex.EncodeToString(b)
}

// decodeHex fills dst from s, which must be exactly len(dst) bytes.
func decodeHex(dst []byte, s, what string) error {
	b, err := hex.DecodeString(s)
	if err != nil {
		return errors.Wrapf(err, "invalid %s", what)
	}
	if len(b) != len(dst) {
		return errors.Errorf("invalid %s length %d", what, len(b))
	}
	copy(dst, b)
	return nil
}

func createRemoteKeyInfo(rec *bonddb.Record) remoteKeyInfo {
	rki := remoteKeyInfo{
		Address:     rec.Peer.Addr.Hex(),
		AddressType: rec.Peer.Type.String(),
		Slot:        int(rec.Slot),
		Keys:        uint8(rec.ValidKeys),
		Auth:        uint8(rec.Auth),
		Legacy:      !rec.Auth.Has(bonddb.AuthSecure),
	}

	if rec.ValidKeys.Has(bonddb.KeyLTK) {
		li := newLTKInfo(&rec.LTK)
		rki.LongTermKey = li.Key
		rki.EncryptionDiversifier = li.EDiv
		rki.RandomValue = li.Rand
		rki.KeySize = li.KeySize
	}
	if rec.ValidKeys.Has(bonddb.KeyRemoteLTK) {
		li := newLTKInfo(&rec.RemoteLTK)
		rki.RemoteLTK = &li
	}
	if rec.ValidKeys.Has(bonddb.KeyRemoteIRK) {
		rki.IRK = &irkInfo{
			Key:             encodeHex(sliceops.SwapBuf(rec.RemoteIRK.Key[:])),
			IdentityAddress: rec.RemoteIRK.Identity.Addr.Hex(),
			IdentityType:    rec.RemoteIRK.Identity.Type.String(),
		}
	}
	if rec.ValidKeys.Has(bonddb.KeyLocalCSRK) {
		rki.LocalCSRK = encodeHex(sliceops.SwapBuf(rec.LocalCSRK[:]))
	}
	if rec.ValidKeys.Has(bonddb.KeyRemoteCSRK) {
		rki.RemoteCSRK = encodeHex(sliceops.SwapBuf(rec.RemoteCSRK[:]))
	}
	return rki
}

func newLTKInfo(k *bonddb.LTK) ltkInfo {
	return ltkInfo{
		Key:     encodeHex(sliceops.SwapBuf(k.Key[:])),
		EDiv:    encodeHex([]byte{byte(k.EDIV), byte(k.EDIV >> 8)}),
		Rand:    encodeHex(k.Rand[:]),
		KeySize: k.KeySize,
	}
}

func (li *ltkInfo) ltk() (bonddb.LTK, error) {
	var k bonddb.LTK
	if err := decodeHex(k.Key[:], li.Key, "long term key"); err != nil {
		return k, err
	}
	copy(k.Key[:], sliceops.SwapBuf(k.Key[:]))

	var ediv [2]byte
	if err := decodeHex(ediv[:], li.EDiv, "ediv"); err != nil {
		return k, err
	}
	k.EDIV = uint16(ediv[0]) | uint16(ediv[1])<<8

	if err := decodeHex(k.Rand[:], li.Rand, "random value"); err != nil {
		return k, err
	}
	k.KeySize = li.KeySize
	return k, nil
}

func parseAddress(addr, typ string) (bonddb.Address, error) {
	a, err := bonddb.ParseBDAddr(addr)
	if err != nil {
		return bonddb.Address{}, err
	}
	t, err := bonddb.ParseAddrType(typ)
	if err != nil {
		return bonddb.Address{}, err
	}
	return bonddb.Address{Addr: a, Type: t}, nil
}

func (rki *remoteKeyInfo) record() (bonddb.Record, error) {
	var rec bonddb.Record
	var err error

	if rec.Peer, err = parseAddress(rki.Address, rki.AddressType); err != nil {
		return rec, err
	}
	rec.ValidKeys = bonddb.KeyFlags(rki.Keys)
	rec.Auth = bonddb.AuthLevel(rki.Auth)

	if rec.ValidKeys.Has(bonddb.KeyLTK) {
		li := ltkInfo{Key: rki.LongTermKey, EDiv: rki.EncryptionDiversifier, Rand: rki.RandomValue, KeySize: rki.KeySize}
		if rec.LTK, err = li.ltk(); err != nil {
			return rec, err
		}
	}
	if rec.ValidKeys.Has(bonddb.KeyRemoteLTK) {
		if rki.RemoteLTK == nil {
			return rec, errors.New("remote long term key flagged but missing")
		}
		if rec.RemoteLTK, err = rki.RemoteLTK.ltk(); err != nil {
			return rec, err
		}
	}
	if rec.ValidKeys.Has(bonddb.KeyRemoteIRK) {
		if rki.IRK == nil {
			return rec, errors.New("irk flagged but missing")
		}
		if err = decodeHex(rec.RemoteIRK.Key[:], rki.IRK.Key, "irk"); err != nil {
			return rec, err
		}
		copy(rec.RemoteIRK.Key[:], sliceops.SwapBuf(rec.RemoteIRK.Key[:]))
		if rec.RemoteIRK.Identity, err = parseAddress(rki.IRK.IdentityAddress, rki.IRK.IdentityType); err != nil {
			return rec, err
		}
	}
	if rec.ValidKeys.Has(bonddb.KeyLocalCSRK) {
		if err = decodeHex(rec.LocalCSRK[:], rki.LocalCSRK, "local csrk"); err != nil {
			return rec, err
		}
		copy(rec.LocalCSRK[:], sliceops.SwapBuf(rec.LocalCSRK[:]))
	}
	if rec.ValidKeys.Has(bonddb.KeyRemoteCSRK) {
		if err = decodeHex(rec.RemoteCSRK[:], rki.RemoteCSRK, "remote csrk"); err != nil {
			return rec, err
		}
		copy(rec.RemoteCSRK[:], sliceops.SwapBuf(rec.RemoteCSRK[:]))
	}
	return rec, nil
}
