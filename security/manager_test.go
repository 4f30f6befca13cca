package security

import (
	"encoding/hex"
	"testing"

	"github.com/pkg/errors"
	"github.com/rigado/bonddb"
	"github.com/rigado/bonddb/nvm"
	"github.com/rigado/bonddb/sliceops"
	"github.com/stretchr/testify/require"
)

type fakeRAL struct {
	devs    []bonddb.IdentityInfo
	cleared int
	failAdd bool
}

func (f *fakeRAL) Clear() error {
	f.cleared++
	f.devs = nil
	return nil
}

func (f *fakeRAL) Add(dev bonddb.IdentityInfo) error {
	if f.failAdd {
		return errors.New("controller says no")
	}
	f.devs = append(f.devs, dev)
	return nil
}

func newDB(t *testing.T) *bonddb.DB {
	db, err := bonddb.New(nvm.NewEEPROM(0x9000))
	require.NoError(t, err)
	require.NoError(t, db.Init())
	return db
}

func irkOf(b byte) [16]byte {
	var k [16]byte
	for i := range k {
		k[i] = b ^ byte(i)
	}
	return k
}

func bond(addr string, typ bonddb.AddrType) *bonddb.Record {
	rec := &bonddb.Record{
		ValidKeys: bonddb.KeyLTK,
		Peer:      bonddb.Address{Addr: bonddb.MustParseBDAddr(addr), Type: typ},
		Auth:      bonddb.AuthBond | bonddb.AuthSecure,
	}
	rec.LTK.Key = [16]byte{0x11, 0x22}
	rec.LTK.KeySize = 16
	return rec
}

func TestAhVector(t *testing.T) {
	k, err := hex.DecodeString("ec0234a357c8ad05341010a60a397d9b")
	require.NoError(t, err)
	var irk [16]byte
	copy(irk[:], sliceops.SwapBuf(k))

	rpa := bonddb.MustParseBDAddr("70:81:94:0d:fb:aa")
	require.True(t, Matches(irk, rpa))
	require.Equal(t, rpa, ResolvablePrivateAddress(irk, [3]byte{0x94, 0x81, 0x70}))

	require.False(t, Matches(irkOf(1), rpa))
	// not a resolvable address at all
	require.False(t, Matches(irk, bonddb.MustParseBDAddr("f0:81:94:0d:fb:aa")))
}

func TestClassifyAddress(t *testing.T) {
	cases := map[string]AddrKind{
		"00:11:22:33:44:55/public":    KindPublic,
		"c0:11:22:33:44:55/random":    KindRandomStatic,
		"40:11:22:33:44:55/random":    KindResolvable,
		"00:11:22:33:44:55/random":    KindNonResolvable,
		"80:11:22:33:44:55/random":    KindReserved,
		"40:11:22:33:44:55/random-id": KindIdentity,
		"00:11:22:33:44:55/public-id": KindIdentity,
	}
	for s, want := range cases {
		a := bonddb.Address{Addr: bonddb.MustParseBDAddr(s[:17])}
		at, err := bonddb.ParseAddrType(s[18:])
		require.NoError(t, err)
		a.Type = at
		require.Equal(t, want, ClassifyAddress(a), s)
	}
	require.Equal(t, "resolvable private", KindResolvable.String())
}

func TestOnPairingSucceeded(t *testing.T) {
	db := newDB(t)
	m := New(db, nil)

	rec := bond("00:11:22:33:44:55", bonddb.AddrPublic)
	rec.Auth = bonddb.AuthMITM
	stored, err := m.OnPairingSucceeded(rec)
	require.NoError(t, err)
	require.False(t, stored)
	require.Equal(t, 0, db.Occupied())

	rec.Auth |= bonddb.AuthBond
	stored, err = m.OnPairingSucceeded(rec)
	require.NoError(t, err)
	require.True(t, stored)
	require.Equal(t, 1, db.Occupied())
}

func TestEncryptRequestLegacy(t *testing.T) {
	db := newDB(t)
	m := New(db, nil)

	rec := bond("00:11:22:33:44:55", bonddb.AddrPublic)
	rec.LTK.EDIV = 0x1234
	rec.LTK.Rand = [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
	_, err := m.OnPairingSucceeded(rec)
	require.NoError(t, err)

	// legacy lookups go by ediv/rand, whatever address the peer uses now
	other := bonddb.Address{Addr: bonddb.MustParseBDAddr("40:00:00:00:00:01"), Type: bonddb.AddrRandom}
	got, err := m.OnEncryptRequest(other, 0x1234, rec.LTK.Rand)
	require.NoError(t, err)
	require.Equal(t, rec.LTK, got.LTK)

	_, err = m.OnEncryptRequest(other, 0x1234, [8]byte{9})
	require.Equal(t, ErrNoBond, errors.Cause(err))

	_, err = m.OnEncryptRequest(other, 0x4321, rec.LTK.Rand)
	require.Equal(t, ErrNoBond, errors.Cause(err))
}

func TestEncryptRequestByAddress(t *testing.T) {
	db := newDB(t)
	m := New(db, nil)

	pub := bond("00:11:22:33:44:55", bonddb.AddrPublic)
	static := bond("c1:11:22:33:44:55", bonddb.AddrRandom)
	withID := bond("40:aa:bb:cc:dd:ee", bonddb.AddrRandom)
	withID.ValidKeys |= bonddb.KeyRemoteIRK
	withID.RemoteIRK = bonddb.IRK{
		Key:      irkOf(7),
		Identity: bonddb.Address{Addr: bonddb.MustParseBDAddr("00:aa:aa:aa:aa:aa"), Type: bonddb.AddrPublic},
	}
	for _, r := range []*bonddb.Record{pub, static, withID} {
		_, err := m.OnPairingSucceeded(r)
		require.NoError(t, err)
	}

	got, err := m.OnEncryptRequest(pub.Peer, 0, [8]byte{})
	require.NoError(t, err)
	require.Equal(t, uint8(0), got.Slot)

	got, err = m.OnEncryptRequest(static.Peer, 0, [8]byte{})
	require.NoError(t, err)
	require.Equal(t, uint8(1), got.Slot)

	// controller already resolved the address to the identity
	idPeer := bonddb.Address{Addr: withID.RemoteIRK.Identity.Addr, Type: bonddb.AddrPublicIdentity}
	got, err = m.OnEncryptRequest(idPeer, 0, [8]byte{})
	require.NoError(t, err)
	require.Equal(t, uint8(2), got.Slot)

	// a fresh private address from the same device
	rpa := ResolvablePrivateAddress(irkOf(7), [3]byte{0x12, 0x34, 0x56})
	got, err = m.OnEncryptRequest(bonddb.Address{Addr: rpa, Type: bonddb.AddrRandom}, 0, [8]byte{})
	require.NoError(t, err)
	require.Equal(t, uint8(2), got.Slot)

	stranger := ResolvablePrivateAddress(irkOf(8), [3]byte{0x12, 0x34, 0x56})
	_, err = m.OnEncryptRequest(bonddb.Address{Addr: stranger, Type: bonddb.AddrRandom}, 0, [8]byte{})
	require.Equal(t, ErrNoBond, errors.Cause(err))

	nrpa := bonddb.Address{Addr: bonddb.MustParseBDAddr("00:11:22:33:44:56"), Type: bonddb.AddrRandom}
	_, err = m.OnEncryptRequest(nrpa, 0, [8]byte{})
	require.Equal(t, ErrNonResolvable, errors.Cause(err))

	unknown := bonddb.Address{Addr: bonddb.MustParseBDAddr("00:00:00:00:00:01"), Type: bonddb.AddrPublic}
	_, err = m.OnEncryptRequest(unknown, 0, [8]byte{})
	require.Equal(t, ErrNoBond, errors.Cause(err))
}

func TestEncryptRequestNeedsLTK(t *testing.T) {
	db := newDB(t)
	m := New(db, nil)

	rec := bond("00:11:22:33:44:55", bonddb.AddrPublic)
	rec.ValidKeys = bonddb.KeyRemoteCSRK
	_, err := m.OnPairingSucceeded(rec)
	require.NoError(t, err)

	_, err = m.OnEncryptRequest(rec.Peer, 0, [8]byte{})
	require.Equal(t, ErrNoBond, errors.Cause(err))
}

func TestSyncResolvingList(t *testing.T) {
	db := newDB(t)
	ral := &fakeRAL{}
	m := New(db, ral)

	n, err := m.SyncResolvingList()
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.Equal(t, 1, ral.cleared)

	for i, addr := range []string{"00:00:00:00:00:01", "00:00:00:00:00:02", "00:00:00:00:00:03"} {
		rec := bond(addr, bonddb.AddrPublic)
		if i != 1 {
			rec.ValidKeys |= bonddb.KeyRemoteIRK
			rec.RemoteIRK = bonddb.IRK{Key: irkOf(byte(i)), Identity: rec.Peer}
		}
		_, err := m.OnPairingSucceeded(rec)
		require.NoError(t, err)
	}
	// leaves a hole in slot 0
	require.NoError(t, m.OnKeyMismatch(bonddb.Address{Addr: bonddb.MustParseBDAddr("00:00:00:00:00:01")}))

	n, err = m.SyncResolvingList()
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Len(t, ral.devs, 1)
	require.Equal(t, irkOf(2), ral.devs[0].IRK)
	require.Equal(t, bonddb.MustParseBDAddr("00:00:00:00:00:03"), ral.devs[0].Addr)

	ral.failAdd = true
	_, err = m.SyncResolvingList()
	require.Error(t, err)

	n, err = New(db, nil).SyncResolvingList()
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestForget(t *testing.T) {
	db := newDB(t)
	m := New(db, nil)
	var keep *bonddb.Record
	for _, addr := range []string{"00:00:00:00:00:01", "00:00:00:00:00:02", "00:00:00:00:00:03"} {
		rec := bond(addr, bonddb.AddrPublic)
		_, err := m.OnPairingSucceeded(rec)
		require.NoError(t, err)
		keep = rec
	}

	// nothing can match a non-resolvable address
	nrpa := bonddb.Address{Addr: bonddb.MustParseBDAddr("00:00:00:00:00:02"), Type: bonddb.AddrRandom}
	require.NoError(t, m.OnKeyMismatch(nrpa))
	require.Equal(t, 3, db.Occupied())

	require.NoError(t, m.ForgetAllExcept(keep.Peer))
	require.Equal(t, 1, db.Occupied())
	_, ok := db.Search(bonddb.ByAddr(keep.Peer.Addr))
	require.True(t, ok)

	require.NoError(t, m.ForgetAll())
	require.Equal(t, 0, db.Occupied())
}
