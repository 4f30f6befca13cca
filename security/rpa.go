package security

import (
	"crypto/aes"

	"github.com/rigado/bonddb"
	"github.com/rigado/bonddb/sliceops"
)

// AddrKind is what a peer address says about the peer's identity.
type AddrKind int

const (
	KindPublic AddrKind = iota
	KindRandomStatic
	KindResolvable
	KindNonResolvable
	KindIdentity
	KindReserved
)

func (k AddrKind) String() string {
	switch k {
	case KindPublic:
		return "public"
	case KindRandomStatic:
		return "random static"
	case KindResolvable:
		return "resolvable private"
	case KindNonResolvable:
		return "non-resolvable private"
	case KindIdentity:
		return "identity"
	}
	return "reserved"
}

// ClassifyAddress looks at the address type and, for random addresses, the two
// most significant bits of the address.
func ClassifyAddress(a bonddb.Address) AddrKind {
	switch a.Type {
	case bonddb.AddrPublic:
		return KindPublic
	case bonddb.AddrPublicIdentity, bonddb.AddrRandomIdentity:
		return KindIdentity
	}

	switch a.Addr[5] >> 6 {
	case 0x3:
		return KindRandomStatic
	case 0x1:
		return KindResolvable
	case 0x0:
		return KindNonResolvable
	}
	return KindReserved
}

// ah is the random address hash: e(irk, padding || prand) mod 2^24. irk and
// prand are in over-the-air order, as is the returned hash.
func ah(irk [16]byte, prand []byte) [3]byte {
	c, err := aes.NewCipher(sliceops.SwapBuf(irk[:]))
	if err != nil {
		// a 16 byte key is always valid
		panic(err)
	}

	r := make([]byte, 16)
	copy(r[13:], sliceops.SwapBuf(prand[:3]))

	out := make([]byte, 16)
	c.Encrypt(out, r)

	var h [3]byte
	copy(h[:], sliceops.SwapBuf(out[13:]))
	return h
}

// Matches reports whether addr is a resolvable private address generated from irk.
func Matches(irk [16]byte, addr bonddb.BDAddr) bool {
	if addr[5]>>6 != 0x1 {
		return false
	}
	h := ah(irk, addr[3:6])
	return h[0] == addr[0] && h[1] == addr[1] && h[2] == addr[2]
}

// ResolvablePrivateAddress builds the address a device holding irk would use for
// the random part prand. The top two bits of prand are overwritten.
func ResolvablePrivateAddress(irk [16]byte, prand [3]byte) bonddb.BDAddr {
	prand[2] = prand[2]&0x3f | 0x40
	h := ah(irk, prand[:])

	var a bonddb.BDAddr
	copy(a[0:3], h[:])
	copy(a[3:6], prand[:])
	return a
}
