package bonddb

import (
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
	"github.com/rigado/bonddb/sliceops"
)

// BDAddr is a Bluetooth device address in over-the-air order (least significant
// byte first). Its text form is the usual most-significant-first aa:bb:cc:dd:ee:ff.
type BDAddr [6]byte

// ParseBDAddr accepts "aa:bb:cc:dd:ee:ff", "aa-bb-..." or 12 bare hex digits.
func ParseBDAddr(s string) (BDAddr, error) {
	var a BDAddr
	hexStr := strings.NewReplacer(":", "", "-", "").Replace(s)
	if len(hexStr) != 12 {
		return a, errors.Errorf("invalid address %q", s)
	}
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return a, errors.Wrapf(err, "invalid address %q", s)
	}
	copy(a[:], sliceops.SwapBuf(b))
	return a, nil
}

func MustParseBDAddr(s string) BDAddr {
	a, err := ParseBDAddr(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a BDAddr) String() string {
	b := sliceops.SwapBuf(a[:])
	parts := make([]string, len(b))
	for i := range b {
		parts[i] = hex.EncodeToString(b[i : i+1])
	}
	return strings.Join(parts, ":")
}

// Hex returns the 12 hex digit form without separators, most significant first.
func (a BDAddr) Hex() string {
	return hex.EncodeToString(sliceops.SwapBuf(a[:]))
}

// Bytes returns the address in over-the-air order.
func (a BDAddr) Bytes() []byte {
	return append([]byte(nil), a[:]...)
}

// AddrType is the HCI address type.
type AddrType uint8

const (
	AddrPublic AddrType = iota
	AddrRandom
	AddrPublicIdentity
	AddrRandomIdentity
)

func (t AddrType) String() string {
	switch t {
	case AddrPublic:
		return "public"
	case AddrRandom:
		return "random"
	case AddrPublicIdentity:
		return "public-id"
	case AddrRandomIdentity:
		return "random-id"
	}
	return "unknown"
}

// ParseAddrType is the inverse of AddrType.String.
func ParseAddrType(s string) (AddrType, error) {
	for t := AddrPublic; t <= AddrRandomIdentity; t++ {
		if strings.EqualFold(s, t.String()) {
			return t, nil
		}
	}
	return 0, errors.Errorf("unknown address type %q", s)
}

// Address is a device address together with its type.
type Address struct {
	Addr BDAddr
	Type AddrType
}

func (a Address) String() string {
	return a.Addr.String() + "/" + a.Type.String()
}
