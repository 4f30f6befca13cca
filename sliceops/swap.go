// Package sliceops holds small byte slice helpers shared by the bond store and the
// address resolution code. BLE carries keys and addresses least significant byte first
// while the crypto primitives expect the most significant byte first.
package sliceops

// SwapBuf returns a reversed copy of in.
func SwapBuf(in []byte) []byte {
	a := make([]byte, 0, len(in))
	a = append(a, in...)
	for i := len(a)/2 - 1; i >= 0; i-- {
		opp := len(a) - 1 - i
		a[i], a[opp] = a[opp], a[i]
	}

	return a
}

// IsZero reports whether every byte of b is zero.
func IsZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// Fill sets every byte of b to v.
func Fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}
