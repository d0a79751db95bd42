package ir

// Swizzle packs four 2-bit lane selectors, lane 0 in the low bits.
// It matches the hardware source swizzle field, so emission can use IR
// swizzles directly.
type Swizzle uint8

// SwizzleIdentity selects x, y, z, w in order.
const SwizzleIdentity Swizzle = 0xe4 // 11 10 01 00

var laneNames = [4]byte{'x', 'y', 'z', 'w'}

// SwizzleBroadcast replicates one lane into all four.
func SwizzleBroadcast(lane int) Swizzle {
	l := Swizzle(lane & 3)
	return l | l<<2 | l<<4 | l<<6
}

// MakeSwizzle builds a swizzle from explicit lane selectors.
func MakeSwizzle(x, y, z, w int) Swizzle {
	return Swizzle(x&3) | Swizzle(y&3)<<2 | Swizzle(z&3)<<4 | Swizzle(w&3)<<6
}

// Lane returns the source lane selected for output lane i.
func (s Swizzle) Lane(i int) int {
	return int(s>>(2*uint(i))) & 3
}

// Compose applies outer after inner: the result selects, for output
// lane i, inner's lane outer.Lane(i). Used to fold a copy's swizzle
// into its consumers and to broadcast scalar results.
func Compose(inner, outer Swizzle) Swizzle {
	var r Swizzle
	for i := 0; i < 4; i++ {
		r |= Swizzle(inner.Lane(outer.Lane(i))) << (2 * uint(i))
	}
	return r
}

func (s Swizzle) String() string {
	b := make([]byte, 4)
	for i := 0; i < 4; i++ {
		b[i] = laneNames[s.Lane(i)]
	}
	return string(b)
}

// FirstLane returns the lowest set lane of a write mask, or 0 for an
// empty mask. Scalar hardware results land in this lane.
func FirstLane(mask uint8) int {
	for i := 0; i < 4; i++ {
		if mask&(1<<uint(i)) != 0 {
			return i
		}
	}
	return 0
}
