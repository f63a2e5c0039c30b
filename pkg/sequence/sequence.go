// Package sequence provides wraparound-aware comparison and distance
// arithmetic over fixed-width counters. Fragment sequence numbers and payload
// tag counters both wrap, so raw integer comparison is never valid; every
// ordering decision in the receive path routes through a Space.
package sequence

// A Space is a counter domain that wraps at Modulus. The zero value is not
// usable; construct with New. Operands must already be reduced into
// [0, modulus).
type Space struct {
	modulus uint64
	half    uint64
}

func New(modulus uint64) Space {
	return Space{
		modulus: modulus,
		half:    modulus / 2,
	}
}

// Packet16 is the fragment sequence number space (16-bit wrapping counter).
var Packet16 = New(1 << 16)

// Payload56 is the payload tag counter space. The tag word reserves its top
// byte for the stream id, leaving a 56-bit wrapping counter.
var Payload56 = New(1 << 56)

func (s Space) Modulus() uint64 {
	return s.modulus
}

// Less reports whether a orders strictly before b, treating the shorter
// modular arc as the direction of travel. A sequence number numerically
// smaller than another can still order after it across the wrap point.
func (s Space) Less(a, b uint64) bool {
	d := s.Distance(a, b)
	return d != 0 && d < s.half
}

// Distance returns the forward modular distance from `from` to `to`: the
// number of increments needed to advance `from` until it equals `to`.
// Adding the modulus before subtracting keeps the arithmetic correct for
// moduli that are not powers of two.
func (s Space) Distance(from, to uint64) uint64 {
	return (to + s.modulus - from) % s.modulus
}

// Next returns the successor of a in the space.
func (s Space) Next(a uint64) uint64 {
	return (a + 1) % s.modulus
}

// Add advances a by n increments.
func (s Space) Add(a, n uint64) uint64 {
	return (a + n) % s.modulus
}

// Adjacent reports whether b is the immediate successor of a.
func (s Space) Adjacent(a, b uint64) bool {
	return s.Next(a) == b
}
