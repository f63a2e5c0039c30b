package verify

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"strings"
)

// Pattern selects the algorithm used to precompute an expected payload
// buffer. The first 64-bit word of every payload is reserved for the tag
// (stream id and payload counter), the second holds the seed, and the rest
// follow the pattern.
type Pattern int

const (
	PatternSame Pattern = iota
	PatternInc
	PatternSHL
	PatternSHR
)

func (p Pattern) String() string {
	switch p {
	case PatternSame:
		return "same"
	case PatternInc:
		return "inc"
	case PatternSHL:
		return "shl"
	case PatternSHR:
		return "shr"
	}
	return fmt.Sprintf("pattern(%d)", int(p))
}

func ParsePattern(s string) (Pattern, error) {
	switch strings.ToLower(s) {
	case "same":
		return PatternSame, nil
	case "inc":
		return PatternInc, nil
	case "shl":
		return PatternSHL, nil
	case "shr":
		return PatternSHR, nil
	}
	return 0, fmt.Errorf("unknown pattern %q", s)
}

const (
	patternWordSize = 8

	// tagCounterBits bounds the payload counter; the top byte of the tag word
	// carries the stream id.
	tagCounterBits = 56
	tagCounterMask = 1<<tagCounterBits - 1
)

// MakeTag packs a stream id and payload counter into a tag word.
func MakeTag(streamID uint8, counter uint64) uint64 {
	return uint64(streamID)<<tagCounterBits | counter&tagCounterMask
}

func TagStream(tag uint64) uint8 {
	return uint8(tag >> tagCounterBits)
}

func TagCounter(tag uint64) uint64 {
	return tag & tagCounterMask
}

// Fill loads buf with the selected pattern. buf must be a whole number of
// 64-bit words; the tag word is left zero for the caller to stamp.
func Fill(buf []byte, seed uint64, p Pattern) error {
	if len(buf) == 0 || len(buf)%patternWordSize != 0 {
		return fmt.Errorf("pattern buffer of %d bytes is not a whole number of words", len(buf))
	}

	binary.LittleEndian.PutUint64(buf[:patternWordSize], 0)
	if len(buf) > patternWordSize {
		binary.LittleEndian.PutUint64(buf[patternWordSize:2*patternWordSize], seed)
	}

	current := seed
	for off := 2 * patternWordSize; off < len(buf); off += patternWordSize {
		switch p {
		case PatternSame:
		case PatternInc:
			current++
		case PatternSHL:
			current = bits.RotateLeft64(current, 1)
		case PatternSHR:
			current = bits.RotateLeft64(current, -1)
		}
		binary.LittleEndian.PutUint64(buf[off:off+patternWordSize], current)
	}
	return nil
}
