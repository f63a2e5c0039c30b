package packet

// A ScatterList is an ordered sequence of byte-range views describing
// logically contiguous payload data held in non-contiguous receive buffers.
// Entries are append-only; merging two lists is an O(1) splice of the
// underlying slices when capacity allows.
type ScatterList struct {
	entries [][]byte
	total   int
}

func (s *ScatterList) Append(b []byte) {
	s.entries = append(s.entries, b)
	s.total += len(b)
}

// Prepend places b ahead of all existing entries.
func (s *ScatterList) Prepend(b []byte) {
	s.entries = append(s.entries, nil)
	copy(s.entries[1:], s.entries)
	s.entries[0] = b
	s.total += len(b)
}

// Splice moves all entries of other onto the end of s, leaving other empty.
func (s *ScatterList) Splice(other *ScatterList) {
	s.entries = append(s.entries, other.entries...)
	s.total += other.total
	other.Reset()
}

func (s *ScatterList) Entries() [][]byte {
	return s.entries
}

// TotalSize returns the byte count summed across all entries.
func (s *ScatterList) TotalSize() int {
	return s.total
}

func (s *ScatterList) Reset() {
	s.entries = nil
	s.total = 0
}

// Gather copies the scattered ranges into a single contiguous buffer.
func (s *ScatterList) Gather() []byte {
	out := make([]byte, 0, s.total)
	for _, e := range s.entries {
		out = append(out, e...)
	}
	return out
}
