package packet

import (
	"bytes"
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"
)

func TestParseStartFragment(t *testing.T) {
	orig := &Fragment{
		Type:       TypeStart,
		PayloadNum: 3,
		TotalSize:  4096,
		Tag:        0x0200000000000007,
		ExtraData:  []byte{0xde, 0xad},
		Payload:    bytes.Repeat([]byte{0x55}, 100),
	}

	f, err := Parse(orig.Marshal())
	require.NoError(t, err)
	require.Equal(t, TypeStart, f.Type)
	require.EqualValues(t, 0, f.SequenceNumber)
	require.EqualValues(t, 3, f.PayloadNum)
	require.EqualValues(t, 4096, f.TotalSize)
	require.EqualValues(t, 0x0200000000000007, f.Tag)
	require.Equal(t, []byte{0xde, 0xad}, f.ExtraData)
	require.Equal(t, orig.Payload, f.Payload)
}

func TestParseDataFragment(t *testing.T) {
	orig := &Fragment{
		Type:           TypeData,
		SequenceNumber: 17,
		PayloadNum:     3,
		Payload:        []byte("fragment bytes"),
	}

	f, err := Parse(orig.Marshal())
	require.NoError(t, err)
	require.Equal(t, TypeData, f.Type)
	require.EqualValues(t, 17, f.SequenceNumber)
	require.Equal(t, orig.Payload, f.Payload)
}

func TestParseMalformed(t *testing.T) {
	// too short for a common header
	_, err := Parse([]byte{0x00, 0x01})
	require.ErrorIs(t, err, ErrShortHeader)

	// start fragment with a nonzero sequence number
	bad := (&Fragment{Type: TypeData, SequenceNumber: 5, Payload: []byte{1}}).Marshal()
	bad[0] = byte(TypeStart)
	_, err = Parse(bad)
	require.ErrorIs(t, err, ErrMalformedHeader)

	// data fragment claiming sequence 0
	bad = (&Fragment{Type: TypeData, SequenceNumber: 1, Payload: []byte{1}}).Marshal()
	bad[1] = 0
	bad[2] = 0
	_, err = Parse(bad)
	require.ErrorIs(t, err, ErrMalformedHeader)

	// declared size smaller than the first fragment's payload
	bad = (&Fragment{
		Type:      TypeStart,
		TotalSize: 2,
		Payload:   []byte{1, 2, 3, 4},
	}).Marshal()
	_, err = Parse(bad)
	require.ErrorIs(t, err, ErrMalformedHeader)

	// extra data length running past the buffer
	short := (&Fragment{
		Type:      TypeStart,
		TotalSize: 10,
		ExtraData: []byte{1, 2, 3, 4},
		Payload:   bytes.Repeat([]byte{0}, 10),
	}).Marshal()
	_, err = Parse(short[:startHeaderSize+2])
	require.ErrorIs(t, err, ErrShortHeader)
}

func TestFromRTP(t *testing.T) {
	frag := &Fragment{
		Type:           TypeData,
		SequenceNumber: 9,
		Payload:        []byte("rtp carried"),
	}
	p := &rtp.Packet{
		Header:  rtp.Header{SequenceNumber: 1000},
		Payload: frag.Marshal(),
	}

	f, err := FromRTP(p)
	require.NoError(t, err)
	require.EqualValues(t, 9, f.SequenceNumber)
	require.Equal(t, frag.Payload, f.Payload)
}

func TestPacketize(t *testing.T) {
	payload := make([]byte, 2500)
	for i := range payload {
		payload[i] = byte(i)
	}

	frags, err := Packetize(payload, 7, 42, nil, 1000)
	require.NoError(t, err)
	require.Len(t, frags, 3)

	require.Equal(t, TypeStart, frags[0].Type)
	require.EqualValues(t, 2500, frags[0].TotalSize)
	require.EqualValues(t, 42, frags[0].Tag)

	var got []byte
	total := 0
	for i, f := range frags {
		require.EqualValues(t, i, f.SequenceNumber)
		require.EqualValues(t, 7, f.PayloadNum)
		got = append(got, f.Payload...)
		total += len(f.Payload)
	}
	require.Equal(t, 2500, total)
	require.Equal(t, payload, got)

	_, err = Packetize(payload, 0, 0, nil, 0)
	require.Error(t, err)
	_, err = Packetize(nil, 0, 0, nil, 1000)
	require.Error(t, err)
}

func TestScatterList(t *testing.T) {
	var s ScatterList
	s.Append([]byte("abc"))
	s.Append([]byte("def"))
	require.Equal(t, 6, s.TotalSize())

	s.Prepend([]byte("xy"))
	require.Equal(t, 8, s.TotalSize())
	require.Equal(t, []byte("xyabcdef"), s.Gather())

	var tail ScatterList
	tail.Append([]byte("ghi"))
	s.Splice(&tail)
	require.Equal(t, 11, s.TotalSize())
	require.Equal(t, []byte("xyabcdefghi"), s.Gather())
	require.Equal(t, 0, tail.TotalSize())
	require.Empty(t, tail.Entries())
}
