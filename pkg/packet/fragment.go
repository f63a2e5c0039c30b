// Package packet defines the wire format of payload fragments and the scatter
// list used to describe reassembled payload bytes without copying them into
// contiguous storage.
//
// Every fragment begins with a 4-byte common header: type, wrapping 16-bit
// sequence number, and payload number. The first fragment of a payload
// (sequence number 0) carries an extended header with the payload's declared
// total size, a 64-bit user tag, and optional extra header data. All integer
// fields are little-endian.
package packet

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pion/rtp"
)

type Type uint8

const (
	// TypeData is a fragment carrying payload bytes only.
	TypeData Type = iota
	// TypeStart is the first fragment of a payload, carrying its metadata.
	TypeStart
)

const (
	commonHeaderSize = 4
	startHeaderSize  = commonHeaderSize + 4 + 8 + 2
)

var (
	ErrShortHeader     = errors.New("fragment shorter than its header")
	ErrMalformedHeader = errors.New("malformed fragment header")
)

// A Fragment is an immutable view of one received network unit. Payload holds
// the bytes after the protocol header; it aliases the receive buffer rather
// than copying it.
type Fragment struct {
	Type           Type
	SequenceNumber uint16
	PayloadNum     uint8

	// Set on TypeStart fragments only.
	TotalSize uint32
	Tag       uint64
	ExtraData []byte

	Payload []byte
}

// HeaderSize returns the number of wire bytes occupied by the fragment's
// header, including extra data on a start fragment.
func (f *Fragment) HeaderSize() int {
	if f.Type == TypeStart {
		return startHeaderSize + len(f.ExtraData)
	}
	return commonHeaderSize
}

// Marshal encodes the fragment header followed by its payload bytes.
func (f *Fragment) Marshal() []byte {
	b := make([]byte, 0, f.HeaderSize()+len(f.Payload))
	b = append(b, byte(f.Type))
	b = binary.LittleEndian.AppendUint16(b, f.SequenceNumber)
	b = append(b, f.PayloadNum)
	if f.Type == TypeStart {
		b = binary.LittleEndian.AppendUint32(b, f.TotalSize)
		b = binary.LittleEndian.AppendUint64(b, f.Tag)
		b = binary.LittleEndian.AppendUint16(b, uint16(len(f.ExtraData)))
		b = append(b, f.ExtraData...)
	}
	return append(b, f.Payload...)
}

// Parse decodes one fragment from a received datagram. The returned fragment
// aliases b.
func Parse(b []byte) (*Fragment, error) {
	if len(b) < commonHeaderSize {
		return nil, ErrShortHeader
	}
	f := &Fragment{
		Type:           Type(b[0]),
		SequenceNumber: binary.LittleEndian.Uint16(b[1:3]),
		PayloadNum:     b[3],
	}
	switch f.Type {
	case TypeData:
		if f.SequenceNumber == 0 {
			return nil, fmt.Errorf("%w: sequence 0 must carry payload metadata", ErrMalformedHeader)
		}
		f.Payload = b[commonHeaderSize:]

	case TypeStart:
		if f.SequenceNumber != 0 {
			return nil, fmt.Errorf("%w: start fragment has sequence %d", ErrMalformedHeader, f.SequenceNumber)
		}
		if len(b) < startHeaderSize {
			return nil, ErrShortHeader
		}
		f.TotalSize = binary.LittleEndian.Uint32(b[4:8])
		f.Tag = binary.LittleEndian.Uint64(b[8:16])
		extraSize := int(binary.LittleEndian.Uint16(b[16:18]))
		if len(b) < startHeaderSize+extraSize {
			return nil, ErrShortHeader
		}
		f.ExtraData = b[startHeaderSize : startHeaderSize+extraSize]
		f.Payload = b[startHeaderSize+extraSize:]
		if int(f.TotalSize) < len(f.Payload) {
			return nil, fmt.Errorf("%w: declared size %d smaller than first fragment payload %d",
				ErrMalformedHeader, f.TotalSize, len(f.Payload))
		}

	default:
		return nil, fmt.Errorf("%w: unknown type %d", ErrMalformedHeader, f.Type)
	}
	return f, nil
}

// FromRTP decodes a fragment whose header rides inside an RTP payload.
func FromRTP(p *rtp.Packet) (*Fragment, error) {
	return Parse(p.Payload)
}
