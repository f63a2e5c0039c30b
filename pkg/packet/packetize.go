package packet

import "fmt"

// Packetize splits payload into fragments of at most mtu payload bytes each.
// The first fragment carries the payload metadata (declared total size, tag,
// extra data); sequence numbers start at 0 and increment per fragment.
// The returned fragments alias payload.
func Packetize(payload []byte, payloadNum uint8, tag uint64, extraData []byte, mtu int) ([]*Fragment, error) {
	if mtu <= 0 {
		return nil, fmt.Errorf("invalid mtu %d", mtu)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty payload")
	}

	count := (len(payload) + mtu - 1) / mtu
	if count > 1<<16 {
		return nil, fmt.Errorf("payload of %d bytes needs %d fragments, sequence space holds %d",
			len(payload), count, 1<<16)
	}

	frags := make([]*Fragment, 0, count)
	seq := uint16(0)
	for off := 0; off < len(payload); off += mtu {
		end := off + mtu
		if end > len(payload) {
			end = len(payload)
		}
		f := &Fragment{
			Type:           TypeData,
			SequenceNumber: seq,
			PayloadNum:     payloadNum,
			Payload:        payload[off:end],
		}
		if seq == 0 {
			f.Type = TypeStart
			f.TotalSize = uint32(len(payload))
			f.Tag = tag
			f.ExtraData = extraData
		}
		frags = append(frags, f)
		seq++
	}
	return frags, nil
}
