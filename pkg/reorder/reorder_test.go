package reorder

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/livekit/mediarx/pkg/packet"
)

func testFragments(t *testing.T, size, mtu int, tag uint64) ([]*packet.Fragment, []byte) {
	t.Helper()
	payload := make([]byte, size)
	for i := range payload {
		payload[i] = byte(i * 7)
	}
	frags, err := packet.Packetize(payload, 1, tag, nil, mtu)
	require.NoError(t, err)
	return frags, payload
}

func newTestAssembler(runs int) *Assembler {
	return NewAssembler(NewRunPool(runs, 0, 0))
}

func TestShippedReorderSequence(t *testing.T) {
	// mirrors the arrival order exercised by the original transport's unit test
	order := []int{2, 0, 1, 6, 7, 4, 3, 5, 8, 10, 12, 11, 9, 15, 14, 13}
	frags, payload := testFragments(t, 16*100, 100, 99)
	require.Len(t, frags, len(order))

	a := newTestAssembler(8)
	var done *Completed
	for i, idx := range order {
		var err error
		done, err = a.Push(frags[idx])
		require.NoError(t, err)
		if i < len(order)-1 {
			require.Nil(t, done, "completed early at insert %d", i)
		}
	}

	require.NotNil(t, done)
	require.Equal(t, payload, done.SGL.Gather())
	require.Equal(t, len(payload), done.SGL.TotalSize())
	require.EqualValues(t, 99, done.Tag)

	// no dangling lists once the payload is complete
	require.Equal(t, 0, a.OpenRuns())
}

func TestRandomPermutations(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for iter := 0; iter < 50; iter++ {
		frags, payload := testFragments(t, 32*64, 64, uint64(iter))
		rng.Shuffle(len(frags), func(i, j int) {
			frags[i], frags[j] = frags[j], frags[i]
		})

		a := newTestAssembler(len(frags))
		var done *Completed
		for _, f := range frags {
			var err error
			done, err = a.Push(f)
			require.NoError(t, err)
		}
		require.NotNil(t, done, "iteration %d", iter)
		require.Equal(t, payload, done.SGL.Gather())
		require.Equal(t, 0, a.OpenRuns())
	}
}

func TestDuplicateFragmentIdempotent(t *testing.T) {
	frags, _ := testFragments(t, 8*50, 50, 0)

	a := newTestAssembler(8)
	_, err := a.Push(frags[2])
	require.NoError(t, err)
	_, err = a.Push(frags[5])
	require.NoError(t, err)

	runs := a.OpenRuns()
	bytes := a.BytesReceived()

	// same sequence number again leaves the run list unchanged
	_, err = a.Push(frags[2])
	require.NoError(t, err)
	require.Equal(t, runs, a.OpenRuns())
	require.Equal(t, bytes, a.BytesReceived())
}

func TestBridgingReducesRunCount(t *testing.T) {
	frags, _ := testFragments(t, 8*50, 50, 0)

	a := newTestAssembler(8)
	_, err := a.Push(frags[1])
	require.NoError(t, err)
	_, err = a.Push(frags[3])
	require.NoError(t, err)
	require.Equal(t, 2, a.OpenRuns())

	// fragment 2 fills the gap exactly: two runs become one
	_, err = a.Push(frags[2])
	require.NoError(t, err)
	require.Equal(t, 1, a.OpenRuns())
}

func TestWraparoundAdjacency(t *testing.T) {
	a := newTestAssembler(8)

	_, err := a.Push(&packet.Fragment{
		Type:           packet.TypeData,
		SequenceNumber: math.MaxUint16,
		Payload:        []byte("tail"),
	})
	require.NoError(t, err)

	// sequence 0 after M-1 is adjacent, not a large forward gap
	_, err = a.Push(&packet.Fragment{
		Type:      packet.TypeStart,
		TotalSize: 1 << 20,
		Payload:   []byte("head"),
	})
	require.NoError(t, err)
	require.Equal(t, 1, a.OpenRuns())
}

func TestPoolExhaustion(t *testing.T) {
	a := newTestAssembler(1)

	_, err := a.Push(&packet.Fragment{
		Type:           packet.TypeData,
		SequenceNumber: 1,
		Payload:        []byte("a"),
	})
	require.NoError(t, err)

	// non-adjacent fragment needs a second run node
	_, err = a.Push(&packet.Fragment{
		Type:           packet.TypeData,
		SequenceNumber: 3,
		Payload:        []byte("b"),
	})
	require.ErrorIs(t, err, ErrPoolExhausted)

	// the abandoned payload's state is released
	require.Equal(t, 0, a.OpenRuns())
	require.Equal(t, 0, a.BytesReceived())
}

func TestBackToBackPayloads(t *testing.T) {
	a := newTestAssembler(8)

	for i := 0; i < 3; i++ {
		frags, payload := testFragments(t, 4*25, 25, uint64(i))
		var done *Completed
		for _, f := range frags {
			var err error
			done, err = a.Push(f)
			require.NoError(t, err)
		}
		require.NotNil(t, done)
		require.Equal(t, payload, done.SGL.Gather())
		require.EqualValues(t, i, done.Tag)
	}
}

func TestMalformedStartFragment(t *testing.T) {
	a := newTestAssembler(8)

	_, err := a.Push(&packet.Fragment{
		Type:      packet.TypeStart,
		TotalSize: 2,
		Payload:   []byte("too long for declared size"),
	})
	require.Error(t, err)
	require.Equal(t, 0, a.OpenRuns())
}
