package riff

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payloads.cdi")
	f, err := os.Create(path)
	require.NoError(t, err)

	w, err := NewWriter(f, FormType)
	require.NoError(t, err)

	payloads := [][]byte{
		bytes.Repeat([]byte{0x11}, 64),
		bytes.Repeat([]byte{0x22}, 128),
		bytes.Repeat([]byte{0x33}, 32),
	}
	require.NoError(t, w.WriteChunk(ChunkAncillary, payloads[0]))
	require.NoError(t, w.WriteChunk(ChunkAncillary, payloads[1]))
	require.NoError(t, w.WriteChunkRanges(ChunkAncillary, [][]byte{payloads[2][:16], payloads[2][16:]}))
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	f, err = os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	r, err := NewReader(f)
	require.NoError(t, err)
	require.Equal(t, FormType, r.FormType())

	for _, want := range payloads {
		ch, err := r.Next()
		require.NoError(t, err)
		require.Equal(t, ChunkAncillary, ch.ID)
		require.Equal(t, want, ch.Data)
		ch.Release()
	}

	_, err = r.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestHeaderLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layout.cdi")
	f, err := os.Create(path)
	require.NoError(t, err)

	w, err := NewWriter(f, FormType)
	require.NoError(t, err)
	payload := bytes.Repeat([]byte{0xAB}, 16)
	require.NoError(t, w.WriteChunk(ChunkAncillary, payload))
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, raw, 12+8+16)

	require.Equal(t, "RIFF", string(raw[0:4]))
	// total size covers the form type plus each chunk header and body
	require.EqualValues(t, 4+8+16, binary.LittleEndian.Uint32(raw[4:8]))
	require.Equal(t, FormType, string(raw[8:12]))
	require.Equal(t, ChunkAncillary, string(raw[12:16]))
	require.EqualValues(t, 16, binary.LittleEndian.Uint32(raw[16:20]))
	require.Equal(t, payload, raw[20:])
}

func TestBadFourCC(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.cdi")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	_, err = NewWriter(f, "TOOLONG")
	require.ErrorIs(t, err, ErrBadFourCC)

	w, err := NewWriter(f, FormType)
	require.NoError(t, err)
	require.ErrorIs(t, w.WriteChunk("AN", nil), ErrBadFourCC)
}
