// Package riff reads and writes the chunked container format used to source
// and sink payload bytes. A file opens with a 12-byte header (ASCII "RIFF"
// tag, little-endian total size back-filled on close, ASCII form type); each
// chunk has an 8-byte header (ASCII tag, little-endian size) followed by that
// many payload bytes. Chunk sizes drive the declared size of each payload to
// reassemble and verify.
package riff

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	audioriff "github.com/go-audio/riff"
	"github.com/gobwas/pool/pbytes"
)

const (
	// FormType identifies container files produced by this transport.
	FormType = "CDI "
	// ChunkAncillary tags ancillary data payload chunks.
	ChunkAncillary = "ANC "

	fileHeaderSize  = 12
	chunkHeaderSize = 8
)

var ErrBadFourCC = errors.New("four-character code must be 4 bytes")

// A Chunk is one container payload. Data is drawn from a shared buffer pool;
// call Release exactly once when done with it.
type Chunk struct {
	ID   string
	Data []byte
}

func (c *Chunk) Release() {
	if c.Data != nil {
		pbytes.Put(c.Data)
		c.Data = nil
	}
}

// Reader iterates the chunks of a container file.
type Reader struct {
	parser *audioriff.Parser
}

func NewReader(r io.Reader) (*Reader, error) {
	parser := audioriff.New(r)
	if err := parser.ParseHeaders(); err != nil {
		return nil, fmt.Errorf("container header: %w", err)
	}
	return &Reader{parser: parser}, nil
}

// FormType returns the file's form type tag, e.g. "CDI ".
func (r *Reader) FormType() string {
	return string(r.parser.Format[:])
}

// Next returns the next chunk, or io.EOF when the file is exhausted.
func (r *Reader) Next() (*Chunk, error) {
	ch, err := r.parser.NextChunk()
	if err != nil {
		return nil, err
	}
	data := pbytes.GetLen(ch.Size)
	if _, err := io.ReadFull(ch, data); err != nil {
		pbytes.Put(data)
		return nil, fmt.Errorf("chunk %q: %w", string(ch.ID[:]), err)
	}
	ch.Done()
	return &Chunk{
		ID:   string(ch.ID[:]),
		Data: data,
	}, nil
}

// Writer produces a container file. The total-size field of the file header
// is back-filled by Close once all chunks are written.
type Writer struct {
	w      io.WriteSeeker
	total  uint32
	closed bool
}

func NewWriter(w io.WriteSeeker, formType string) (*Writer, error) {
	if len(formType) != 4 {
		return nil, ErrBadFourCC
	}

	header := make([]byte, 0, fileHeaderSize)
	header = append(header, "RIFF"...)
	header = binary.LittleEndian.AppendUint32(header, 0) // back-filled on Close
	header = append(header, formType...)
	if _, err := w.Write(header); err != nil {
		return nil, fmt.Errorf("container header: %w", err)
	}

	return &Writer{
		w: w,
		// the form type counts toward the declared file size
		total: 4,
	}, nil
}

// WriteChunk appends one chunk with the given four-character tag.
func (w *Writer) WriteChunk(fourCC string, data []byte) error {
	if len(fourCC) != 4 {
		return ErrBadFourCC
	}

	header := make([]byte, 0, chunkHeaderSize)
	header = append(header, fourCC...)
	header = binary.LittleEndian.AppendUint32(header, uint32(len(data)))
	if _, err := w.w.Write(header); err != nil {
		return fmt.Errorf("chunk header: %w", err)
	}
	if _, err := w.w.Write(data); err != nil {
		return fmt.Errorf("chunk data: %w", err)
	}
	w.total += chunkHeaderSize + uint32(len(data))
	return nil
}

// WriteChunkRanges writes one chunk from scattered byte ranges without
// gathering them first.
func (w *Writer) WriteChunkRanges(fourCC string, ranges [][]byte) error {
	if len(fourCC) != 4 {
		return ErrBadFourCC
	}

	size := 0
	for _, r := range ranges {
		size += len(r)
	}
	header := make([]byte, 0, chunkHeaderSize)
	header = append(header, fourCC...)
	header = binary.LittleEndian.AppendUint32(header, uint32(size))
	if _, err := w.w.Write(header); err != nil {
		return fmt.Errorf("chunk header: %w", err)
	}
	for _, r := range ranges {
		if _, err := w.w.Write(r); err != nil {
			return fmt.Errorf("chunk data: %w", err)
		}
	}
	w.total += chunkHeaderSize + uint32(size)
	return nil
}

// Close back-fills the file's total size. It does not close the underlying
// writer.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if _, err := w.w.Seek(4, io.SeekStart); err != nil {
		return fmt.Errorf("seek to size field: %w", err)
	}
	var size [4]byte
	binary.LittleEndian.PutUint32(size[:], w.total)
	if _, err := w.w.Write(size[:]); err != nil {
		return fmt.Errorf("back-fill size: %w", err)
	}
	if _, err := w.w.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("seek to end: %w", err)
	}
	return nil
}
