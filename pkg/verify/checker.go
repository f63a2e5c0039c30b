// Package verify consumes reassembled payloads and checks their content
// against a precomputed expected pattern, tolerating dropped payloads without
// false failures: a content mismatch whose embedded payload counter is within
// a bounded modular distance of the expected one is classified as loss and the
// expected counter resynchronized; anything further away is a genuine
// corruption and fails the stream.
package verify

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-logr/logr"
	"github.com/livekit/protocol/logger"
	"go.uber.org/atomic"

	"github.com/livekit/mediarx/pkg/packet"
	"github.com/livekit/mediarx/pkg/sequence"
)

// Status classifies the outcome of checking one payload.
type Status int

const (
	StatusOK Status = iota
	// StatusNonFatal counts as an error but the stream keeps running.
	StatusNonFatal
	// StatusFatal permanently fails the stream.
	StatusFatal
)

var (
	ErrPayloadTooLarge = errors.New("payload larger than expected buffer")
	ErrContentMismatch = errors.New("payload content mismatch beyond drop tolerance")
)

// A Checker verifies payloads of one stream. It is driven by the verification
// goroutine only; its counters may be read from any goroutine.
type Checker struct {
	streamID  uint8
	expected  []byte
	space     sequence.Space
	tolerance uint64
	counter   uint64

	// declared size of the next payload; defaults to the buffer size and may
	// be driven per payload by a container reader
	payloadSize int
	nextSize    func() (int, error)

	sink   io.Writer
	logger logger.Logger

	payloads atomic.Uint64
	errCount atomic.Uint64

	failed       atomic.Bool
	firstFailure atomic.Error
}

type CheckerOption func(*Checker)

// WithTolerance sets the maximum modular counter distance still attributed to
// dropped payloads rather than corruption.
func WithTolerance(n uint64) CheckerOption {
	return func(c *Checker) {
		c.tolerance = n
	}
}

// WithSink mirrors every checked payload's bytes to w. Sink failures are
// recorded as non-fatal; content checking proceeds regardless.
func WithSink(w io.Writer) CheckerOption {
	return func(c *Checker) {
		c.sink = w
	}
}

// WithStartCounter sets the first expected payload counter.
func WithStartCounter(counter uint64) CheckerOption {
	return func(c *Checker) {
		c.counter = counter & tagCounterMask
	}
}

// WithPayloadSizeProvider supplies the declared size of each next payload,
// e.g. from container chunk headers.
func WithPayloadSizeProvider(f func() (int, error)) CheckerOption {
	return func(c *Checker) {
		c.nextSize = f
	}
}

func WithCheckerLogger(l logger.Logger) CheckerOption {
	return func(c *Checker) {
		c.logger = l
	}
}

// NewChecker precomputes the expected pattern buffer for one stream.
// bufferSize bounds the largest acceptable payload.
func NewChecker(streamID uint8, bufferSize int, pattern Pattern, seed uint64, opts ...CheckerOption) (*Checker, error) {
	c := &Checker{
		streamID:    streamID,
		space:       sequence.Payload56,
		payloadSize: bufferSize,
		logger:      logger.LogRLogger(logr.Discard()),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.expected = make([]byte, bufferSize)
	if err := Fill(c.expected, seed, pattern); err != nil {
		return nil, err
	}
	c.stampTag()

	if c.nextSize != nil {
		size, err := c.nextSize()
		if err != nil {
			return nil, fmt.Errorf("first payload size: %w", err)
		}
		c.payloadSize = size
	}
	return c, nil
}

func (c *Checker) stampTag() {
	binary.LittleEndian.PutUint64(c.expected[:patternWordSize], MakeTag(c.streamID, c.counter))
}

// Check verifies one reassembled payload against the expected buffer and
// advances the expected state for the next payload. Once the stream has
// failed, payloads are still counted (the queue must keep draining) but no
// longer checked.
func (c *Checker) Check(sgl *packet.ScatterList) Status {
	c.payloads.Inc()
	if c.failed.Load() {
		return StatusFatal
	}

	status := StatusOK

	if c.sink != nil {
		if err := c.mirror(sgl); err != nil {
			c.logger.Errorw("failed to mirror payload to sink", err, "streamID", c.streamID)
			status = StatusNonFatal
		}
	}

	if sgl.TotalSize() > len(c.expected) {
		err := fmt.Errorf("%w: got %d, expected no more than %d",
			ErrPayloadTooLarge, sgl.TotalSize(), len(c.expected))
		c.logger.Errorw("payload too large", err, "streamID", c.streamID)
		c.fail(err)
		c.errCount.Inc()
		return StatusFatal
	}

	checkData := true
	offset := 0
	for _, entry := range sgl.Entries() {
		if checkData && !bytes.Equal(c.expected[offset:offset+len(entry)], entry) {
			// content is known bad; stop comparing and classify by counter
			// distance instead of failing outright
			checkData = false
			st := c.classifyMismatch(entry, offset)
			if st == StatusFatal {
				c.errCount.Inc()
				return StatusFatal
			}
			status = StatusNonFatal
		}
		offset += len(entry)
	}

	// bytes actually compared must account for the whole declared size
	if offset != c.payloadSize {
		c.logger.Errorw("payload size mismatch", nil,
			"streamID", c.streamID,
			"got", offset,
			"declared", c.payloadSize,
		)
		status = StatusNonFatal
	}

	if status != StatusOK {
		c.errCount.Inc()
	}
	if err := c.advance(); err != nil {
		c.fail(err)
		c.errCount.Inc()
		return StatusFatal
	}
	return status
}

func (c *Checker) mirror(sgl *packet.ScatterList) error {
	for _, entry := range sgl.Entries() {
		if _, err := c.sink.Write(entry); err != nil {
			return err
		}
	}
	return nil
}

// classifyMismatch decides whether a content mismatch looks like one or more
// dropped payloads (received counter a short modular distance ahead of the
// expected one) or genuine corruption.
func (c *Checker) classifyMismatch(entry []byte, offset int) Status {
	if len(entry) < patternWordSize {
		err := fmt.Errorf("%w: mismatch in %d-byte range at offset %d",
			ErrContentMismatch, len(entry), offset)
		c.logger.Errorw("payload data mismatch", err, "streamID", c.streamID)
		c.fail(err)
		return StatusFatal
	}

	received := TagCounter(binary.LittleEndian.Uint64(entry[:patternWordSize]))
	expected := TagCounter(binary.LittleEndian.Uint64(c.expected[offset : offset+patternWordSize]))
	distance := c.space.Distance(expected, received)

	// equal counters mean zero payloads were lost; the mismatch can only be
	// corruption
	if distance == 0 {
		err := fmt.Errorf("%w: corrupted bytes under a matching payload counter", ErrContentMismatch)
		c.logger.Errorw("payload data mismatch", err,
			"streamID", c.streamID,
			"counter", received,
		)
		c.fail(err)
		return StatusFatal
	}

	if distance > c.tolerance {
		err := fmt.Errorf("%w: counter distance %d exceeds tolerance %d",
			ErrContentMismatch, distance, c.tolerance)
		c.logger.Errorw("payload data mismatch", err,
			"streamID", c.streamID,
			"received", received,
			"expected", expected,
		)
		c.fail(err)
		return StatusFatal
	}

	c.logger.Infow("unexpected payload counter, assuming payload drop and resynchronizing",
		"streamID", c.streamID,
		"received", received,
		"expected", expected,
		"distance", distance,
	)
	c.counter = received
	return StatusNonFatal
}

// advance moves the expected state to the next payload: refresh the declared
// size when a provider is configured, then step the counter and restamp the
// tag word.
func (c *Checker) advance() error {
	if c.nextSize != nil {
		size, err := c.nextSize()
		if err != nil {
			return fmt.Errorf("next payload size: %w", err)
		}
		if size > len(c.expected) {
			return fmt.Errorf("%w: next declared size %d", ErrPayloadTooLarge, size)
		}
		c.payloadSize = size
	}
	c.counter = c.space.Next(c.counter)
	c.stampTag()
	return nil
}

// fail records the first fatal cause, then raises the failed flag, so any
// goroutine observing the flag also sees the cause.
func (c *Checker) fail(err error) {
	if c.firstFailure.CompareAndSwap(nil, err) {
		c.failed.Store(true)
	}
}

// Fail marks the stream failed from outside the checking path, e.g. on a
// queue write failure not attributable to cancellation.
func (c *Checker) Fail(err error) {
	c.fail(err)
}

// Passed reports whether the stream has seen no fatal failure.
func (c *Checker) Passed() bool {
	return !c.failed.Load()
}

// FirstFailure returns the first fatal cause, or nil.
func (c *Checker) FirstFailure() error {
	return c.firstFailure.Load()
}

// ErrorCount returns the number of payloads counted in error, fatal or not.
func (c *Checker) ErrorCount() uint64 {
	return c.errCount.Load()
}

// PayloadCount returns the number of payloads received, checked or drained.
func (c *Checker) PayloadCount() uint64 {
	return c.payloads.Load()
}

// ExpectedCounter returns the counter the next payload is checked against.
func (c *Checker) ExpectedCounter() uint64 {
	return c.counter
}
