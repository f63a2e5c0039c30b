// Package mediarx reassembles payloads from out-of-order network fragments
// and verifies their content. Fragments enter on the caller's network
// goroutine, per-stream assemblers merge them into complete payloads, and a
// bounded transfer queue hands each completed payload to a verification
// goroutine so content checking never stalls the receive path.
package mediarx

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"go.uber.org/atomic"

	"github.com/livekit/mediarx/pkg/fifo"
	"github.com/livekit/mediarx/pkg/packet"
	"github.com/livekit/mediarx/pkg/pool"
	"github.com/livekit/mediarx/pkg/reorder"
	"github.com/livekit/mediarx/pkg/verify"
)

const (
	defaultQueueDepth   = 32
	defaultRunPoolSize  = 64
	defaultWriteTimeout = 2 * time.Second
)

// ReceiverConfig sizes the receive path. Zero values fall back to defaults;
// BufferSize is required.
type ReceiverConfig struct {
	// Streams is the number of independent payload streams.
	Streams int
	// BufferSize bounds the largest acceptable payload in bytes.
	BufferSize int
	// Pattern and Seed define the expected payload content.
	Pattern verify.Pattern
	Seed    uint64
	// Tolerance is the maximum payload counter distance attributed to drops.
	Tolerance uint64
	// QueueDepth bounds payloads completed but not yet verified.
	QueueDepth int
	// RunPoolSize bounds reorder nodes shared across all streams.
	// RunPoolGrow and RunPoolMaxGrowSteps allow bounded growth on exhaustion.
	RunPoolSize         int
	RunPoolGrow         int
	RunPoolMaxGrowSteps int
	// WriteTimeout bounds how long a completed payload may wait for queue
	// space before the stream is failed. Zero applies the default; a negative
	// value blocks until Close.
	WriteTimeout time.Duration
}

type ReceiverOption func(*Receiver)

// WithPayloadRelease recycles payload buffers once verification is done with
// them. Each scatter list entry of a verified payload is passed to f exactly
// once.
func WithPayloadRelease(f func([]byte)) ReceiverOption {
	return func(r *Receiver) {
		r.releasePayload = f
	}
}

// WithStreamSink mirrors every verified payload of one stream to w.
func WithStreamSink(stream int, w io.Writer) ReceiverOption {
	return func(r *Receiver) {
		r.sinks[stream] = w
	}
}

// WithPayloadSizeProvider drives the declared size of each payload of one
// stream, e.g. from container chunk headers.
func WithPayloadSizeProvider(stream int, f func() (int, error)) ReceiverOption {
	return func(r *Receiver) {
		r.sizeProviders[stream] = f
	}
}

// A Receiver owns the full receive path for a set of streams. OnFragment and
// OnRTP are driven by a single network goroutine; verification runs on a
// goroutine owned by the receiver between Start and Close.
type Receiver struct {
	id  string
	cfg ReceiverConfig

	runPool    *reorder.RunPool
	assemblers []*reorder.Assembler
	checkers   []*verify.Checker
	queue      *fifo.Queue[verify.Slot]
	pipeline   *verify.Pipeline

	releasePayload func([]byte)
	sinks          map[int]io.Writer
	sizeProviders  map[int]func() (int, error)

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started atomic.Bool
	closed  atomic.Bool
}

func NewReceiver(cfg ReceiverConfig, opts ...ReceiverOption) (*Receiver, error) {
	if cfg.BufferSize <= 0 {
		return nil, ErrInvalidParameter
	}
	if cfg.Streams <= 0 {
		cfg.Streams = 1
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = defaultQueueDepth
	}
	if cfg.RunPoolSize <= 0 {
		cfg.RunPoolSize = defaultRunPoolSize
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Receiver{
		id:            uuid.NewString(),
		cfg:           cfg,
		sinks:         make(map[int]io.Writer),
		sizeProviders: make(map[int]func() (int, error)),
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.runPool = reorder.NewRunPool(
		cfg.RunPoolSize, cfg.RunPoolGrow, cfg.RunPoolMaxGrowSteps,
		pool.WithLogger(logger),
	)
	r.queue = fifo.New[verify.Slot](cfg.QueueDepth)

	r.assemblers = make([]*reorder.Assembler, cfg.Streams)
	r.checkers = make([]*verify.Checker, cfg.Streams)
	for i := 0; i < cfg.Streams; i++ {
		r.assemblers[i] = reorder.NewAssembler(r.runPool, reorder.WithLogger(logger))

		checkerOpts := []verify.CheckerOption{
			verify.WithTolerance(cfg.Tolerance),
			verify.WithCheckerLogger(logger),
		}
		if w, ok := r.sinks[i]; ok {
			checkerOpts = append(checkerOpts, verify.WithSink(w))
		}
		if f, ok := r.sizeProviders[i]; ok {
			checkerOpts = append(checkerOpts, verify.WithPayloadSizeProvider(f))
		}
		c, err := verify.NewChecker(uint8(i), cfg.BufferSize, cfg.Pattern, cfg.Seed, checkerOpts...)
		if err != nil {
			cancel()
			return nil, err
		}
		r.checkers[i] = c
	}

	r.pipeline = verify.NewPipeline(r.queue, r.checkers, verify.WithPipelineLogger(logger))
	return r, nil
}

func (r *Receiver) ID() string {
	return r.id
}

// Start launches the verification goroutine.
func (r *Receiver) Start() error {
	if r.closed.Load() {
		return ErrReceiverClosed
	}
	if !r.started.CompareAndSwap(false, true) {
		return ErrReceiverStarted
	}
	go func() {
		defer close(r.done)
		r.pipeline.Run(r.ctx)
	}()
	return nil
}

// OnFragment merges one received fragment into its stream. When the fragment
// completes a payload, the payload is handed to the verification queue; a
// full queue applies backpressure up to the configured write timeout. Run
// pool exhaustion drops only the in-flight payload and leaves the stream
// running.
func (r *Receiver) OnFragment(stream int, f *packet.Fragment) error {
	if r.closed.Load() {
		return ErrReceiverClosed
	}
	if stream < 0 || stream >= len(r.assemblers) {
		return ErrStreamOutOfRange
	}

	done, err := r.assemblers[stream].Push(f)
	if err != nil {
		logger.Warnw("dropping in-flight payload", err, "receiverID", r.id, "stream", stream)
		return err
	}
	if done == nil {
		return nil
	}

	slot := verify.Slot{
		Stream:  stream,
		SGL:     done.SGL,
		Release: r.newRelease(&done.SGL),
	}
	if err = r.queue.Write(r.ctx, slot, r.cfg.WriteTimeout); err != nil {
		if slot.Release != nil {
			slot.Release()
		}
		if errors.Is(err, fifo.ErrCancelled) {
			return ErrReceiverClosed
		}
		// the consumer is not keeping up; the stream can no longer pass
		r.checkers[stream].Fail(err)
		logger.Errorw("transfer queue write failed", err, "receiverID", r.id, "stream", stream)
		return err
	}
	return nil
}

// OnRTP parses a fragment from an RTP packet's payload and merges it.
func (r *Receiver) OnRTP(stream int, p *rtp.Packet) error {
	f, err := packet.FromRTP(p)
	if err != nil {
		return err
	}
	return r.OnFragment(stream, f)
}

func (r *Receiver) newRelease(sgl *packet.ScatterList) func() {
	if r.releasePayload == nil {
		return nil
	}
	entries := sgl.Entries()
	return func() {
		for _, e := range entries {
			r.releasePayload(e)
		}
	}
}

// Close stops the verification goroutine, releases payloads still queued, and
// abandons in-flight reassembly state. Safe to call once.
func (r *Receiver) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return ErrReceiverClosed
	}
	r.cancel()
	if r.started.Load() {
		<-r.done
	}

	flushed := r.queue.FlushFunc(func(slot verify.Slot) {
		if slot.Release != nil {
			slot.Release()
		}
	})
	if flushed > 0 {
		logger.Infow("released unverified payloads on close", "receiverID", r.id, "count", flushed)
	}

	for _, a := range r.assemblers {
		a.Reset()
	}
	return nil
}

// A StreamResult summarizes one stream's verification outcome.
type StreamResult struct {
	Stream   int
	Passed   bool
	Payloads uint64
	Errors   uint64
	Failure  error
}

func (r *Receiver) Result(stream int) (StreamResult, error) {
	if stream < 0 || stream >= len(r.checkers) {
		return StreamResult{}, ErrStreamOutOfRange
	}
	c := r.checkers[stream]
	return StreamResult{
		Stream:   stream,
		Passed:   c.Passed(),
		Payloads: c.PayloadCount(),
		Errors:   c.ErrorCount(),
		Failure:  c.FirstFailure(),
	}, nil
}

func (r *Receiver) Results() []StreamResult {
	results := make([]StreamResult, len(r.checkers))
	for i := range r.checkers {
		results[i], _ = r.Result(i)
	}
	return results
}

// RunPoolStats reports usage of the shared reorder node pool.
func (r *Receiver) RunPoolStats() pool.Stats {
	return r.runPool.Stats()
}

// QueueStats reports transfer queue throughput.
func (r *Receiver) QueueStats() fifo.Stats {
	return r.queue.Stats()
}
