// Package reorder merges out-of-order payload fragments into ordered runs and
// detects payload completion.
//
// An Assembler maintains a doubly-linked list of runs, each a maximal
// contiguous range of fragments already received for the in-flight payload.
// Runs are ordered by sequence number, never overlap, and are never left
// directly adjoining: a fragment that lands next to a run widens it, and a
// fragment that fills the gap between two runs bridges them into one. When the
// list collapses to a single run spanning the payload's declared size, the
// payload is complete and its scatter list is handed off.
//
// Run nodes come from a bounded pool so the network-receive path performs no
// general-purpose allocation.
package reorder

import (
	"errors"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/livekit/protocol/logger"

	"github.com/livekit/mediarx/pkg/packet"
	"github.com/livekit/mediarx/pkg/pool"
	"github.com/livekit/mediarx/pkg/sequence"
)

var ErrPoolExhausted = errors.New("run pool exhausted")

// A run is a maximal contiguous range of merged fragments, bounded by
// top and bot sequence numbers inclusive.
type run struct {
	top, bot   uint16
	sgl        packet.ScatterList
	prev, next *run
}

// A RunPool supplies run nodes. One pool may back the assemblers of every
// stream on a connection; it is safe for concurrent use.
type RunPool struct {
	p *pool.Pool[*run]
}

func NewRunPool(capacity, growCapacity, maxGrowSteps int, opts ...pool.Option) *RunPool {
	if growCapacity > 0 {
		opts = append(opts, pool.WithGrowth(growCapacity, maxGrowSteps))
	}
	return &RunPool{
		p: pool.New("rx reorder runs", capacity, func() *run { return &run{} }, opts...),
	}
}

func (rp *RunPool) Stats() pool.Stats {
	return rp.p.Stats()
}

// Completed is a fully reassembled payload: the ordered scatter list of its
// bytes plus the metadata carried by its start fragment. Ownership of the
// referenced buffers transfers to the consumer.
type Completed struct {
	SGL        packet.ScatterList
	Tag        uint64
	ExtraData  []byte
	PayloadNum uint8
}

// An Assembler reassembles one in-flight payload. It is owned by a single
// goroutine; only the run pool behind it is shared.
type Assembler struct {
	pool   *RunPool
	space  sequence.Space
	logger logger.Logger

	head          *run
	openRuns      int
	bytesReceived int
	declaredSize  int // -1 until the start fragment arrives
	tag           uint64
	extraData     []byte
	payloadNum    uint8
}

type Option func(*Assembler)

func WithLogger(l logger.Logger) Option {
	return func(a *Assembler) {
		a.logger = l
	}
}

func NewAssembler(runPool *RunPool, opts ...Option) *Assembler {
	a := &Assembler{
		pool:         runPool,
		space:        sequence.Packet16,
		logger:       logger.LogRLogger(logr.Discard()),
		declaredSize: -1,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Push merges one fragment into the in-flight payload. It returns a non-nil
// Completed when the payload's run list has collapsed to a single run spanning
// the declared total size; the assembler is then reset for the next payload.
// A duplicate fragment is discarded with no state change. On run pool
// exhaustion the payload cannot be completed: its partial state is released
// and an error returned, leaving the caller to apply its drop policy.
func (a *Assembler) Push(f *packet.Fragment) (*Completed, error) {
	seq := f.SequenceNumber

	if a.head != nil && a.covered(seq) {
		a.logger.Debugw("duplicate fragment discarded", "sequenceNumber", seq)
		return nil, nil
	}

	if err := a.insert(f); err != nil {
		a.Reset()
		return nil, err
	}
	a.bytesReceived += len(f.Payload)

	if f.Type == packet.TypeStart {
		if int(f.TotalSize) < len(f.Payload) {
			a.Reset()
			return nil, fmt.Errorf("start fragment declares %d bytes, carries %d", f.TotalSize, len(f.Payload))
		}
		a.declaredSize = int(f.TotalSize)
		a.tag = f.Tag
		a.extraData = f.ExtraData
		a.payloadNum = f.PayloadNum
	}

	return a.complete(), nil
}

// covered reports whether seq falls inside an existing run.
func (a *Assembler) covered(seq uint16) bool {
	for r := a.head; r != nil; r = r.next {
		if !a.space.Less(uint64(seq), uint64(r.top)) && !a.space.Less(uint64(r.bot), uint64(seq)) {
			return true
		}
	}
	return false
}

func (a *Assembler) insert(f *packet.Fragment) error {
	seq := f.SequenceNumber

	// locate the first run at or after seq; the open-run count is bounded by
	// reordering depth, so a linear scan stays short
	var prev *run
	cur := a.head
	for cur != nil && a.space.Less(uint64(cur.bot), uint64(seq)) {
		prev, cur = cur, cur.next
	}

	switch {
	case prev != nil && a.space.Adjacent(uint64(prev.bot), uint64(seq)):
		prev.sgl.Append(f.Payload)
		prev.bot = seq
		a.coalesce(prev)

	case cur != nil && a.space.Adjacent(uint64(seq), uint64(cur.top)):
		cur.sgl.Prepend(f.Payload)
		cur.top = seq
		a.coalesce(cur)

	default:
		r, ok := a.pool.p.Get()
		if !ok {
			return fmt.Errorf("%w: inserting sequence %d", ErrPoolExhausted, seq)
		}
		r.top = seq
		r.bot = seq
		r.sgl.Reset()
		r.sgl.Append(f.Payload)
		r.prev = prev
		r.next = cur
		if prev != nil {
			prev.next = r
		} else {
			a.head = r
		}
		if cur != nil {
			cur.prev = r
		}
		a.openRuns++
	}
	return nil
}

// coalesce merges r with every immediately adjacent neighbor, repeatedly,
// until no more merges apply. Each merge strictly decreases the open-run
// count by one.
func (a *Assembler) coalesce(r *run) {
	for r.prev != nil && a.space.Adjacent(uint64(r.prev.bot), uint64(r.top)) {
		r = r.prev
		a.absorbNext(r)
	}
	for r.next != nil && a.space.Adjacent(uint64(r.bot), uint64(r.next.top)) {
		a.absorbNext(r)
	}
}

// absorbNext splices r.next's scatter list onto r and releases the emptied
// node back to the pool.
func (a *Assembler) absorbNext(r *run) {
	next := r.next
	r.sgl.Splice(&next.sgl)
	r.bot = next.bot
	r.next = next.next
	if next.next != nil {
		next.next.prev = r
	}
	a.logger.Debugw("bridged runs",
		"top", r.top,
		"bot", r.bot,
	)
	a.release(next)
}

func (a *Assembler) release(r *run) {
	r.prev = nil
	r.next = nil
	r.sgl.Reset()
	a.pool.p.Put(r)
	a.openRuns--
}

func (a *Assembler) complete() *Completed {
	if a.declaredSize < 0 || a.openRuns != 1 || a.head.top != 0 {
		return nil
	}
	if a.head.sgl.TotalSize() != a.declaredSize {
		return nil
	}

	done := &Completed{
		SGL:        a.head.sgl,
		Tag:        a.tag,
		ExtraData:  a.extraData,
		PayloadNum: a.payloadNum,
	}
	a.head.sgl = packet.ScatterList{}
	a.release(a.head)
	a.head = nil
	a.resetMeta()
	return done
}

// Reset abandons the in-flight payload, returning all run nodes to the pool.
func (a *Assembler) Reset() {
	for r := a.head; r != nil; {
		next := r.next
		a.release(r)
		r = next
	}
	a.head = nil
	a.resetMeta()
}

func (a *Assembler) resetMeta() {
	a.bytesReceived = 0
	a.declaredSize = -1
	a.tag = 0
	a.extraData = nil
	a.payloadNum = 0
}

// OpenRuns returns the number of runs currently open for the in-flight
// payload.
func (a *Assembler) OpenRuns() int {
	return a.openRuns
}

// BytesReceived returns the payload bytes accumulated so far.
func (a *Assembler) BytesReceived() int {
	return a.bytesReceived
}

// DeclaredSize returns the payload's declared total size, or -1 if the start
// fragment has not arrived yet.
func (a *Assembler) DeclaredSize() int {
	return a.declaredSize
}
