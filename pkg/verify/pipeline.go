package verify

import (
	"context"
	"errors"
	"time"

	"github.com/go-logr/logr"
	"github.com/livekit/protocol/logger"

	"github.com/livekit/mediarx/pkg/fifo"
	"github.com/livekit/mediarx/pkg/packet"
)

// A Slot carries one completed payload through the transfer queue. The
// consumer owns the referenced buffers from receipt until it calls Release,
// exactly once.
type Slot struct {
	Stream  int
	SGL     packet.ScatterList
	Release func()
}

// Pipeline drains completed payloads from the transfer queue and feeds each
// stream's checker. A failed stream keeps draining so the producer never
// deadlocks on a full queue.
type Pipeline struct {
	queue    *fifo.Queue[Slot]
	checkers []*Checker
	logger   logger.Logger
}

type PipelineOption func(*Pipeline)

func WithPipelineLogger(l logger.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = l
	}
}

func NewPipeline(queue *fifo.Queue[Slot], checkers []*Checker, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		queue:    queue,
		checkers: checkers,
		logger:   logger.LogRLogger(logr.Discard()),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run consumes payloads until ctx is cancelled. It is the only blocking point
// of the verification goroutine.
func (p *Pipeline) Run(ctx context.Context) {
	for {
		slot, err := p.queue.Read(ctx, 0)
		if err != nil {
			if errors.Is(err, fifo.ErrCancelled) {
				return
			}
			p.logger.Errorw("transfer queue read failed", err)
			return
		}
		p.handle(slot)
	}
}

// RunFor consumes payloads until ctx is cancelled or the queue stays empty
// for idle. Used by drivers that know the producer has finished.
func (p *Pipeline) RunFor(ctx context.Context, idle time.Duration) {
	for {
		slot, err := p.queue.Read(ctx, idle)
		if err != nil {
			return
		}
		p.handle(slot)
	}
}

func (p *Pipeline) handle(slot Slot) {
	if slot.Stream < 0 || slot.Stream >= len(p.checkers) {
		p.logger.Errorw("payload for unknown stream", nil, "stream", slot.Stream)
	} else {
		p.checkers[slot.Stream].Check(&slot.SGL)
	}
	if slot.Release != nil {
		slot.Release()
	}
}

// Checker returns the checker for one stream.
func (p *Pipeline) Checker(stream int) *Checker {
	return p.checkers[stream]
}
