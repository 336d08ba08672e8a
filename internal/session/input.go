package session

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/MrWong99/wicara/internal/observe"
	"github.com/MrWong99/wicara/pkg/audio"
	"github.com/MrWong99/wicara/pkg/provider/live"
)

// Drop reasons reported on wicara.audio.frames.dropped.
const (
	dropNotReady  = "not_ready"
	dropQueueFull = "queue_full"
	dropEncode    = "encode"
)

// inputPipeline turns captured windows into transport frames and hands them to
// the stream in capture order.
//
// capture runs on the device's capture goroutine and never blocks: a frame
// that cannot be queued immediately is dropped. A single sender goroutine
// drains the queue into [live.Stream.Send], so a slow network stalls the queue
// and not the microphone.
type inputPipeline struct {
	stream  live.Stream
	queue   chan audio.TransportFrame
	metrics *observe.Metrics
	log     *slog.Logger

	ready   atomic.Bool
	sent    atomic.Int64
	dropped atomic.Int64
}

func newInputPipeline(stream live.Stream, depth int, m *observe.Metrics, log *slog.Logger) *inputPipeline {
	return &inputPipeline{
		stream:  stream,
		queue:   make(chan audio.TransportFrame, depth),
		metrics: m,
		log:     log,
	}
}

// capture is the microphone tap.
func (p *inputPipeline) capture(buf audio.SampleBuffer) {
	ctx := context.Background()
	if !p.ready.Load() {
		p.drop(ctx, dropNotReady)
		return
	}

	frame, err := audio.EncodeTransport(buf)
	if err != nil {
		// Only reachable with a malformed buffer from the device layer.
		p.log.Error("session: encode captured audio", "err", err)
		p.drop(ctx, dropEncode)
		return
	}

	select {
	case p.queue <- frame:
	default:
		p.drop(ctx, dropQueueFull)
	}
}

func (p *inputPipeline) drop(ctx context.Context, reason string) {
	p.dropped.Add(1)
	p.metrics.RecordFrameDropped(ctx, reason)
}

// run sends queued frames until ctx is cancelled or the stream ends.
func (p *inputPipeline) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-p.queue:
			err := p.stream.Send(ctx, frame)
			switch {
			case err == nil:
				p.sent.Add(1)
				p.metrics.FramesSent.Add(ctx, 1)
			case errors.Is(err, live.ErrClosed), ctx.Err() != nil:
				return
			default:
				// The stream reports the failure on its own; the event loop
				// handles teardown.
				p.log.Warn("session: send audio frame", "err", err)
			}
		}
	}
}
