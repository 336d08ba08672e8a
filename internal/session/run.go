package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/MrWong99/wicara/pkg/audio"
	"github.com/MrWong99/wicara/pkg/audio/scheduler"
	"github.com/MrWong99/wicara/pkg/provider/live"
)

// run owns the resources of one Start..Stop cycle. Resources are attached as
// they are acquired and released together, exactly once, by teardown.
type run struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    *slog.Logger
	wg     sync.WaitGroup

	mu       sync.Mutex
	released bool
	failErr  error
	mic      audio.Microphone
	untap    func()
	sched    *scheduler.Scheduler
	stream   live.Stream
	input    *inputPipeline
}

// attach runs set under the lock unless the run was already torn down. When it
// reports false the caller still owns whatever it meant to attach.
func (r *run) attach(set func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return false
	}
	set()
	return true
}

func (r *run) setFailure(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr == nil {
		r.failErr = err
	}
}

func (r *run) failure() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failErr
}

// abortErr is what Start returns when the run ended before it became active:
// the failure that ended it, or ErrClosed when it was stopped.
func (r *run) abortErr() error {
	if err := r.failure(); err != nil {
		return err
	}
	return ErrClosed
}

func (r *run) flush(reason scheduler.FlushReason) int {
	r.mu.Lock()
	sched := r.sched
	r.mu.Unlock()
	if sched == nil {
		return 0
	}
	return sched.Flush(reason)
}

// teardown releases everything attached so far in a fixed order: capture taps
// before the microphone, the microphone, the stream, then the scheduler (which
// flushes playback and closes the speaker). Later calls do nothing.
func (r *run) teardown() error {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return nil
	}
	r.released = true
	mic, untap, sched, stream, input := r.mic, r.untap, r.sched, r.stream, r.input
	r.mic, r.untap, r.sched, r.stream, r.input = nil, nil, nil, nil, nil
	r.mu.Unlock()

	if input != nil {
		input.ready.Store(false)
	}
	if untap != nil {
		untap()
	}

	var errs []error
	if mic != nil {
		if err := mic.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if stream != nil {
		if err := stream.Close(); err != nil {
			r.log.Debug("session: close stream", "err", err)
		}
	}
	r.cancel()
	if sched != nil {
		if err := sched.Close(); err != nil && !errors.Is(err, scheduler.ErrClosed) {
			errs = append(errs, err)
		}
	}
	r.wg.Wait()

	if input != nil {
		r.log.Debug("session: capture summary",
			"frames_sent", input.sent.Load(),
			"frames_dropped", input.dropped.Load(),
		)
	}
	return errors.Join(errs...)
}
