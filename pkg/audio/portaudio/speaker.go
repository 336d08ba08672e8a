package portaudio

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/wicara/pkg/audio"
)

// speaker renders scheduled voices from a PortAudio output callback. The
// speaker clock is the number of frames handed to the device.
type speaker struct {
	stream *portaudio.Stream
	format audio.Format
	name   string

	rendered atomic.Int64 // frames rendered since open

	mu     sync.Mutex
	voices []*voice // ordered by start frame

	ended     chan []func()
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// voice is one buffer placed on the speaker timeline.
type voice struct {
	spk     *speaker
	samples []float32 // interleaved in the speaker's format
	start   int64     // first frame on the timeline
	ended   func()
}

func openSpeaker(dev *portaudio.DeviceInfo, f audio.Format, bufferFrames int) (*speaker, error) {
	s := &speaker{
		format: f,
		name:   dev.Name,
		ended:  make(chan []func(), 64),
		done:   make(chan struct{}),
	}

	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: f.Channels,
			Latency:  dev.DefaultLowOutputLatency,
		},
		SampleRate:      float64(f.SampleRate),
		FramesPerBuffer: bufferFrames,
	}

	stream, err := portaudio.OpenStream(params, s.render)
	if err != nil {
		return nil, err
	}
	s.stream = stream

	s.wg.Add(1)
	go s.dispatchEnded()

	if err := stream.Start(); err != nil {
		close(s.done)
		s.wg.Wait()
		_ = stream.Close()
		return nil, err
	}
	slog.Info("speaker opened", "device", dev.Name, "format", f.String(), "buffer", bufferFrames)
	return s, nil
}

// Now implements [audio.Speaker].
func (s *speaker) Now() time.Duration {
	return s.format.Duration(int(s.rendered.Load()))
}

// Play implements [audio.Speaker].
func (s *speaker) Play(buf audio.SampleBuffer, at time.Duration, ended func()) (audio.Voice, error) {
	if buf.Channels != s.format.Channels {
		return nil, &audio.EncodeError{Reason: "channel count " + buf.Format.String() + " does not match speaker " + s.format.String()}
	}

	startFrame := int64(at * time.Duration(s.format.SampleRate) / time.Second)

	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return nil, errSpeakerClosed
	default:
	}

	v := &voice{
		spk:     s,
		samples: buf.Samples,
		start:   max(startFrame, s.rendered.Load()),
		ended:   ended,
	}
	// Insert keeping start order; appends are the common case.
	i := len(s.voices)
	for i > 0 && s.voices[i-1].start > v.start {
		i--
	}
	s.voices = append(s.voices, nil)
	copy(s.voices[i+1:], s.voices[i:])
	s.voices[i] = v
	return v, nil
}

// Close implements [audio.Speaker].
func (s *speaker) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.voices = nil
		close(s.done)
		s.mu.Unlock()

		_ = s.stream.Stop()
		err = s.stream.Close()
		s.wg.Wait()
		_ = portaudio.Terminate()
		slog.Info("speaker closed", "device", s.name)
	})
	return err
}

// Stop implements [audio.Voice].
func (v *voice) Stop() {
	s := v.spk
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, other := range s.voices {
		if other == v {
			s.voices = append(s.voices[:i], s.voices[i+1:]...)
			return
		}
	}
}

// render is the PortAudio output callback. It copies the samples of every
// voice overlapping this buffer into out and fills the rest with silence.
func (s *speaker) render(out []float32) {
	ch := s.format.Channels
	frames := int64(len(out) / ch)
	from := s.rendered.Load()
	to := from + frames

	clear(out)

	var finished []func()
	s.mu.Lock()
	keep := s.voices[:0]
	for _, v := range s.voices {
		n := int64(len(v.samples) / ch)
		end := v.start + n
		if v.start < to && end > from {
			lo := max(v.start, from)
			hi := min(end, to)
			copy(out[(lo-from)*int64(ch):(hi-from)*int64(ch)], v.samples[(lo-v.start)*int64(ch):(hi-v.start)*int64(ch)])
		}
		if end <= to {
			if v.ended != nil {
				finished = append(finished, v.ended)
			}
			continue
		}
		keep = append(keep, v)
	}
	clear(s.voices[len(keep):])
	s.voices = keep
	s.mu.Unlock()

	s.rendered.Store(to)

	if len(finished) > 0 {
		select {
		case s.ended <- finished:
		default:
			// Never block the audio thread.
			go runAll(finished)
		}
	}
}

// dispatchEnded runs completion callbacks off the audio thread.
func (s *speaker) dispatchEnded() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case fns := <-s.ended:
			runAll(fns)
		}
	}
}

func runAll(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}
