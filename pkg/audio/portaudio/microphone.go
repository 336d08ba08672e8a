package portaudio

import (
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/wicara/pkg/audio"
)

// microphone reads fixed-size windows from a blocking input stream.
type microphone struct {
	stream *portaudio.Stream
	buf    []float32
	format audio.Format
	name   string

	mu     sync.Mutex
	tap    func(audio.SampleBuffer)
	tapGen uint64

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func openMicrophone(dev *portaudio.DeviceInfo, f audio.Format, window int) (*microphone, error) {
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: f.Channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(f.SampleRate),
		FramesPerBuffer: window,
	}

	buf := make([]float32, window*f.Channels)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, err
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, err
	}

	m := &microphone{
		stream: stream,
		buf:    buf,
		format: f,
		name:   dev.Name,
		done:   make(chan struct{}),
	}
	m.wg.Add(1)
	go m.readLoop()
	slog.Info("microphone opened", "device", dev.Name, "format", f.String(), "window", window)
	return m, nil
}

// Tap implements [audio.Microphone].
func (m *microphone) Tap(fn func(audio.SampleBuffer)) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tapGen++
	gen := m.tapGen
	m.tap = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.tapGen == gen {
			m.tap = nil
		}
	}, nil
}

// Close implements [audio.Microphone]. The tap is removed before the stream is
// stopped and the device released.
func (m *microphone) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.tap = nil
		m.tapGen++
		m.mu.Unlock()

		close(m.done)
		// Abort unblocks a pending Read; the loop exits on the error.
		_ = m.stream.Abort()
		m.wg.Wait()
		err = m.stream.Close()
		_ = portaudio.Terminate()
		slog.Info("microphone closed", "device", m.name)
	})
	return err
}

func (m *microphone) readLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.done:
			return
		default:
		}

		if err := m.stream.Read(); err != nil {
			select {
			case <-m.done:
			default:
				// Input overflow is reported as an error but the stream is
				// still usable; the window is simply lost.
				if err == portaudio.InputOverflowed {
					continue
				}
				slog.Warn("microphone read failed", "device", m.name, "err", err)
			}
			return
		}

		m.mu.Lock()
		fn := m.tap
		m.mu.Unlock()
		if fn == nil {
			continue
		}
		fn(audio.SampleBuffer{
			Samples: append([]float32(nil), m.buf...),
			Format:  m.format,
		})
	}
}
