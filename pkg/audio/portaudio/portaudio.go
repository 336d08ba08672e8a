// Package portaudio implements [audio.Devices] on top of the PortAudio C
// library via github.com/gordonklaus/portaudio.
//
// Capture uses a blocking input stream read on a dedicated goroutine, one
// window per read. Playback uses a callback stream whose rendered frame count
// is the speaker clock, so scheduled start times are sample accurate.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/wicara/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Devices = (*Devices)(nil)

// DefaultOutputBuffer is the callback buffer size of the playback stream in
// frames (~21 ms at 24 kHz). It bounds the granularity of the speaker clock.
const DefaultOutputBuffer = 512

// Option configures [Devices].
type Option func(*Devices)

// WithInputDevice selects the capture device whose name contains name
// (case-insensitive). An empty name selects the host default.
func WithInputDevice(name string) Option {
	return func(d *Devices) { d.inputName = name }
}

// WithOutputDevice selects the playback device whose name contains name
// (case-insensitive). An empty name selects the host default.
func WithOutputDevice(name string) Option {
	return func(d *Devices) { d.outputName = name }
}

// WithOutputBuffer sets the playback callback buffer size in frames.
func WithOutputBuffer(frames int) Option {
	return func(d *Devices) {
		if frames > 0 {
			d.outputBuffer = frames
		}
	}
}

// Devices opens PortAudio capture and playback streams. Each opened device
// holds its own reference on the PortAudio library and releases it on Close.
type Devices struct {
	inputName    string
	outputName   string
	outputBuffer int
}

// New returns a Devices using the host default devices unless overridden.
func New(opts ...Option) *Devices {
	d := &Devices{outputBuffer: DefaultOutputBuffer}
	for _, o := range opts {
		o(d)
	}
	return d
}

// OpenMicrophone implements [audio.Devices].
func (d *Devices) OpenMicrophone(ctx context.Context, f audio.Format, window int) (audio.Microphone, error) {
	if err := ctx.Err(); err != nil {
		return nil, &audio.DeviceError{Op: "open microphone", Err: err}
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, &audio.DeviceError{Op: "initialize portaudio", Err: err}
	}
	dev, err := findDevice(d.inputName, true)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, &audio.DeviceError{Op: "open microphone", Err: err}
	}
	mic, err := openMicrophone(dev, f, window)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, &audio.DeviceError{Op: "open microphone " + dev.Name, Err: err}
	}
	return mic, nil
}

// OpenSpeaker implements [audio.Devices].
func (d *Devices) OpenSpeaker(ctx context.Context, f audio.Format) (audio.Speaker, error) {
	if err := ctx.Err(); err != nil {
		return nil, &audio.DeviceError{Op: "open speaker", Err: err}
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, &audio.DeviceError{Op: "initialize portaudio", Err: err}
	}
	dev, err := findDevice(d.outputName, false)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, &audio.DeviceError{Op: "open speaker", Err: err}
	}
	spk, err := openSpeaker(dev, f, d.outputBuffer)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, &audio.DeviceError{Op: "open speaker " + dev.Name, Err: err}
	}
	return spk, nil
}

// findDevice returns the first device whose name contains name and that has
// channels in the wanted direction, or the host default when name is empty.
func findDevice(name string, input bool) (*portaudio.DeviceInfo, error) {
	if name == "" {
		if input {
			return portaudio.DefaultInputDevice()
		}
		return portaudio.DefaultOutputDevice()
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	want := strings.ToLower(name)
	for _, dev := range devices {
		if input && dev.MaxInputChannels < 1 {
			continue
		}
		if !input && dev.MaxOutputChannels < 1 {
			continue
		}
		if strings.Contains(strings.ToLower(dev.Name), want) {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("no device matching %q", name)
}

var errSpeakerClosed = errors.New("portaudio: speaker closed")
