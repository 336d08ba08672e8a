// Package audio defines the audio data model, the binary codec shared by the
// live session and one-shot speech paths, and the device interfaces wicara
// plays and captures through.
//
// The device abstractions are:
//
//   - [Devices]: opens the local capture and playback hardware.
//   - [Microphone]: an exclusively owned capture device delivering fixed-size
//     [SampleBuffer] windows to a tap callback.
//   - [Speaker]: an exclusively owned playback device with its own clock on
//     which buffers are scheduled at absolute start times.
//
// Implementations live in adapter packages (audio/portaudio for real hardware,
// audio/mock for tests). The codec functions in this package are pure and
// safe for concurrent use.
package audio

import (
	"context"
	"time"
)

// Devices opens local audio hardware.
//
// Implementations must be safe for concurrent use.
type Devices interface {
	// OpenMicrophone acquires the capture device in format f. Captured audio is
	// delivered in windows of exactly window sample frames.
	//
	// Returns a [*DeviceError] when no device is available or access is denied.
	OpenMicrophone(ctx context.Context, f Format, window int) (Microphone, error)

	// OpenSpeaker acquires the playback device in format f.
	//
	// Returns a [*DeviceError] when no device is available.
	OpenSpeaker(ctx context.Context, f Format) (Speaker, error)
}

// Microphone is an acquired capture device.
type Microphone interface {
	// Tap registers fn to receive every captured window, in capture order. fn is
	// invoked on the device's capture thread and must never block. The returned
	// untap function removes the tap; it is safe to call more than once.
	//
	// Windows captured while no tap is registered are discarded. Only one tap
	// may be active at a time; a second Tap replaces the first.
	Tap(fn func(SampleBuffer)) (untap func(), err error)

	// Close disconnects any remaining tap, stops capture, and releases the
	// device. It is safe to call Close more than once; subsequent calls are
	// no-ops and return nil.
	Close() error
}

// Speaker is an acquired playback device.
type Speaker interface {
	// Now returns the playback clock: elapsed device time since the speaker was
	// opened. It is monotonically non-decreasing and advances independently of
	// any caller.
	Now() time.Duration

	// Play schedules buf to start at device time at. If at is already in the
	// past, playback begins immediately. ended is invoked once, off the audio
	// thread, when the buffer plays to completion; it is not invoked for a
	// voice that was stopped.
	Play(buf SampleBuffer, at time.Duration, ended func()) (Voice, error)

	// Close silences all voices and releases the device. It is safe to call
	// Close more than once.
	Close() error
}

// Voice is one buffer scheduled on a [Speaker].
type Voice interface {
	// Stop silences the voice immediately, or prevents it from starting. It is
	// safe to call Stop after the voice has finished.
	Stop()
}
