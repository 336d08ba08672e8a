package audio

import "fmt"

// DeviceError reports that a microphone or playback device could not be
// acquired or failed while in use. It is fatal to session start.
type DeviceError struct {
	// Op names the failing step, e.g. "open microphone".
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("audio device: %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// DecodeError reports malformed inbound audio: bad base64 or a PCM payload
// whose length is not a whole number of samples. It only ever concerns a
// single frame; callers drop that frame and carry on.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("audio decode: %s: %v", e.Reason, e.Err)
	}
	return "audio decode: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeError reports a broken invariant while encoding outbound audio, such
// as a buffer with no valid format. It indicates a programming error.
type EncodeError struct {
	Reason string
}

func (e *EncodeError) Error() string {
	return "audio encode: " + e.Reason
}
