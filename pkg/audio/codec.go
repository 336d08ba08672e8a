package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
)

// DecodeBase64 decodes standard, padded base64.
func DecodeBase64(text string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, &DecodeError{Reason: "invalid base64", Err: err}
	}
	return b, nil
}

// EncodeBase64 encodes b as standard, padded base64.
func EncodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// FloatToPCM16 converts normalized samples to signed 16-bit little-endian PCM.
// Each sample s becomes round(s*32768) clamped to the int16 range, so
// out-of-range input saturates instead of wrapping. NaN is encoded as silence.
func FloatToPCM16(buf SampleBuffer) (PcmFrame, error) {
	if !buf.Format.Valid() {
		return PcmFrame{}, &EncodeError{Reason: fmt.Sprintf("invalid format %s", buf.Format)}
	}
	if len(buf.Samples)%buf.Channels != 0 {
		return PcmFrame{}, &EncodeError{
			Reason: fmt.Sprintf("%d samples do not divide into %d channels", len(buf.Samples), buf.Channels),
		}
	}

	out := make([]byte, len(buf.Samples)*2)
	for i, s := range buf.Samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(s)))
	}
	return PcmFrame{Data: out, Format: buf.Format}, nil
}

func floatToInt16(s float32) int16 {
	if s != s { // NaN
		return 0
	}
	v := math.Round(float64(s) * 32768)
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

// PCM16ToFloat converts little-endian PCM16 to normalized samples, v/32768.
// The result stays interleaved with the given channel count.
//
// A payload that is not a whole number of sample frames is rejected with a
// [*DecodeError]; the bytes are never partially decoded.
func PCM16ToFloat(frame PcmFrame, channels int) (SampleBuffer, error) {
	if channels <= 0 {
		return SampleBuffer{}, &DecodeError{Reason: fmt.Sprintf("invalid channel count %d", channels)}
	}
	if len(frame.Data)%(2*channels) != 0 {
		return SampleBuffer{}, &DecodeError{
			Reason: fmt.Sprintf("pcm length %d is not a multiple of %d", len(frame.Data), 2*channels),
		}
	}

	samples := make([]float32, len(frame.Data)/2)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(frame.Data[i*2:]))
		samples[i] = float32(v) / 32768.0
	}
	return SampleBuffer{
		Samples: samples,
		Format:  Format{SampleRate: frame.SampleRate, Channels: channels},
	}, nil
}

// DecodeTransport turns base64 PCM16 into samples in format f. It is the
// inbound half of the live wire path and of one-shot speech playback.
func DecodeTransport(data string, f Format) (SampleBuffer, error) {
	raw, err := DecodeBase64(data)
	if err != nil {
		return SampleBuffer{}, err
	}
	return PCM16ToFloat(PcmFrame{Data: raw, Format: f}, f.Channels)
}

// EncodeTransport turns captured samples into a [TransportFrame] tagged with
// the buffer's format.
func EncodeTransport(buf SampleBuffer) (TransportFrame, error) {
	pcm, err := FloatToPCM16(buf)
	if err != nil {
		return TransportFrame{}, err
	}
	return TransportFrame{
		Data:     EncodeBase64(pcm.Data),
		MIMEType: buf.Format.MIMEType(),
	}, nil
}
