package speech

import (
	"fmt"
	"io"

	"github.com/MrWong99/wicara/pkg/audio"
)

// ExportWAV writes base64 PCM16 at [audio.OutputFormat] to w as a 16-bit WAV
// file. An empty or malformed payload is an [*audio.DecodeError].
func ExportWAV(w io.Writer, data string) error {
	pcm, err := audio.DecodeBase64(data)
	if err != nil {
		return err
	}
	switch {
	case len(pcm) == 0:
		return &audio.DecodeError{Reason: "no audio to export"}
	case len(pcm)%2 != 0:
		return &audio.DecodeError{Reason: fmt.Sprintf("odd PCM16 payload length %d", len(pcm))}
	}

	f := audio.OutputFormat
	if _, err := w.Write(audio.BuildWAV(pcm, f.SampleRate, f.Channels, 16)); err != nil {
		return fmt.Errorf("speech: write wav: %w", err)
	}
	return nil
}
