package speech_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/MrWong99/wicara/internal/speech"
	"github.com/MrWong99/wicara/pkg/audio"
)

func TestExportWAV(t *testing.T) {
	t.Parallel()
	raw := []byte{0x01, 0x00, 0xff, 0x7f, 0x00, 0x80, 0x10, 0x20}

	var buf bytes.Buffer
	if err := speech.ExportWAV(&buf, audio.EncodeBase64(raw)); err != nil {
		t.Fatalf("ExportWAV: %v", err)
	}

	out := buf.Bytes()
	if got := binary.LittleEndian.Uint32(out[4:8]); got != uint32(36+len(raw)) {
		t.Errorf("chunk size = %d, want %d", got, 36+len(raw))
	}
	info, payload, err := audio.ParseWAV(out)
	if err != nil {
		t.Fatalf("ParseWAV: %v", err)
	}
	if info.SampleRate != 24000 || info.Channels != 1 || info.BitsPerSample != 16 {
		t.Errorf("header = %+v, want 24000 Hz mono 16-bit", info)
	}
	if !bytes.Equal(payload, raw) {
		t.Errorf("payload = %v, want %v", payload, raw)
	}
}

func TestExportWAV_Rejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"not base64", "%%%"},
		{"odd length", audio.EncodeBase64([]byte{1, 2, 3})},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			var de *audio.DecodeError
			if err := speech.ExportWAV(&buf, tc.data); !errors.As(err, &de) {
				t.Errorf("err = %v, want DecodeError", err)
			}
			if buf.Len() != 0 {
				t.Error("partial output written")
			}
		})
	}
}
