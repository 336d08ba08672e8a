package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"
)

// WAVHeaderSize is the size of the canonical PCM RIFF header written by
// [BuildWAV].
const WAVHeaderSize = 44

// wavHeader is the canonical 44-byte PCM WAV header, little-endian on disk.
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // 36 + data size
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * BlockAlign
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

// BuildWAV wraps raw PCM bytes in a canonical 44-byte WAV header. The payload
// is copied unmodified, and the output depends only on the arguments.
func BuildWAV(pcm []byte, sampleRate, channels, bitsPerSample int) []byte {
	blockAlign := channels * bitsPerSample / 8
	dataSize := uint32(len(pcm))

	hdr := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * blockAlign),
		BlockAlign:    uint16(blockAlign),
		BitsPerSample: uint16(bitsPerSample),
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, WAVHeaderSize+len(pcm)))
	// Writes to a bytes.Buffer cannot fail, and wavHeader is fixed-size.
	_ = binary.Write(buf, binary.LittleEndian, hdr)
	buf.Write(pcm)
	return buf.Bytes()
}

// WAV wraps the frame in a 16-bit WAV container using its own format.
func (f PcmFrame) WAV() []byte {
	return BuildWAV(f.Data, f.SampleRate, f.Channels, 16)
}

// WAVInfo describes a parsed WAV header.
type WAVInfo struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	DataSize      int
}

// Duration returns the playback length described by the header.
func (i WAVInfo) Duration() time.Duration {
	frameBytes := i.Channels * i.BitsPerSample / 8
	if frameBytes <= 0 || i.SampleRate <= 0 {
		return 0
	}
	return time.Duration(i.DataSize/frameBytes) * time.Second / time.Duration(i.SampleRate)
}

// ParseWAV reads a canonical PCM WAV file as produced by [BuildWAV] and
// returns its header fields and the PCM payload. It does not walk optional
// chunks; files with extra chunks before "data" are rejected.
func ParseWAV(data []byte) (WAVInfo, []byte, error) {
	if len(data) < WAVHeaderSize {
		return WAVInfo{}, nil, &DecodeError{Reason: fmt.Sprintf("wav too short: %d bytes", len(data))}
	}

	var hdr wavHeader
	if err := binary.Read(bytes.NewReader(data[:WAVHeaderSize]), binary.LittleEndian, &hdr); err != nil {
		return WAVInfo{}, nil, &DecodeError{Reason: "read wav header", Err: err}
	}

	switch {
	case string(hdr.ChunkID[:]) != "RIFF":
		return WAVInfo{}, nil, &DecodeError{Reason: "missing RIFF header"}
	case string(hdr.Format[:]) != "WAVE":
		return WAVInfo{}, nil, &DecodeError{Reason: "missing WAVE format"}
	case string(hdr.Subchunk1ID[:]) != "fmt ":
		return WAVInfo{}, nil, &DecodeError{Reason: "missing fmt chunk"}
	case string(hdr.Subchunk2ID[:]) != "data":
		return WAVInfo{}, nil, &DecodeError{Reason: "missing data chunk"}
	case hdr.AudioFormat != 1:
		return WAVInfo{}, nil, &DecodeError{Reason: fmt.Sprintf("unsupported audio format %d", hdr.AudioFormat)}
	}

	end := WAVHeaderSize + int(hdr.Subchunk2Size)
	if end > len(data) {
		return WAVInfo{}, nil, &DecodeError{
			Reason: fmt.Sprintf("data chunk declares %d bytes, %d present", hdr.Subchunk2Size, len(data)-WAVHeaderSize),
		}
	}

	info := WAVInfo{
		SampleRate:    int(hdr.SampleRate),
		Channels:      int(hdr.NumChannels),
		BitsPerSample: int(hdr.BitsPerSample),
		DataSize:      int(hdr.Subchunk2Size),
	}
	return info, data[WAVHeaderSize:end], nil
}
