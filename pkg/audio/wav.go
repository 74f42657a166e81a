package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// WAVHeaderSize is the length of the canonical RIFF/WAVE header written by
// [WAVHeader]: a RIFF chunk descriptor, a 16-byte "fmt " chunk and the
// "data" chunk header.
const WAVHeaderSize = 44

// ErrInvalidWAV is returned by [ParseWAVHeader] for input that is not a
// canonical PCM WAV header.
var ErrInvalidWAV = errors.New("audio: invalid WAV header")

const (
	fmtChunkSize = 16
	formatPCM    = 1
)

// WAVInfo is the content of a canonical WAV header.
type WAVInfo struct {
	Format

	// RIFFSize is the RIFF chunk size: the file length minus 8.
	RIFFSize uint32

	// DataSize is the length of the PCM payload in bytes.
	DataSize uint32
}

// Duration returns the playback length of the payload.
func (i WAVInfo) Duration() time.Duration {
	rate := i.ByteRate()
	if rate <= 0 {
		return 0
	}
	return time.Duration(int64(i.DataSize) * int64(time.Second) / int64(rate))
}

// WAVHeader builds the 44-byte header for dataLen bytes of PCM in format f.
// The data chunk size is dataLen and the RIFF size is dataLen+36.
func WAVHeader(f Format, dataLen int) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("audio: wav header: %w", err)
	}
	if dataLen < 0 || uint64(dataLen)+36 > uint64(^uint32(0)) {
		return nil, fmt.Errorf("audio: wav header: data length %d out of range", dataLen)
	}

	h := make([]byte, 0, WAVHeaderSize)
	h = append(h, "RIFF"...)
	h = binary.LittleEndian.AppendUint32(h, uint32(dataLen)+36)
	h = append(h, "WAVE"...)

	h = append(h, "fmt "...)
	h = binary.LittleEndian.AppendUint32(h, fmtChunkSize)
	h = binary.LittleEndian.AppendUint16(h, formatPCM)
	h = binary.LittleEndian.AppendUint16(h, uint16(f.Channels))
	h = binary.LittleEndian.AppendUint32(h, uint32(f.SampleRate))
	h = binary.LittleEndian.AppendUint32(h, uint32(f.ByteRate()))
	h = binary.LittleEndian.AppendUint16(h, uint16(f.BlockAlign()))
	h = binary.LittleEndian.AppendUint16(h, uint16(f.BitsPerSample))

	h = append(h, "data"...)
	h = binary.LittleEndian.AppendUint32(h, uint32(dataLen))
	return h, nil
}

// EncodeWAV returns a complete WAV file: the header for pcm followed by pcm.
func EncodeWAV(f Format, pcm []byte) ([]byte, error) {
	h, err := WAVHeader(f, len(pcm))
	if err != nil {
		return nil, err
	}
	return append(h, pcm...), nil
}

// ParseWAVHeader decodes a canonical 44-byte PCM WAV header.
func ParseWAVHeader(b []byte) (WAVInfo, error) {
	if len(b) < WAVHeaderSize {
		return WAVInfo{}, fmt.Errorf("%w: %d bytes", ErrInvalidWAV, len(b))
	}
	if !bytes.Equal(b[0:4], []byte("RIFF")) || !bytes.Equal(b[8:12], []byte("WAVE")) {
		return WAVInfo{}, fmt.Errorf("%w: not a RIFF/WAVE file", ErrInvalidWAV)
	}
	if !bytes.Equal(b[12:16], []byte("fmt ")) || binary.LittleEndian.Uint32(b[16:20]) != fmtChunkSize {
		return WAVInfo{}, fmt.Errorf("%w: unexpected fmt chunk", ErrInvalidWAV)
	}
	if tag := binary.LittleEndian.Uint16(b[20:22]); tag != formatPCM {
		return WAVInfo{}, fmt.Errorf("%w: format tag %d is not PCM", ErrInvalidWAV, tag)
	}
	if !bytes.Equal(b[36:40], []byte("data")) {
		return WAVInfo{}, fmt.Errorf("%w: missing data chunk", ErrInvalidWAV)
	}

	info := WAVInfo{
		Format: Format{
			Channels:      int(binary.LittleEndian.Uint16(b[22:24])),
			SampleRate:    int(binary.LittleEndian.Uint32(b[24:28])),
			BitsPerSample: int(binary.LittleEndian.Uint16(b[34:36])),
		},
		RIFFSize: binary.LittleEndian.Uint32(b[4:8]),
		DataSize: binary.LittleEndian.Uint32(b[40:44]),
	}
	if err := info.Format.Validate(); err != nil {
		return WAVInfo{}, fmt.Errorf("%w: %w", ErrInvalidWAV, err)
	}
	return info, nil
}
