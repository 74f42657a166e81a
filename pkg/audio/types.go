// Package audio defines the PCM format description and the WAV container
// encoding used for captured wearable audio.
//
// The wearable streams raw, unframed little-endian PCM over its TCP link. The
// stream carries no format information, so the [Format] used to label a
// recording must be supplied by configuration and must match the device's
// actual capture settings. A mismatched sample rate does not fail; it produces
// a WAV file that plays back at the wrong speed.
package audio

import (
	"errors"
	"fmt"
)

// DefaultFormat is 16 kHz, mono, 16-bit PCM, the capture format of the
// reference wearable firmware.
var DefaultFormat = Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}

// Format describes an interleaved linear PCM stream.
type Format struct {
	// SampleRate in Hz (e.g., 16000).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// BitsPerSample is the sample width; 8, 16, 24 or 32.
	BitsPerSample int
}

// Validate reports whether f describes a format the WAV encoder supports.
func (f Format) Validate() error {
	var errs []error
	if f.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate %d must be positive", f.SampleRate))
	}
	if f.Channels < 1 || f.Channels > 2 {
		errs = append(errs, fmt.Errorf("channels %d must be 1 or 2", f.Channels))
	}
	switch f.BitsPerSample {
	case 8, 16, 24, 32:
	default:
		errs = append(errs, fmt.Errorf("bits per sample %d must be one of 8, 16, 24, 32", f.BitsPerSample))
	}
	return errors.Join(errs...)
}

// BlockAlign returns the number of bytes per sample frame (all channels).
func (f Format) BlockAlign() int {
	return f.Channels * f.BitsPerSample / 8
}

// ByteRate returns the number of bytes per second of audio.
func (f Format) ByteRate() int {
	return f.SampleRate * f.BlockAlign()
}

// String renders f as e.g. "16000Hz/mono/16bit".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels != 1 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz/%s/%dbit", f.SampleRate, ch, f.BitsPerSample)
}
