// Package recording captures raw device audio while armed and stores it as a
// WAV file when stopped.
package recording

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/hearlink/internal/observe"
	"github.com/MrWong99/hearlink/pkg/audio"
)

// WAVMimeType is the MIME type recordings are stored with.
const WAVMimeType = "audio/wav"

var (
	// ErrDeviceNotConnected is returned by Start while the device is offline.
	ErrDeviceNotConnected = errors.New("recording: device not connected")

	// ErrAlreadyRecording is returned by Start while a recording is armed.
	ErrAlreadyRecording = errors.New("recording: already recording")

	// ErrNothingRecorded is returned by Stop when no audio arrived.
	ErrNothingRecorded = errors.New("recording: nothing recorded")
)

// Handle identifies a file created by a [Storage].
type Handle string

// Storage persists finished recordings.
type Storage interface {
	CreateFile(name, mimeType string) (Handle, error)
	Write(h Handle, data []byte) error
}

// Gate reports whether the audio source is live.
type Gate interface {
	Connected() bool
}

// Config configures a [Recorder].
type Config struct {
	// Format describes the device's PCM stream. It must match what the
	// device actually captures; the WAV header is built from it.
	Format audio.Format

	// Storage receives finished recordings. Required.
	Storage Storage

	// Source gates Start on the device being connected. Required.
	Source Gate

	Metrics *observe.Metrics

	// Now overrides the clock used for file names.
	Now func() time.Time
}

// Result describes a saved recording.
type Result struct {
	Name     string
	Handle   Handle
	Bytes    int // PCM payload, excluding the header
	Duration time.Duration
}

// Recorder accumulates audio chunks between Start and Stop. Safe for
// concurrent use: Append is called from the device session goroutine while
// Start and Stop come from commands.
type Recorder struct {
	format  audio.Format
	storage Storage
	source  Gate
	metrics *observe.Metrics
	now     func() time.Time

	mu      sync.Mutex
	armed   bool
	buf     []byte
	started time.Time
}

// New validates cfg and returns an idle recorder.
func New(cfg Config) (*Recorder, error) {
	if cfg.Format == (audio.Format{}) {
		cfg.Format = audio.DefaultFormat
	}
	var errs []error
	if err := cfg.Format.Validate(); err != nil {
		errs = append(errs, err)
	}
	if cfg.Storage == nil {
		errs = append(errs, errors.New("recording: storage is required"))
	}
	if cfg.Source == nil {
		errs = append(errs, errors.New("recording: source is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Recorder{
		format:  cfg.Format,
		storage: cfg.Storage,
		source:  cfg.Source,
		metrics: observe.OrDefault(cfg.Metrics),
		now:     cfg.Now,
	}, nil
}

// Format returns the PCM format recordings are labelled with.
func (r *Recorder) Format() audio.Format { return r.format }

// Start arms the recorder. It fails unless the device is connected and no
// recording is in progress.
func (r *Recorder) Start() error {
	if !r.source.Connected() {
		return ErrDeviceNotConnected
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.armed {
		return ErrAlreadyRecording
	}
	r.armed = true
	r.buf = nil
	r.started = r.now()
	slog.Info("recording started", "format", r.format.String())
	return nil
}

// Armed reports whether a recording is in progress.
func (r *Recorder) Armed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.armed
}

// Buffered returns the number of PCM bytes captured so far.
func (r *Recorder) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

// Append copies chunk into the buffer when armed and is a no-op otherwise.
func (r *Recorder) Append(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.armed {
		r.buf = append(r.buf, chunk...)
	}
}

// Stop disarms the recorder and saves what was captured. It returns
// (nil, nil) when nothing was armed and [ErrNothingRecorded] when the buffer
// is empty. Storage errors are returned; the audio is discarded either way.
func (r *Recorder) Stop(ctx context.Context) (*Result, error) {
	r.mu.Lock()
	if !r.armed {
		r.mu.Unlock()
		return nil, nil
	}
	pcm, started := r.buf, r.started
	r.armed, r.buf = false, nil
	r.mu.Unlock()

	if len(pcm) == 0 {
		r.metrics.RecordRecording(ctx, "empty", 0)
		return nil, ErrNothingRecorded
	}

	ctx, span := observe.StartSpan(ctx, "recording.save")
	res, err := r.save(started, pcm)
	observe.EndSpan(span, err)
	if err != nil {
		r.metrics.RecordRecording(ctx, "error", 0)
		return nil, err
	}
	r.metrics.RecordRecording(ctx, "saved", res.Bytes)
	slog.Info("recording saved", "name", res.Name, "bytes", res.Bytes, "duration", res.Duration)
	return res, nil
}

func (r *Recorder) save(started time.Time, pcm []byte) (*Result, error) {
	wav, err := audio.EncodeWAV(r.format, pcm)
	if err != nil {
		return nil, fmt.Errorf("recording: encode: %w", err)
	}

	name := fmt.Sprintf("recording_%s_%s.wav", started.Format("20060102_150405"), uuid.NewString()[:8])
	h, err := r.storage.CreateFile(name, WAVMimeType)
	if err != nil {
		return nil, fmt.Errorf("recording: create %s: %w", name, err)
	}
	if err := r.storage.Write(h, wav); err != nil {
		return nil, fmt.Errorf("recording: write %s: %w", name, err)
	}

	return &Result{
		Name:     name,
		Handle:   h,
		Bytes:    len(pcm),
		Duration: audio.WAVInfo{Format: r.format, DataSize: uint32(len(pcm))}.Duration(),
	}, nil
}
