package recording_test

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/hearlink/internal/recording"
	"github.com/MrWong99/hearlink/internal/recording/mock"
	"github.com/MrWong99/hearlink/pkg/audio"
)

type gate struct{ up atomic.Bool }

func (g *gate) Connected() bool { return g.up.Load() }

func newRecorder(t *testing.T, st recording.Storage, connected bool) (*recording.Recorder, *gate) {
	t.Helper()
	g := &gate{}
	g.up.Store(connected)
	r, err := recording.New(recording.Config{
		Storage: st,
		Source:  g,
		Now:     func() time.Time { return time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r, g
}

func TestRecorder_StartRejectedWhileDisconnected(t *testing.T) {
	t.Parallel()

	r, _ := newRecorder(t, &mock.Storage{}, false)
	if err := r.Start(); !errors.Is(err, recording.ErrDeviceNotConnected) {
		t.Fatalf("Start err = %v, want ErrDeviceNotConnected", err)
	}
	if r.Armed() {
		t.Error("recorder armed after rejected Start")
	}
	r.Append([]byte{1, 2})
	if r.Buffered() != 0 {
		t.Error("unarmed recorder buffered audio")
	}
}

func TestRecorder_StartTwice(t *testing.T) {
	t.Parallel()

	r, _ := newRecorder(t, &mock.Storage{}, true)
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Start(); !errors.Is(err, recording.ErrAlreadyRecording) {
		t.Errorf("second Start err = %v, want ErrAlreadyRecording", err)
	}
}

func TestRecorder_StopSavesWAV(t *testing.T) {
	t.Parallel()

	st := &mock.Storage{}
	r, _ := newRecorder(t, st, true)
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	chunk := []byte{0x01, 0x00, 0xFF, 0x7F}
	r.Append(chunk)
	chunk[0] = 0xAA // the recorder must have copied the chunk
	r.Append([]byte{0x02, 0x00})

	res, err := r.Stop(t.Context())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if r.Armed() {
		t.Error("still armed after Stop")
	}
	if res.Bytes != 6 {
		t.Errorf("Bytes = %d, want 6", res.Bytes)
	}
	if !strings.HasPrefix(res.Name, "recording_20260301_123000_") || !strings.HasSuffix(res.Name, ".wav") {
		t.Errorf("Name = %q", res.Name)
	}
	if len(st.CreateCalls) != 1 || st.CreateCalls[0].MimeType != recording.WAVMimeType {
		t.Errorf("CreateCalls = %+v", st.CreateCalls)
	}

	file := st.File(res.Handle)
	info, err := audio.ParseWAVHeader(file)
	if err != nil {
		t.Fatalf("ParseWAVHeader: %v", err)
	}
	if info.DataSize != 6 || info.RIFFSize != 42 {
		t.Errorf("sizes = data %d riff %d, want 6 and 42", info.DataSize, info.RIFFSize)
	}
	if info.Format != audio.DefaultFormat {
		t.Errorf("format = %v", info.Format)
	}
	if want := []byte{0x01, 0x00, 0xFF, 0x7F, 0x02, 0x00}; !bytes.Equal(file[audio.WAVHeaderSize:], want) {
		t.Errorf("payload = % x, want % x", file[audio.WAVHeaderSize:], want)
	}
}

func TestRecorder_StopEmpty(t *testing.T) {
	t.Parallel()

	st := &mock.Storage{}
	r, _ := newRecorder(t, st, true)
	_ = r.Start()
	if _, err := r.Stop(t.Context()); !errors.Is(err, recording.ErrNothingRecorded) {
		t.Errorf("Stop err = %v, want ErrNothingRecorded", err)
	}
	if len(st.CreateCalls) != 0 {
		t.Error("empty recording created a file")
	}
}

func TestRecorder_StopWhenIdleIsNoop(t *testing.T) {
	t.Parallel()

	r, _ := newRecorder(t, &mock.Storage{}, true)
	res, err := r.Stop(t.Context())
	if res != nil || err != nil {
		t.Errorf("Stop = (%v, %v), want (nil, nil)", res, err)
	}
}

func TestRecorder_StorageErrorReturned(t *testing.T) {
	t.Parallel()

	st := &mock.Storage{WriteError: errors.New("disk full")}
	r, _ := newRecorder(t, st, true)
	_ = r.Start()
	r.Append([]byte{1, 2})
	if _, err := r.Stop(t.Context()); err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Errorf("Stop err = %v, want storage error", err)
	}
	if r.Armed() {
		t.Error("recorder still armed after failed save")
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := recording.New(recording.Config{Format: audio.Format{SampleRate: 16000, Channels: 5, BitsPerSample: 16}})
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"channels", "storage", "source"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestDirStorage(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	st := recording.DirStorage{Dir: dir + "/sub"}
	h, err := st.CreateFile("a.wav", recording.WAVMimeType)
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}
	if err := st.Write(h, []byte("RIFF")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := st.Write(h, []byte("data")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := os.ReadFile(string(h))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "RIFFdata" {
		t.Errorf("file = %q", got)
	}

	if _, err := st.CreateFile("a.wav", recording.WAVMimeType); err == nil {
		t.Error("CreateFile overwrote an existing file")
	}
	if _, err := st.CreateFile("../escape.wav", recording.WAVMimeType); err == nil {
		t.Error("CreateFile accepted a path outside the directory")
	}
}
