package recording

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DirStorage stores recordings as files in a directory.
type DirStorage struct {
	Dir string
}

// CreateFile creates an empty file named name in the directory, creating the
// directory if needed. The returned handle is the file path.
func (s DirStorage) CreateFile(name, mimeType string) (Handle, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("recording: invalid file name %q", name)
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("recording: create dir: %w", err)
	}
	path := filepath.Join(s.Dir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("recording: create %s (%s): %w", name, mimeType, err)
	}
	return Handle(path), f.Close()
}

// Write appends data to the file behind h.
func (s DirStorage) Write(h Handle, data []byte) error {
	f, err := os.OpenFile(string(h), os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return fmt.Errorf("recording: open %s: %w", h, err)
	}
	_, werr := f.Write(data)
	return errors.Join(werr, f.Close())
}
