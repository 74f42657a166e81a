// Package mock provides an in-memory [recording.Storage] for unit tests.
package mock

import (
	"fmt"
	"sync"

	"github.com/MrWong99/hearlink/internal/recording"
)

// CreateCall records one CreateFile invocation.
type CreateCall struct {
	Name     string
	MimeType string
}

// Storage keeps files in memory. Safe for concurrent use.
type Storage struct {
	mu sync.Mutex

	// CreateError is returned by CreateFile when set.
	CreateError error

	// WriteError is returned by Write when set.
	WriteError error

	// CreateCalls records every CreateFile call.
	CreateCalls []CreateCall

	// Files maps handles to their contents.
	Files map[recording.Handle][]byte
}

// CreateFile implements [recording.Storage].
func (s *Storage) CreateFile(name, mimeType string) (recording.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CreateCalls = append(s.CreateCalls, CreateCall{Name: name, MimeType: mimeType})
	if s.CreateError != nil {
		return "", s.CreateError
	}
	if s.Files == nil {
		s.Files = make(map[recording.Handle][]byte)
	}
	h := recording.Handle(fmt.Sprintf("mem://%d/%s", len(s.CreateCalls), name))
	s.Files[h] = nil
	return h, nil
}

// Write implements [recording.Storage].
func (s *Storage) Write(h recording.Handle, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WriteError != nil {
		return s.WriteError
	}
	if _, ok := s.Files[h]; !ok {
		return fmt.Errorf("mock: unknown handle %q", h)
	}
	s.Files[h] = append(s.Files[h], data...)
	return nil
}

// File returns a copy of the contents behind h.
func (s *Storage) File(h recording.Handle) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.Files[h]...)
}
