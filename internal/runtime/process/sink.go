package process

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
)

// sink is an append-only output file with a read cursor. The child writes to
// the file through its own descriptor; the supervisor only reads.
type sink struct {
	mu     sync.Mutex
	file   *os.File
	cursor int64
	closed bool
}

func newSink() (*sink, error) {
	f, err := os.CreateTemp("", "concur-*.out")
	if err != nil {
		return nil, fmt.Errorf("create output sink: %w", err)
	}
	return &sink{file: f}, nil
}

// readNew returns the bytes written since the previous call.
func (s *sink) readNew() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil
	}
	data, err := s.readFrom(s.cursor)
	s.cursor += int64(len(data))
	return data, err
}

// readAll returns everything written so far without moving the cursor.
func (s *sink) readAll() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil
	}
	return s.readFrom(0)
}

func (s *sink) readFrom(offset int64) ([]byte, error) {
	data, err := io.ReadAll(io.NewSectionReader(s.file, offset, math.MaxInt64-offset))
	if err != nil {
		return data, fmt.Errorf("read output sink: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}

func (s *sink) name() string {
	return s.file.Name()
}

// close releases the descriptor and removes the backing file.
func (s *sink) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	closeErr := s.file.Close()
	removeErr := os.Remove(s.file.Name())
	if errors.Is(removeErr, os.ErrNotExist) {
		removeErr = nil
	}
	return errors.Join(closeErr, removeErr)
}
