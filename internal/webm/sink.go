package webm

import (
	"bufio"
	"bytes"
	"io"
	"sync"
)

const (
	sinkBufferSize = 64 * 1024

	// headCaptureSize bounds the header bytes kept for locating patch offsets
	headCaptureSize = 4096
)

// sink buffers writes to the output and remembers the first failure. Writes
// never report an error to the block writer: ebml-go treats one as fatal and
// stops its writer goroutine, so the failure is surfaced through Err instead.
type sink struct {
	mu      sync.Mutex
	dst     io.WriteCloser
	buf     *bufio.Writer
	err     error
	head    []byte
	capture bool
	patch   *patch
	once    sync.Once
	closed  chan struct{}
}

// patch is rewritten at off after the last flush, before the output closes
type patch struct {
	off  int64
	data []byte
}

func newSink(dst io.WriteCloser) *sink {
	return &sink{
		dst:     dst,
		buf:     bufio.NewWriterSize(dst, sinkBufferSize),
		capture: true,
		closed:  make(chan struct{}),
	}
}

func (s *sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.capture && len(s.head) < headCaptureSize {
		n := min(len(p), headCaptureSize-len(s.head))
		s.head = append(s.head, p[:n]...)
	}

	if s.err != nil {
		return len(p), nil
	}
	if _, err := s.buf.Write(p); err != nil {
		s.err = err
	}
	return len(p), nil
}

// fail records err unless an earlier failure is already recorded
func (s *sink) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// locate stops capturing and returns the offset of the first occurrence of
// pattern in the captured header, or -1
func (s *sink) locate(pattern []byte) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capture = false
	i := bytes.Index(s.head, pattern)
	s.head = nil
	return int64(i)
}

// seekable reports whether the destination supports patching in place
func (s *sink) seekable() bool {
	_, ok := s.dst.(io.WriterAt)
	return ok
}

func (s *sink) setPatch(off int64, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patch = &patch{off: off, data: data}
}

// Close flushes, applies the pending patch and closes the destination once
func (s *sink) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if err := s.buf.Flush(); err != nil && s.err == nil {
			s.err = err
		}
		if s.patch != nil && s.err == nil {
			if wa, ok := s.dst.(io.WriterAt); ok {
				if _, err := wa.WriteAt(s.patch.data, s.patch.off); err != nil {
					s.err = err
				}
			}
		}
		if err := s.dst.Close(); err != nil && s.err == nil {
			s.err = err
		}
		close(s.closed)
	})
	return s.Err()
}

// Err returns the first write, flush, patch or close error
func (s *sink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
