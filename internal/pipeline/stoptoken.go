package pipeline

import (
	"sync"
	"sync/atomic"
)

// StopToken asks a running session to stop. It is safe for concurrent use
// and typically stopped from a signal handler.
type StopToken struct {
	stopped atomic.Bool
	once    sync.Once
	done    chan struct{}
}

// NewStopToken returns a token that has not been stopped
func NewStopToken() *StopToken {
	return &StopToken{done: make(chan struct{})}
}

// Stop requests the stop. Calling it again has no effect.
func (t *StopToken) Stop() {
	t.once.Do(func() {
		t.stopped.Store(true)
		close(t.done)
	})
}

// Stopped reports whether Stop has been called
func (t *StopToken) Stopped() bool {
	return t.stopped.Load()
}

// Done is closed by Stop
func (t *StopToken) Done() <-chan struct{} {
	return t.done
}
