package shell

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// stdinRelay serializes writes to the child's standard input and remembers
// once the pipe has gone away.
type stdinRelay struct {
	mu     sync.Mutex
	w      io.WriteCloser
	closed bool
}

func newStdinRelay(w io.WriteCloser) *stdinRelay {
	return &stdinRelay{w: w}
}

func (r *stdinRelay) send(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.w == nil {
		return ErrClosedPipe
	}
	if _, err := io.WriteString(r.w, terminateLine(text)); err != nil {
		if isClosedPipe(err) {
			_ = r.closeLocked()
			return fmt.Errorf("%w: %v", ErrClosedPipe, err)
		}
		return fmt.Errorf("write stdin: %w", err)
	}
	return nil
}

func (r *stdinRelay) close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeLocked()
}

func (r *stdinRelay) closeLocked() error {
	if r.closed || r.w == nil {
		r.closed = true
		return nil
	}
	r.closed = true
	if err := r.w.Close(); err != nil && !isClosedPipe(err) {
		return fmt.Errorf("close stdin: %w", err)
	}
	return nil
}

// terminateLine makes text end in exactly one platform line terminator.
func terminateLine(text string) string {
	text = strings.TrimSuffix(text, "\n")
	text = strings.TrimSuffix(text, "\r")
	return text + lineTerminator
}
