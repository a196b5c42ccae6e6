package shell

import (
	"errors"
	"io"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
)

// multiplex runs both pumps and reaps the process alongside them. Once the
// child has exited the pumps drain what is left and the queue is closed.
func (s *Session) multiplex() {
	defer close(s.done)

	var g errgroup.Group
	g.Go(func() error { return s.pump(StreamStdout, s.stdout) })
	g.Go(func() error { return s.pump(StreamStderr, s.stderr) })

	waitErr := s.cmd.Wait()
	if err := s.stdin.close(); err != nil {
		s.logger.Debug("close stdin after exit", "session_id", s.ID, "err", err)
	}
	s.recordExit(waitErr)
	s.startDrain()

	if err := g.Wait(); err != nil {
		s.logger.Debug("pump stopped", "session_id", s.ID, "err", err)
	}
	close(s.queue)
}

// startDrain arms a read deadline on both pipes so a pump blocked on a pipe
// that a background process still holds wakes up. Pipes without deadline
// support are closed after the grace period instead.
func (s *Session) startDrain() {
	deadline := time.Now().Add(s.opts.DrainGrace)
	for _, pipe := range []*os.File{s.stdout, s.stderr} {
		if err := pipe.SetReadDeadline(deadline); err != nil {
			time.AfterFunc(s.opts.DrainGrace, func() { _ = pipe.Close() })
		}
	}
}

// drainReader pushes the read deadline forward before every read once the
// child has exited, so the grace period counts idle time only.
type drainReader struct {
	session *Session
	pipe    *os.File
}

func (r drainReader) Read(p []byte) (int, error) {
	if !r.session.Alive() {
		_ = r.pipe.SetReadDeadline(time.Now().Add(r.session.opts.DrainGrace))
	}
	return r.pipe.Read(p)
}

// pump copies decoded blocks from one pipe into the shared queue. Read
// errors end the stream; they are never surfaced to the consumer.
func (s *Session) pump(stream Stream, pipe *os.File) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("pump panicked", "session_id", s.ID, "stream", stream.String(), "panic", rec)
			err = nil
		}
	}()

	src := decodeReader(drainReader{session: s, pipe: pipe}, s.opts.Encoding)
	buf := make([]byte, s.opts.BlockSize)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			select {
			case s.queue <- Chunk{Stream: stream, Text: string(buf[:n])}:
			case <-s.closing:
				return nil
			}
		}
		if readErr != nil {
			switch {
			case errors.Is(readErr, io.EOF), errors.Is(readErr, os.ErrClosed):
			case errors.Is(readErr, os.ErrDeadlineExceeded):
				s.logger.Debug("pipe held open after exit", "session_id", s.ID, "stream", stream.String())
			default:
				s.logger.Debug("pump read ended", "session_id", s.ID, "stream", stream.String(), "err", readErr)
			}
			return nil
		}
	}
}
