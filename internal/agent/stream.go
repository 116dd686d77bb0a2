package agent

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"sync"

	"go.uber.org/zap"
)

const dataPrefix = "data:"

// Stream is a single-pass sequence of events read from an open response.
// It is not safe for concurrent use.
type Stream struct {
	body      io.ReadCloser
	reader    *bufio.Reader
	log       *zap.Logger
	finished  bool
	closeOnce sync.Once
	closeErr  error
}

func newStream(body io.ReadCloser, log *zap.Logger) *Stream {
	return &Stream{
		body:   body,
		reader: bufio.NewReader(body),
		log:    log,
	}
}

// NewStream wraps body as an event stream. Client.Stream is the usual entry
// point; this is exposed for callers holding a body from elsewhere.
func NewStream(body io.ReadCloser, log *zap.Logger) *Stream {
	if log == nil {
		log = zap.NewNop()
	}
	return newStream(body, log)
}

// Recv returns the next event. After a done or error event, or once the
// transport closes, it returns io.EOF. Any other error is a transport
// failure and also ends the stream.
func (s *Stream) Recv() (Event, error) {
	for {
		if s.finished {
			return nil, io.EOF
		}

		line, err := s.reader.ReadString('\n')
		if err != nil {
			// An unterminated trailing fragment is never a complete event.
			if line != "" {
				s.log.Debug("discarding unterminated stream fragment", zap.Int("bytes", len(line)))
			}
			s.finish()
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("read stream: %w", err)
		}

		payload, ok := strings.CutPrefix(strings.TrimRight(line, "\r\n"), dataPrefix)
		if !ok {
			continue
		}
		payload = strings.TrimSpace(payload)
		if payload == "" {
			continue
		}

		evt, err := DecodeEvent([]byte(payload))
		if err != nil {
			s.log.Warn("skipping malformed stream event", zap.Error(err), zap.String("line", truncate(payload, 200)))
			continue
		}
		if Terminal(evt) {
			s.finish()
		}
		return evt, nil
	}
}

// All adapts the stream to a range-over-func sequence. Iteration stops after
// the first error, and breaking out early closes the stream.
func (s *Stream) All() iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		defer s.Close()
		for {
			evt, err := s.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(evt, nil) {
				return
			}
		}
	}
}

// Close releases the underlying reader. It is safe to call more than once.
func (s *Stream) Close() error {
	s.finished = true
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}

func (s *Stream) finish() {
	_ = s.Close()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
