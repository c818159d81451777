package generator

import (
	"context"
	"strings"
	"sync"
)

// streamBuffer bounds how far the model may run ahead of the reader.
const streamBuffer = 64

// Stream yields answer tokens as the model produces them.
//
//	for s.Next() {
//		fmt.Print(s.Token())
//	}
//	if err := s.Err(); err != nil { ... }
type Stream struct {
	tokens chan string
	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once

	endOnce sync.Once
	onEnd   func(error)

	cur string
	err error // written before done is closed
}

func newStream(cancel context.CancelFunc) *Stream {
	return &Stream{
		tokens: make(chan string, streamBuffer),
		done:   make(chan struct{}),
		cancel: cancel,
	}
}

// Next blocks until the next token is available. It returns false when the
// stream has ended, after which Err reports why.
func (s *Stream) Next() bool {
	tok, ok := <-s.tokens
	if !ok {
		s.end()
		return false
	}
	s.cur = tok
	return true
}

// Token returns the token read by the last call to Next.
func (s *Stream) Token() string {
	return s.cur
}

// Err returns the error that ended the stream, or nil while it is running or
// after it finished cleanly.
func (s *Stream) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close cancels generation and waits for the producer to stop. It is safe
// to call more than once.
func (s *Stream) Close() {
	s.once.Do(func() {
		s.cancel()
		for range s.tokens {
		}
		s.end()
	})
}

// OnEnd registers fn to run once when the stream ends, either because Next
// returned false or because Close was called. fn runs on the reader's
// goroutine and receives Err. It must be set before reading starts.
func (s *Stream) OnEnd(fn func(err error)) {
	s.onEnd = fn
}

func (s *Stream) end() {
	s.endOnce.Do(func() {
		if s.onEnd != nil {
			s.onEnd(s.Err())
		}
	})
}

// Collect reads the rest of the stream into a single string.
func (s *Stream) Collect() (string, error) {
	var b strings.Builder
	for s.Next() {
		b.WriteString(s.Token())
	}
	return b.String(), s.Err()
}

// send forwards a token, giving up if ctx is cancelled.
func (s *Stream) send(ctx context.Context, tok string) error {
	select {
	case s.tokens <- tok:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// finish records err, ends the stream and releases its context.
func (s *Stream) finish(err error) {
	s.err = err
	close(s.done)
	close(s.tokens)
	s.cancel()
}
