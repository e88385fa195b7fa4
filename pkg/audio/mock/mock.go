// Package mock provides scripted implementations of [audio.Source] and
// [audio.Stream] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every call so that tests
// can assert on call counts and arguments.
//
// Typical usage:
//
//	stream := &mock.Stream{Steps: []mock.Step{
//	    {Samples: speech},
//	    {Err: &audio.CaptureError{Op: "read", Err: io.ErrUnexpectedEOF}},
//	}}
//	src := &mock.Source{Streams: []*mock.Stream{stream}}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voicebible/pkg/audio"
)

// Step is one scripted result of [Stream.Next]: either a frame or an error.
type Step struct {
	Samples []int16
	Err     error
}

// Stream is a mock implementation of [audio.Stream]. Steps are returned in
// order. Once exhausted, Next waits for the poll timeout (or ctx) and returns
// [audio.ErrPollTimeout], like an idle device.
type Stream struct {
	mu sync.Mutex

	// Steps are consumed one per Next call.
	Steps []Step

	// CloseErr is returned by Close.
	CloseErr error

	// NextCalls counts calls to Next.
	NextCalls int

	// CloseCalls counts calls to Close.
	CloseCalls int

	pos   int
	index uint64
}

// Next implements [audio.Stream].
func (s *Stream) Next(ctx context.Context, timeout time.Duration) (audio.Frame, error) {
	s.mu.Lock()
	s.NextCalls++
	if err := ctx.Err(); err != nil {
		s.mu.Unlock()
		return audio.Frame{}, err
	}
	if s.pos < len(s.Steps) {
		step := s.Steps[s.pos]
		s.pos++
		if step.Err != nil {
			s.mu.Unlock()
			return audio.Frame{}, step.Err
		}
		f := audio.Frame{Samples: step.Samples, Index: s.index, Captured: time.Now()}
		s.index++
		s.mu.Unlock()
		return f, nil
	}
	s.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-timer.C:
		return audio.Frame{}, audio.ErrPollTimeout
	case <-ctx.Done():
		return audio.Frame{}, ctx.Err()
	}
}

// Close implements [audio.Stream].
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	return s.CloseErr
}

// Closed reports whether Close was called at least once.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCalls > 0
}

// Source is a mock implementation of [audio.Source]. Each Open call returns
// the next entry of Streams; when they run out a fresh empty [Stream] is
// returned.
type Source struct {
	mu sync.Mutex

	// Streams are handed out in order.
	Streams []*Stream

	// OpenErr, when set, is returned by every Open call.
	OpenErr error

	// OpenErrs, when non-empty, supplies per-call errors in order before
	// Streams are used. A nil entry means that call succeeds.
	OpenErrs []error

	// OpenCalls records the config of every Open call.
	OpenCalls []audio.CaptureConfig

	// Opened records every stream returned by Open.
	Opened []*Stream

	next int
}

// Open implements [audio.Source].
func (s *Source) Open(_ context.Context, cfg audio.CaptureConfig) (audio.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	call := len(s.OpenCalls)
	s.OpenCalls = append(s.OpenCalls, cfg)
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	if call < len(s.OpenErrs) && s.OpenErrs[call] != nil {
		return nil, s.OpenErrs[call]
	}

	var st *Stream
	if s.next < len(s.Streams) {
		st = s.Streams[s.next]
		s.next++
	} else {
		st = &Stream{}
	}
	s.Opened = append(s.Opened, st)
	return st, nil
}

// OpenCount returns the number of Open calls.
func (s *Source) OpenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.OpenCalls)
}

var (
	_ audio.Source = (*Source)(nil)
	_ audio.Stream = (*Stream)(nil)
)
