// Package mock provides a test double for the stt.Transcriber interface.
//
// Script the reply with Result/Err (or Fn for per-call behaviour) and inspect
// Requests afterwards:
//
//	tr := &mock.Transcriber{Result: stt.Result{Text: " Hey Bible "}}
//	res, _ := tr.Transcribe(ctx, req)
//	_ = tr.Requests[0].Samples
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/voicebible/pkg/provider/stt"
)

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Result is returned when Fn is nil and Err is nil.
	Result stt.Result

	// Err, if non-nil, is returned by every call when Fn is nil.
	Err error

	// Fn, if set, computes the reply for each call.
	Fn func(ctx context.Context, req stt.Request) (stt.Result, error)

	// Requests records a copy of every request.
	Requests []stt.Request
}

// Transcribe records the request and returns the scripted reply.
func (m *Transcriber) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	m.mu.Lock()
	rec := req
	rec.Samples = slices.Clone(req.Samples)
	rec.Keywords = slices.Clone(req.Keywords)
	m.Requests = append(m.Requests, rec)
	fn, res, err := m.Fn, m.Result, m.Err
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return res, err
}

// CallCount returns the number of Transcribe calls.
func (m *Transcriber) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

var _ stt.Transcriber = (*Transcriber)(nil)
