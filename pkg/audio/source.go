package audio

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrPollTimeout is returned by [Stream.Next] when no frame arrived within the
// poll timeout. It is not a failure; callers simply poll again.
var ErrPollTimeout = errors.New("audio: no frame within poll timeout")

// ErrStreamClosed is returned by [Stream.Next] once the stream has been closed
// or its producer finished and every queued frame has been consumed.
var ErrStreamClosed = errors.New("audio: stream closed")

// CaptureError reports that the capture device could not be opened or failed
// mid-stream. It is recoverable: the current listening window is abandoned and
// the next one opens a fresh stream.
type CaptureError struct {
	// Op names the failing step, e.g. "open" or "read".
	Op string

	// Err is the underlying driver error.
	Err error
}

// Error implements error.
func (e *CaptureError) Error() string {
	return fmt.Sprintf("audio: capture %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *CaptureError) Unwrap() error { return e.Err }

// Source opens capture sessions. Implementations wrap a device driver, a
// subprocess, or a file.
type Source interface {
	// Open starts a capture session. A device that cannot be opened yields a
	// *[CaptureError].
	Open(ctx context.Context, cfg CaptureConfig) (Stream, error)
}

// Stream is a pull-based sequence of frames. It is used by a single consumer
// goroutine; Close may be called from any goroutine.
type Stream interface {
	// Next returns the next frame in arrival order. It waits at most timeout
	// and returns [ErrPollTimeout] when nothing arrived. A mid-capture failure
	// is returned as a *[CaptureError] after all frames queued before the
	// failure have been delivered. Context cancellation returns ctx.Err().
	Next(ctx context.Context, timeout time.Duration) (Frame, error)

	// Close stops capture and releases the device. It is safe to call more
	// than once.
	Close() error
}
