package audio

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultQueueSize is the frame capacity used when [CaptureConfig.QueueSize]
// is zero. At 30 ms per frame it buffers a little under eight seconds.
const DefaultQueueSize = 256

// QueueStats is a snapshot of a [Queue]'s counters.
type QueueStats struct {
	// Accepted counts frames that entered the queue.
	Accepted uint64

	// Delivered counts frames handed to the consumer.
	Delivered uint64

	// Undersized counts frames dropped because their sample count did not
	// match the frame size.
	Undersized uint64

	// Overflowed counts full-size frames dropped because the queue was full.
	Overflowed uint64
}

// Queue is the bounded FIFO between one producer (a device callback or reader
// goroutine) and one consumer. The producer never blocks: [Queue.Offer] drops
// instead of waiting. The consumer pulls with [Queue.Next], which implements
// [Stream.Next] for every backend in this module.
//
// Queue is safe for one concurrent producer and one concurrent consumer.
type Queue struct {
	frameSize int
	ch        chan Frame
	done      chan struct{}
	now       func() time.Time

	mu     sync.Mutex
	err    error
	closed bool
	next   uint64

	accepted   atomic.Uint64
	delivered  atomic.Uint64
	undersized atomic.Uint64
	overflowed atomic.Uint64
}

// NewQueue returns a queue for frames of exactly frameSize samples holding at
// most capacity frames. A non-positive capacity selects [DefaultQueueSize].
func NewQueue(frameSize, capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	return &Queue{
		frameSize: frameSize,
		ch:        make(chan Frame, capacity),
		done:      make(chan struct{}),
		now:       time.Now,
	}
}

// Offer enqueues a copy of samples as the next frame. It returns false when the
// frame was dropped: undersized or oversized, queue full, or queue terminated.
// Offer never blocks.
func (q *Queue) Offer(samples []int16) bool {
	if len(samples) != q.frameSize {
		q.undersized.Add(1)
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}

	buf := make([]int16, len(samples))
	copy(buf, samples)
	f := Frame{Samples: buf, Index: q.next, Captured: q.now()}

	select {
	case q.ch <- f:
		q.next++
		q.accepted.Add(1)
		return true
	default:
		q.overflowed.Add(1)
		return false
	}
}

// Fail terminates the queue with a producer error. Frames queued before the
// failure are still delivered; after that [Queue.Next] returns err. Only the
// first terminal error is kept.
func (q *Queue) Fail(err error) {
	q.terminate(err)
}

// Finish marks the end of the producer's data. After the remaining frames are
// delivered, [Queue.Next] returns [ErrStreamClosed].
func (q *Queue) Finish() {
	q.terminate(ErrStreamClosed)
}

func (q *Queue) terminate(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.err = err
	close(q.done)
}

// Next returns the oldest queued frame, waiting at most timeout. See
// [Stream.Next] for the error contract.
func (q *Queue) Next(ctx context.Context, timeout time.Duration) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	select {
	case f := <-q.ch:
		q.delivered.Add(1)
		return f, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f := <-q.ch:
		q.delivered.Add(1)
		return f, nil
	case <-q.done:
		select {
		case f := <-q.ch:
			q.delivered.Add(1)
			return f, nil
		default:
		}
		q.mu.Lock()
		defer q.mu.Unlock()
		return Frame{}, q.err
	case <-timer.C:
		return Frame{}, ErrPollTimeout
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

// FrameSize returns the exact sample count the queue accepts per frame.
func (q *Queue) FrameSize() int { return q.frameSize }

// Len returns the number of frames currently buffered.
func (q *Queue) Len() int { return len(q.ch) }

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() QueueStats {
	return QueueStats{
		Accepted:   q.accepted.Load(),
		Delivered:  q.delivered.Load(),
		Undersized: q.undersized.Load(),
		Overflowed: q.overflowed.Load(),
	}
}
