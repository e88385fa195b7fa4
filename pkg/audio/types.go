// Package audio defines the frame model and capture contracts shared by every
// audio backend, plus the bounded queue that hands frames from a capture
// goroutine to the listening loop.
package audio

import (
	"fmt"
	"time"
)

// Frame is one fixed-duration chunk of mono 16-bit PCM in arrival order.
// Frames are immutable once produced; consumers must not modify Samples.
type Frame struct {
	// Samples holds exactly [Format.FrameSize] signed 16-bit samples.
	Samples []int16

	// Index is the arrival index assigned by the [Queue], starting at 0 for
	// the first frame of a stream.
	Index uint64

	// Captured is the wall-clock time the frame was enqueued.
	Captured time.Time
}

// Format describes the sample layout of a capture stream.
type Format struct {
	// SampleRate in Hz (e.g., 16000).
	SampleRate int

	// FrameDurationMs is the duration of one frame in milliseconds.
	FrameDurationMs int

	// Channels is the channel count. The listening pipeline only accepts mono.
	Channels int
}

// FrameSize returns the number of samples in one frame:
// SampleRate * FrameDurationMs / 1000.
func (f Format) FrameSize() int {
	return f.SampleRate * f.FrameDurationMs / 1000
}

// FrameDuration returns the duration of one frame.
func (f Format) FrameDuration() time.Duration {
	return time.Duration(f.FrameDurationMs) * time.Millisecond
}

// String returns a human-readable form such as "16000Hz mono 30ms".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s %dms", f.SampleRate, ch, f.FrameDurationMs)
}

// CaptureConfig configures one capture session.
type CaptureConfig struct {
	Format

	// Device selects the input device. Its meaning is backend-specific (a
	// device name or index for PortAudio, an input target for ffmpeg, a file
	// path for the WAV replay source). Empty selects the default device.
	Device string

	// QueueSize bounds the number of frames buffered between the producer
	// and the consumer. Zero selects [DefaultQueueSize].
	QueueSize int
}
