// Package stt defines the Transcriber interface for Speech-to-Text backends.
//
// A transcriber wraps a batch recognition engine (a local whisper.cpp model, a
// whisper.cpp server, or a hosted API) and turns one complete utterance into
// text. The listening loop only ever has one utterance in flight, so the
// contract is a single blocking call rather than a streaming session.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrEmptyAudio is returned when a request carries no samples.
var ErrEmptyAudio = errors.New("stt: request has no audio")

// Request is one utterance to transcribe.
type Request struct {
	// Samples is mono audio normalised to [-1.0, 1.0).
	Samples []float32

	// SampleRate is the rate of Samples in Hz.
	SampleRate int

	// Language is a BCP-47 language hint (e.g. "en"). Empty lets the provider
	// choose its default or auto-detect.
	Language string

	// Keywords are vocabulary hints (the command phrases) that providers with
	// biasing support use to improve recognition. Providers without such
	// support ignore them.
	Keywords []string
}

// Result is the recognised text of one utterance.
type Result struct {
	// Text is the raw transcript as returned by the engine. It may be empty
	// when the engine heard nothing intelligible.
	Text string
}

// Transcriber converts one utterance to text.
type Transcriber interface {
	// Transcribe blocks until the engine returns or ctx is done.
	Transcribe(ctx context.Context, req Request) (Result, error)
}
