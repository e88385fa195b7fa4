package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/voicebible/pkg/audio"
	"github.com/MrWong99/voicebible/pkg/provider/stt"
	"github.com/MrWong99/voicebible/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory signatures for each provider kind.
type (
	AudioFactory func(ProviderEntry) (audio.Source, error)
	VADFactory   func(ProviderEntry) (vad.Engine, error)
	STTFactory   func(ProviderEntry) (stt.Transcriber, error)
)

// Registry maps provider names to their constructor functions for each
// provider kind. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	audio map[string]AudioFactory
	vad   map[string]VADFactory
	stt   map[string]STTFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		audio: make(map[string]AudioFactory),
		vad:   make(map[string]VADFactory),
		stt:   make(map[string]STTFactory),
	}
}

// RegisterAudio registers an audio source factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterAudio(name string, factory AudioFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[name] = factory
}

// RegisterVAD registers a VAD engine factory under name.
func (r *Registry) RegisterVAD(name string, factory VADFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// RegisterSTT registers an STT transcriber factory under name.
func (r *Registry) RegisterSTT(name string, factory STTFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// CreateAudio instantiates an audio source using the factory registered under
// entry.Name. Returns [ErrProviderNotRegistered] if no factory matches.
func (r *Registry) CreateAudio(entry ProviderEntry) (audio.Source, error) {
	return create(r, r.audio, "audio", entry)
}

// CreateVAD instantiates a VAD engine using the factory registered under entry.Name.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Engine, error) {
	return create(r, r.vad, "vad", entry)
}

// CreateSTT instantiates an STT transcriber using the factory registered under entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Transcriber, error) {
	return create(r, r.stt, "stt", entry)
}

// Names returns the sorted provider names registered for kind ("audio", "vad"
// or "stt"). Unknown kinds yield nil.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case "audio":
		return slices.Sorted(maps.Keys(r.audio))
	case "vad":
		return slices.Sorted(maps.Keys(r.vad))
	case "stt":
		return slices.Sorted(maps.Keys(r.stt))
	}
	return nil
}

func create[T any, F ~func(ProviderEntry) (T, error)](r *Registry, m map[string]F, kind string, entry ProviderEntry) (T, error) {
	r.mu.RLock()
	factory, ok := m[entry.Name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, entry.Name)
	}
	return factory(entry)
}

// OptString extracts a string value from the entry's Options.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func (e ProviderEntry) OptString(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// OptBool extracts a boolean option, returning def when absent or mistyped.
func (e ProviderEntry) OptBool(key string, def bool) bool {
	if b, ok := e.Options[key].(bool); ok {
		return b
	}
	return def
}

// OptFloat extracts a numeric option as float64, returning def when absent or
// not a number. YAML integers are accepted.
func (e ProviderEntry) OptFloat(key string, def float64) float64 {
	switch v := e.Options[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

// OptInt extracts an integer option, returning def when absent or not an
// integer.
func (e ProviderEntry) OptInt(key string, def int) int {
	if v, ok := e.Options[key].(int); ok {
		return v
	}
	return def
}
