package config

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/MrWong99/voxquiz/pkg/audio"
	"github.com/MrWong99/voxquiz/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps VAD engine and audio source names to their constructors. It
// is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	vad   map[string]func(VADConfig) (vad.Engine, error)
	audio map[string]func(AudioConfig) (audio.Source, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		vad:   make(map[string]func(VADConfig) (vad.Engine, error)),
		audio: make(map[string]func(AudioConfig) (audio.Source, error)),
	}
}

// RegisterVAD registers a VAD engine factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterVAD(name string, factory func(VADConfig) (vad.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// RegisterAudio registers an audio source factory under name.
func (r *Registry) RegisterAudio(name string, factory func(AudioConfig) (audio.Source, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[name] = factory
}

// CreateVAD instantiates the VAD engine registered under cfg.Engine.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateVAD(cfg VADConfig) (vad.Engine, error) {
	r.mu.RLock()
	factory, ok := r.vad[cfg.Engine]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrProviderNotRegistered, cfg.Engine)
	}
	return factory(cfg)
}

// CreateAudio instantiates the audio source registered under cfg.Source.
func (r *Registry) CreateAudio(cfg AudioConfig) (audio.Source, error) {
	r.mu.RLock()
	factory, ok := r.audio[cfg.Source]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: audio/%q", ErrProviderNotRegistered, cfg.Source)
	}
	return factory(cfg)
}

// Names returns the registered VAD engine and audio source names, sorted.
func (r *Registry) Names() (vads, sources []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for n := range r.vad {
		vads = append(vads, n)
	}
	for n := range r.audio {
		sources = append(sources, n)
	}
	sort.Strings(vads)
	sort.Strings(sources)
	return vads, sources
}
