package playback

import "sync"

// MemorySurface is a Surface that records the assigned source.
type MemorySurface struct {
	mu     sync.RWMutex
	src    string
	native bool
}

// NewMemorySurface creates a surface. native reports whether it plays HLS
// manifests without an engine.
func NewMemorySurface(native bool) *MemorySurface {
	return &MemorySurface{native: native}
}

// SetSource assigns the source URL.
func (s *MemorySurface) SetSource(url string) {
	s.mu.Lock()
	s.src = url
	s.mu.Unlock()
}

// Source returns the assigned source URL.
func (s *MemorySurface) Source() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.src
}

// CanPlayNative reports native HLS support.
func (s *MemorySurface) CanPlayNative() bool {
	return s.native
}
