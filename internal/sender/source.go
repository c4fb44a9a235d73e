package sender

import (
	"fmt"
	"strings"
	"sync"
)

// CaptureSource selects where session audio comes from.
type CaptureSource int

const (
	SystemPlayback CaptureSource = iota
	Microphone
)

var sourceNames = map[CaptureSource]string{
	SystemPlayback: "playback",
	Microphone:     "microphone",
}

func (s CaptureSource) String() string {
	if name, ok := sourceNames[s]; ok {
		return name
	}
	return "unknown"
}

// ParseCaptureSource accepts "playback" or "microphone" (and the short
// forms "mic" and "apps").
func ParseCaptureSource(s string) (CaptureSource, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "playback", "apps", "system":
		return SystemPlayback, nil
	case "microphone", "mic":
		return Microphone, nil
	}
	return SystemPlayback, fmt.Errorf("unknown capture source %q", s)
}

// Selector holds the current capture source choice for the process.
type Selector struct {
	mu      sync.RWMutex
	current CaptureSource
}

func NewSelector(initial CaptureSource) *Selector {
	return &Selector{current: initial}
}

func (s *Selector) Current() CaptureSource {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *Selector) Select(src CaptureSource) {
	s.mu.Lock()
	s.current = src
	s.mu.Unlock()
	log.Info("selected audio source", "source", src.String())
}

// Options lists the selectable sources in display order.
func (s *Selector) Options() []CaptureSource {
	return []CaptureSource{SystemPlayback, Microphone}
}
