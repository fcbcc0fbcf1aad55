package render

import (
	"image"
	"sync"
)

// Frame is a published preview.
type Frame struct {
	Version int64
	Quality Quality
	Image   image.Image
}

// Publisher forwards frames to a sink while keeping the displayed version
// non-decreasing. A frame is accepted when its version is newer than the last
// published one, or equal with at least the same quality.
type Publisher struct {
	mu   sync.Mutex
	last Frame
	has  bool
	sink func(Frame)
}

// NewPublisher returns a Publisher calling sink for every accepted frame.
// sink runs with the publisher locked, in publish order.
func NewPublisher(sink func(Frame)) *Publisher {
	return &Publisher{sink: sink}
}

// Publish reports whether f was accepted.
func (p *Publisher) Publish(f Frame) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.has && (f.Version < p.last.Version || (f.Version == p.last.Version && f.Quality < p.last.Quality)) {
		return false
	}
	p.last, p.has = f, true
	if p.sink != nil {
		p.sink(f)
	}
	return true
}

// Latest returns the last accepted frame.
func (p *Publisher) Latest() (Frame, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last, p.has
}
