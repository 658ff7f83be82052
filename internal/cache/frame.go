package cache

import (
	"errors"
	"math"
	"sync"

	"github.com/tracelab/startupcal/internal/matcher"
	"github.com/tracelab/startupcal/pkg/core"
)

// ErrNotReady is returned when no frame near the requested index has been extracted yet.
var ErrNotReady = errors.New("frame not ready")

// FrameCache holds decoded frames keyed by frame index.
// Extraction results are merged from worker goroutines while the UI reads, so every
// access goes through the lock. Readers never wait on extraction itself.
type FrameCache struct {
	mu     sync.RWMutex
	frames *matcher.Index[[]byte]
}

// NewFrameCache creates an empty FrameCache.
func NewFrameCache() *FrameCache {
	return &FrameCache{
		frames: matcher.NewIndex[[]byte](),
	}
}

// Put stores image at index, replacing any frame already there.
func (c *FrameCache) Put(index float64, image []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames.Put(index, image)
}

// PutAll stores a batch of frames under a single lock.
func (c *FrameCache) PutAll(slots []core.FrameSlot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range slots {
		c.frames.Put(s.Index, s.Image)
	}
}

// Get returns the frame whose index is closest to approx, looking only at the
// floor and ceiling neighbours. The floor wins when both are equally close.
func (c *FrameCache) Get(approx float64) (core.FrameSlot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	fk, fv, fok := c.frames.Floor(approx)
	ck, cv, cok := c.frames.Ceiling(approx)

	switch {
	case fok && cok:
		if approx-fk <= ck-approx {
			return core.FrameSlot{Index: fk, Image: fv}, nil
		}
		return core.FrameSlot{Index: ck, Image: cv}, nil
	case fok:
		return core.FrameSlot{Index: fk, Image: fv}, nil
	case cok:
		return core.FrameSlot{Index: ck, Image: cv}, nil
	}
	return core.FrameSlot{}, ErrNotReady
}

// Has reports whether a frame exists within distance of index.
func (c *FrameCache) Has(index, within float64) bool {
	slot, err := c.Get(index)
	if err != nil {
		return false
	}
	return math.Abs(slot.Index-index) <= within
}

// Len returns the number of cached frames.
func (c *FrameCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.frames.Len()
}

// LastKey returns the highest cached frame index.
func (c *FrameCache) LastKey() (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	k, _, ok := c.frames.Last()
	return k, ok
}

// Keys returns the cached frame indices in ascending order.
func (c *FrameCache) Keys() []float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.frames.Keys()
}

// Reset drops every cached frame.
func (c *FrameCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames.Reset()
}
