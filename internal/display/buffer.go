// Package display holds the frames shown in the dashboard video feed: the
// latest raw camera frame and, while verification or enrollment runs, an
// annotated overlay frame.
package display

import (
	"image"
	"sync"
)

// Buffer has its own lock, separate from the state lock, because frame
// copies are comparatively slow.
type Buffer struct {
	mu      sync.Mutex
	latest  image.Image
	overlay image.Image
	status  string
	active  bool
}

func NewBuffer() *Buffer { return &Buffer{} }

func (b *Buffer) SetLatest(img image.Image) {
	b.mu.Lock()
	b.latest = img
	b.mu.Unlock()
}

// Activate starts an overlay session with a blank overlay.
func (b *Buffer) Activate() {
	b.mu.Lock()
	b.active = true
	b.overlay = nil
	b.status = ""
	b.mu.Unlock()
}

// Publish replaces the overlay frame. It is ignored outside an overlay
// session, and blank frames never replace the raw feed.
func (b *Buffer) Publish(img image.Image, status string) {
	if img == nil || isBlank(img) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.active {
		return
	}
	b.overlay = img
	b.status = status
}

func (b *Buffer) Deactivate() {
	b.mu.Lock()
	b.active = false
	b.overlay = nil
	b.status = ""
	b.mu.Unlock()
}

func (b *Buffer) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// Frame returns the frame to stream: the overlay when an overlay session
// has painted one, otherwise the latest raw frame. img is nil when no
// frame has been captured yet.
func (b *Buffer) Frame() (img image.Image, status string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.active && b.overlay != nil {
		return b.overlay, b.status
	}
	return b.latest, ""
}

func isBlank(img image.Image) bool {
	if rgba, ok := img.(*image.RGBA); ok {
		for _, v := range rgba.Pix {
			if v != 0 {
				return false
			}
		}
		return true
	}
	r := img.Bounds()
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			cr, cg, cb, _ := img.At(x, y).RGBA()
			if cr|cg|cb != 0 {
				return false
			}
		}
	}
	return true
}
