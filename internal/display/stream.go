package display

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"github.com/nfnt/resize"

	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/checkpoint/types"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/clock"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/events"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/logging"
)

type StreamConfig struct {
	Interval    time.Duration // 500ms
	Width       uint          // 640
	Height      uint          // 480
	JPEGQuality int           // 40
}

func (c StreamConfig) withDefaults() StreamConfig {
	if c.Interval <= 0 {
		c.Interval = 500 * time.Millisecond
	}
	if c.Width == 0 {
		c.Width = 640
	}
	if c.Height == 0 {
		c.Height = 480
	}
	if c.JPEGQuality <= 0 || c.JPEGQuality > 100 {
		c.JPEGQuality = 40
	}
	return c
}

// Streamer publishes the buffer as video_frame events.
type Streamer struct {
	buf    *Buffer
	emit   events.Emitter
	clock  clock.Clock
	cfg    StreamConfig
	logger *logging.Logger
}

func NewStreamer(buf *Buffer, emit events.Emitter, c clock.Clock, cfg StreamConfig, logger *logging.Logger) *Streamer {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Streamer{buf: buf, emit: emit, clock: c, cfg: cfg.withDefaults(), logger: logger}
}

// Run streams until ctx ends. Encoding failures are logged and retried
// after a second.
func (s *Streamer) Run(ctx context.Context) {
	for {
		wait := s.cfg.Interval
		img, status := s.buf.Frame()
		if img == nil {
			wait = 100 * time.Millisecond
		} else if err := s.Publish(img, status); err != nil {
			s.logger.Errorf("stream: %v", err)
			wait = time.Second
		}
		if clock.SleepContext(ctx, s.clock, wait) != nil {
			return
		}
	}
}

// Publish encodes one frame and broadcasts it.
func (s *Streamer) Publish(img image.Image, status string) error {
	b64, err := EncodeFrame(img, s.cfg.Width, s.cfg.Height, s.cfg.JPEGQuality)
	if err != nil {
		return err
	}
	s.emit.Broadcast(types.EventVideoFrame, types.VideoFrame{Image: b64, Status: status})
	return nil
}

// EncodeFrame scales img to width x height and returns it as a base64
// JPEG.
func EncodeFrame(img image.Image, width, height uint, quality int) (string, error) {
	b := img.Bounds()
	if uint(b.Dx()) != width || uint(b.Dy()) != height {
		img = resize.Resize(width, height, img, resize.Bilinear)
	}
	var out bytes.Buffer
	if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: quality}); err != nil {
		return "", fmt.Errorf("jpeg encode: %w", err)
	}
	return base64.StdEncoding.EncodeToString(out.Bytes()), nil
}
