// Package camera serializes access to the single capture device shared by
// the capture loop, verification and enrollment.
package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/clock"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/logging"
)

var (
	// ErrUnavailable means no device index could be opened.
	ErrUnavailable = errors.New("camera: no usable device")
	// ErrNoFrame means the device is open but returned no frame this time.
	ErrNoFrame = errors.New("camera: no frame")
)

// Device is an opened capture device.
type Device interface {
	Read() (image.Image, error)
	Close() error
}

// Opener opens the device at index.
type Opener func(index int) (Device, error)

// FrameSource is what consumers of the shared camera depend on.
type FrameSource interface {
	Read(ctx context.Context) (image.Image, error)
}

// Shared owns the device handle. Reads hold the lock for the duration of
// the device call; the handle is not safe for concurrent reads.
type Shared struct {
	mu      sync.Mutex
	open    Opener
	indices int
	dev     Device
	logger  *logging.Logger
}

// NewShared tries indices 0..indices-1 when (re)opening. indices <= 0
// defaults to 3.
func NewShared(open Opener, indices int, logger *logging.Logger) *Shared {
	if indices <= 0 {
		indices = 3
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Shared{open: open, indices: indices, logger: logger}
}

// Init opens the first index that yields a frame. It is a no-op when a
// device is already open.
func (s *Shared) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initLocked()
}

func (s *Shared) initLocked() error {
	if s.dev != nil {
		return nil
	}
	for idx := 0; idx < s.indices; idx++ {
		dev, err := s.open(idx)
		if err != nil {
			s.logger.Warnf("camera: index %d: %v", idx, err)
			continue
		}
		if _, err := dev.Read(); err != nil {
			_ = dev.Close()
			s.logger.Warnf("camera: index %d opened but unreadable: %v", idx, err)
			continue
		}
		s.logger.Infof("camera: initialized at index %d", idx)
		s.dev = dev
		return nil
	}
	return ErrUnavailable
}

// Read returns one frame, opening the device first if needed. A failed
// read drops the handle so the next call reopens it.
func (s *Shared) Read(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.initLocked(); err != nil {
		return nil, err
	}
	img, err := s.dev.Read()
	if err != nil {
		_ = s.dev.Close()
		s.dev = nil
		return nil, fmt.Errorf("%w: %v", ErrNoFrame, err)
	}
	if img == nil {
		return nil, ErrNoFrame
	}
	return img, nil
}

func (s *Shared) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dev == nil {
		return nil
	}
	err := s.dev.Close()
	s.dev = nil
	return err
}

// FrameSink receives the latest raw frame.
type FrameSink interface {
	SetLatest(img image.Image)
}

// CaptureLoop copies frames from src into sink every interval until ctx
// ends. Missing frames are skipped silently; the device is reopened on
// the next read.
func CaptureLoop(ctx context.Context, src FrameSource, sink FrameSink, c clock.Clock, interval time.Duration, logger *logging.Logger) {
	if logger == nil {
		logger = logging.Discard()
	}
	unavailableLogged := false
	for {
		img, err := src.Read(ctx)
		switch {
		case err == nil:
			sink.SetLatest(img)
			unavailableLogged = false
		case errors.Is(err, ErrUnavailable):
			if !unavailableLogged {
				logger.Warnf("camera: capture paused: %v", err)
				unavailableLogged = true
			}
		}
		if clock.SleepContext(ctx, c, interval) != nil {
			return
		}
	}
}
