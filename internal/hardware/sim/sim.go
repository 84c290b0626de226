// Package sim provides in-process stand-ins for the gate hardware, used
// by the --sim mode and by tests.
package sim

import (
	"context"
	"image"
	"sync"

	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/hardware"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/logging"
)

var (
	_ hardware.DistanceSensor = (*DistanceSensor)(nil)
	_ hardware.CardReader     = (*CardReader)(nil)
	_ hardware.ServoActuator  = (*Servo)(nil)
)

// DistanceSensor returns whatever distance was last set. A negative value
// means no echo.
type DistanceSensor struct {
	mu sync.Mutex
	cm float64
}

func NewDistanceSensor(initial float64) *DistanceSensor {
	return &DistanceSensor{cm: initial}
}

func (d *DistanceSensor) Set(cm float64) {
	d.mu.Lock()
	d.cm = cm
	d.mu.Unlock()
}

func (d *DistanceSensor) Measure(ctx context.Context) (float64, bool) {
	if ctx.Err() != nil {
		return 0, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cm < 0 {
		return 0, false
	}
	return d.cm, true
}

// CardReader hands out queued UIDs one per read.
type CardReader struct {
	ch chan string
}

func NewCardReader(buffer int) *CardReader {
	if buffer <= 0 {
		buffer = 8
	}
	return &CardReader{ch: make(chan string, buffer)}
}

// Present queues a card read. It reports false when the queue is full.
func (r *CardReader) Present(uid string) bool {
	select {
	case r.ch <- uid:
		return true
	default:
		return false
	}
}

func (r *CardReader) ReadNonBlocking() (string, bool) {
	select {
	case uid := <-r.ch:
		return uid, true
	default:
		return "", false
	}
}

// ServoCall is one recorded servo command. Stop is recorded with Duty 0.
type ServoCall struct {
	Op   string
	Duty float64
}

// Servo logs and records every command.
type Servo struct {
	mu     sync.Mutex
	calls  []ServoCall
	logger *logging.Logger
}

func NewServo(logger *logging.Logger) *Servo {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Servo{logger: logger}
}

func (s *Servo) DriveTo(duty float64) {
	s.mu.Lock()
	s.calls = append(s.calls, ServoCall{Op: "drive", Duty: duty})
	s.mu.Unlock()
	s.logger.Infof("servo drive duty=%.1f", duty)
}

func (s *Servo) Stop() {
	s.mu.Lock()
	s.calls = append(s.calls, ServoCall{Op: "stop"})
	s.mu.Unlock()
}

func (s *Servo) Calls() []ServoCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ServoCall(nil), s.calls...)
}

// Camera is a capture device producing flat grey frames.
type Camera struct {
	width, height int
}

func NewCamera(width, height int) *Camera {
	if width <= 0 || height <= 0 {
		width, height = 640, 480
	}
	return &Camera{width: width, height: height}
}

func (c *Camera) Read() (image.Image, error) {
	img := image.NewRGBA(image.Rect(0, 0, c.width, c.height))
	for i := range img.Pix {
		img.Pix[i] = 0x60
	}
	return img, nil
}

func (c *Camera) Close() error { return nil }
