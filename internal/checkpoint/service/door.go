package service

import (
	"context"
	"time"

	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/clock"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/hardware"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/logging"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/metrics"
)

type DoorConfig struct {
	// OpenDuration is the whole unlocked span, drive time included.
	OpenDuration time.Duration
	Hold         time.Duration
	UnlockDuty   float64
	LockDuty     float64
}

func (c DoorConfig) withDefaults() DoorConfig {
	if c.OpenDuration <= 0 {
		c.OpenDuration = 10 * time.Second
	}
	if c.Hold <= 0 {
		c.Hold = 500 * time.Millisecond
	}
	if c.UnlockDuty <= 0 {
		c.UnlockDuty = 9.3
	}
	if c.LockDuty <= 0 {
		c.LockDuty = 4.3
	}
	return c
}

// DoorController runs one unlock/lock cycle per unlock signal. Presence
// polling is paused while doorOperationActive is set.
type DoorController struct {
	servo   hardware.ServoActuator
	signal  *UnlockSignal
	state   *State
	clock   clock.Clock
	cfg     DoorConfig
	logger  *logging.Logger
	metrics *metrics.Metrics
}

func NewDoorController(
	servo hardware.ServoActuator,
	signal *UnlockSignal,
	state *State,
	c clock.Clock,
	cfg DoorConfig,
	logger *logging.Logger,
	m *metrics.Metrics,
) *DoorController {
	if c == nil {
		c = clock.Real()
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &DoorController{
		servo:   servo,
		signal:  signal,
		state:   state,
		clock:   c,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		metrics: m,
	}
}

// Run locks the door, then serves unlock signals until ctx ends.
func (d *DoorController) Run(ctx context.Context) {
	d.drive(d.cfg.LockDuty)

	for {
		if err := d.signal.Wait(ctx); err != nil {
			return
		}
		d.cycle(ctx)
	}
}

func (d *DoorController) cycle(ctx context.Context) {
	d.state.SetDoorOperationActive(true)
	defer func() {
		if r := recover(); r != nil {
			d.logger.Errorf("door: cycle panic: %v", r)
		}
		d.state.SetDoorOperationActive(false)
		d.signal.Clear()
	}()

	d.logger.Infof("door: unlocking for %v", d.cfg.OpenDuration)
	d.drive(d.cfg.UnlockDuty)

	// Cancellation cuts the open span short but the door is still locked.
	_ = clock.SleepContext(ctx, d.clock, d.cfg.OpenDuration-d.cfg.Hold)

	d.logger.Infof("door: locking")
	d.drive(d.cfg.LockDuty)
	d.metrics.DoorCycle()
}

// drive moves the servo, holds while it travels, then drops the signal.
func (d *DoorController) drive(duty float64) {
	d.servo.DriveTo(duty)
	d.clock.Sleep(d.cfg.Hold)
	d.servo.Stop()
}
