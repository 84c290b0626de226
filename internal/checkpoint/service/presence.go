package service

import (
	"context"
	"time"

	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/clock"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/hardware"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/logging"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/metrics"
)

type PresenceConfig struct {
	WakeDistanceCM  float64       // 30
	Dwell           time.Duration // 10s
	InteractionPoll time.Duration // 1s
	Backoff         time.Duration // 200ms
	DoorPausedPoll  time.Duration // 500ms
	ErrorBackoff    time.Duration // 1s
}

func (c PresenceConfig) withDefaults() PresenceConfig {
	if c.WakeDistanceCM <= 0 {
		c.WakeDistanceCM = 30
	}
	if c.Dwell <= 0 {
		c.Dwell = 10 * time.Second
	}
	if c.InteractionPoll <= 0 {
		c.InteractionPoll = time.Second
	}
	if c.Backoff <= 0 {
		c.Backoff = 200 * time.Millisecond
	}
	if c.DoorPausedPoll <= 0 {
		c.DoorPausedPoll = 500 * time.Millisecond
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = time.Second
	}
	return c
}

// PresenceMonitor wakes the system when someone stands close to the gate
// and lets it sleep again once the dwell window has passed and no
// interaction is running.
type PresenceMonitor struct {
	sensor  hardware.DistanceSensor
	state   *State
	clock   clock.Clock
	cfg     PresenceConfig
	logger  *logging.Logger
	metrics *metrics.Metrics
}

func NewPresenceMonitor(
	sensor hardware.DistanceSensor,
	state *State,
	c clock.Clock,
	cfg PresenceConfig,
	logger *logging.Logger,
	m *metrics.Metrics,
) *PresenceMonitor {
	if c == nil {
		c = clock.Real()
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &PresenceMonitor{
		sensor:  sensor,
		state:   state,
		clock:   c,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		metrics: m,
	}
}

func (p *PresenceMonitor) Run(ctx context.Context) {
	for ctx.Err() == nil {
		if err := p.step(ctx); err != nil && ctx.Err() == nil {
			p.logger.Errorf("presence: %v", err)
			_ = clock.SleepContext(ctx, p.clock, p.cfg.ErrorBackoff)
		}
	}
}

func (p *PresenceMonitor) step(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
		}
	}()

	if p.state.DoorOperationActive() {
		return clock.SleepContext(ctx, p.clock, p.cfg.DoorPausedPoll)
	}

	cm, ok := p.sensor.Measure(ctx)
	if !ok || cm >= p.cfg.WakeDistanceCM {
		return clock.SleepContext(ctx, p.clock, p.cfg.Backoff)
	}

	if p.state.SetSystemActive(true) {
		p.logger.Infof("presence: person detected (%.1f cm), system active", cm)
		p.metrics.SetSystemActive(true)
	}

	if err := clock.SleepContext(ctx, p.clock, p.cfg.Dwell); err != nil {
		return err
	}
	for p.state.InteractionInProgress() {
		if err := clock.SleepContext(ctx, p.clock, p.cfg.InteractionPoll); err != nil {
			return err
		}
	}

	p.state.SetSystemActive(false)
	p.logger.Infof("presence: system inactive")
	p.metrics.SetSystemActive(false)
	return clock.SleepContext(ctx, p.clock, p.cfg.Backoff)
}

// Hysteresis debounces the raw presence flag for the UI and the card
// loop: it wakes on the first active reading and only sleeps once the
// system has been inactive with no interaction for the whole grace period.
type Hysteresis struct {
	grace   time.Duration
	awake   bool
	pending bool
	since   time.Time
}

func NewHysteresis(grace time.Duration) *Hysteresis {
	if grace <= 0 {
		grace = 5 * time.Second
	}
	return &Hysteresis{grace: grace}
}

// Observe feeds one sample and returns the debounced state.
func (h *Hysteresis) Observe(raw, interacting bool, now time.Time) bool {
	if raw || (h.awake && interacting) {
		h.awake = true
		h.pending = false
		return true
	}
	if !h.awake {
		return false
	}
	if !h.pending {
		h.pending = true
		h.since = now
	}
	if now.Sub(h.since) >= h.grace {
		h.awake = false
		h.pending = false
	}
	return h.awake
}
