package service

import (
	"context"
	"strings"
	"time"

	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/checkpoint/types"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/clock"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/events"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/hardware"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/logging"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/metrics"
)

// StatusPublisher mirrors the debounced awake state to an external
// channel (the MQTT sink).
type StatusPublisher interface {
	PublishStatus(active bool, at time.Time) error
}

type CardLoopConfig struct {
	Tick           time.Duration // 100ms
	HeartbeatTicks int           // 20
	Grace          time.Duration // 5s
	ErrorBackoff   time.Duration // 1s
}

func (c CardLoopConfig) withDefaults() CardLoopConfig {
	if c.Tick <= 0 {
		c.Tick = 100 * time.Millisecond
	}
	if c.HeartbeatTicks <= 0 {
		c.HeartbeatTicks = 20
	}
	if c.Grace <= 0 {
		c.Grace = 5 * time.Second
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = time.Second
	}
	return c
}

type CardLoopDeps struct {
	State        *State
	Reader       hardware.CardReader
	Admin        *AdminGate
	Orchestrator *Orchestrator
	Emitter      events.Emitter
	Status       StatusPublisher
	Clock        clock.Clock
	Logger       *logging.Logger
	Metrics      *metrics.Metrics
}

// CardLoop publishes the debounced system status and, while the system
// is awake, reads the card reader and routes each UID to the admin gate
// or the orchestrator.
type CardLoop struct {
	state   *State
	reader  hardware.CardReader
	admin   *AdminGate
	orch    *Orchestrator
	emit    events.Emitter
	status  StatusPublisher
	clock   clock.Clock
	cfg     CardLoopConfig
	logger  *logging.Logger
	metrics *metrics.Metrics

	hyst      *Hysteresis
	last      bool
	published bool
	ticks     int
}

func NewCardLoop(d CardLoopDeps, cfg CardLoopConfig) *CardLoop {
	if d.Emitter == nil {
		d.Emitter = events.Nop{}
	}
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	cfg = cfg.withDefaults()
	return &CardLoop{
		state:   d.State,
		reader:  d.Reader,
		admin:   d.Admin,
		orch:    d.Orchestrator,
		emit:    d.Emitter,
		status:  d.Status,
		clock:   d.Clock,
		cfg:     cfg,
		logger:  d.Logger,
		metrics: d.Metrics,
		hyst:    NewHysteresis(cfg.Grace),
	}
}

func (l *CardLoop) Run(ctx context.Context) {
	for {
		if clock.SleepContext(ctx, l.clock, l.cfg.Tick) != nil {
			return
		}
		if err := l.Tick(ctx); err != nil && ctx.Err() == nil {
			l.logger.Errorf("card loop: %v", err)
			if clock.SleepContext(ctx, l.clock, l.cfg.ErrorBackoff) != nil {
				return
			}
		}
	}
}

// Tick runs one iteration of the loop.
func (l *CardLoop) Tick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
		}
	}()

	l.ticks++
	act := l.state.Activity()
	now := l.clock.Now()
	awake := l.hyst.Observe(act.SystemActive, act.InteractionInProgress, now)

	if !l.published || awake != l.last || l.ticks >= l.cfg.HeartbeatTicks {
		changed := !l.published || awake != l.last
		l.emit.Broadcast(types.EventSystemStatus, types.SystemStatus{Active: awake})
		l.last = awake
		l.published = true
		l.ticks = 0
		if changed {
			l.metrics.SetSystemActive(awake)
			if l.status != nil {
				if err := l.status.PublishStatus(awake, now); err != nil {
					l.logger.Warnf("card loop: publish status: %v", err)
				}
			}
		}
	}

	if !awake {
		return nil
	}

	if l.admin != nil && l.admin.Pending() {
		if uid, ok := l.read(); ok {
			l.admin.HandleCard(ctx, uid)
		}
		return nil
	}

	// Cards stay queued in the reader until the running interaction ends.
	if act.InteractionInProgress {
		return nil
	}
	uid, ok := l.read()
	if !ok {
		return nil
	}
	l.logger.Infof("card loop: card detected: %s", uid)
	if !l.orch.Submit(uid) {
		l.logger.Warnf("card loop: card %s dropped, interaction in progress", uid)
	}
	return nil
}

func (l *CardLoop) read() (string, bool) {
	uid, ok := l.reader.ReadNonBlocking()
	if !ok {
		return "", false
	}
	uid = strings.TrimSpace(uid)
	return uid, uid != ""
}
