package service

import (
	"context"
	"time"

	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/checkpoint/store"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/clock"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/logging"
)

// PrunerConfig bounds the scan audit trail. Attendance records are never
// pruned here.
type PrunerConfig struct {
	RetentionDays int // 0 keeps everything
	IntervalHours int // 6
	Clock         clock.Clock
}

// RecordPruner trims the scan_events table in the background.
type RecordPruner struct {
	events   store.ScanEventStore
	keep     time.Duration
	every    time.Duration
	clock    clock.Clock
	logger   *logging.Logger
	cancel   context.CancelFunc
	finished chan struct{}
}

func NewRecordPruner(events store.ScanEventStore, cfg PrunerConfig, logger *logging.Logger) *RecordPruner {
	every := time.Duration(cfg.IntervalHours) * time.Hour
	if every <= 0 {
		every = 6 * time.Hour
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &RecordPruner{
		events:   events,
		keep:     time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		every:    every,
		clock:    cfg.Clock,
		logger:   logger,
		finished: make(chan struct{}),
	}
}

// Start trims once right away and then after every interval. With no
// retention configured it returns without starting anything.
func (p *RecordPruner) Start(ctx context.Context) {
	if p.keep <= 0 {
		p.logger.Infof("pruner: scan history kept forever")
		close(p.finished)
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.logger.Infof("pruner: keeping %v of scan history, sweeping every %v", p.keep, p.every)
	go p.run(ctx)
}

// Stop blocks until the background sweep has exited.
func (p *RecordPruner) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	<-p.finished
}

func (p *RecordPruner) run(ctx context.Context) {
	defer close(p.finished)
	for {
		p.sweep(ctx)
		if clock.SleepContext(ctx, p.clock, p.every) != nil {
			return
		}
	}
}

func (p *RecordPruner) sweep(ctx context.Context) {
	before := p.clock.Now().UTC().Add(-p.keep)
	n, err := p.events.PruneOlderThan(ctx, before)
	switch {
	case err != nil && ctx.Err() == nil:
		p.logger.Errorf("pruner: %v", err)
	case n > 0:
		p.logger.Infof("pruner: removed %d scan events before %s", n, before.Format(time.DateTime))
	}
}
