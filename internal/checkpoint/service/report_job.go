package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/logging"
)

// ReportJob logs the attendance threshold report once a day.
type ReportJob struct {
	reports   *Reports
	at        string
	scheduler *gocron.Scheduler
	logger    *logging.Logger
	cancel    context.CancelFunc
}

// NewReportJob schedules the report daily at "HH:MM" in loc.
func NewReportJob(reports *Reports, at string, loc *time.Location, logger *logging.Logger) *ReportJob {
	if at == "" {
		at = "23:55"
	}
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &ReportJob{
		reports:   reports,
		at:        at,
		scheduler: gocron.NewScheduler(loc),
		logger:    logger,
	}
}

func (j *ReportJob) Start(ctx context.Context) error {
	ctx, j.cancel = context.WithCancel(ctx)
	if _, err := j.scheduler.Every(1).Day().At(j.at).Do(j.RunOnce, ctx); err != nil {
		j.cancel()
		return fmt.Errorf("ReportJob.Start: %w", err)
	}
	j.scheduler.StartAsync()
	j.logger.Infof("report job scheduled daily at %s", j.at)
	return nil
}

func (j *ReportJob) Stop() {
	if j.cancel != nil {
		j.cancel()
	}
	j.scheduler.Stop()
}

// RunOnce builds and logs the report now.
func (j *ReportJob) RunOnce(ctx context.Context) {
	r, err := j.reports.Build(ctx)
	if err != nil {
		j.logger.Errorf("report job: %v", err)
		return
	}
	j.logger.Infof("%s", r.String())
}
