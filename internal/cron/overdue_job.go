package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/lendkeep/lendkeep-backend/internal/lending"
	"github.com/lendkeep/lendkeep-backend/pkg/logger"
	"github.com/lendkeep/lendkeep-backend/pkg/metrics"
)

// overdueMarker is the slice of the lending engine the job needs.
type overdueMarker interface {
	MarkOverdue(ctx context.Context, now time.Time) ([]lending.LoanDTO, error)
}

// OverdueScanJobParams configure the overdue scan job.
type OverdueScanJobParams struct {
	Logger  *logger.Logger
	Engine  overdueMarker
	Metrics *metrics.CronJobMetrics
}

type overdueScanJob struct {
	logg    *logger.Logger
	engine  overdueMarker
	metrics *metrics.CronJobMetrics
	now     func() time.Time
}

// NewOverdueScanJob builds the job that flips borrowed loans past
// their due date to overdue.
func NewOverdueScanJob(params OverdueScanJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Engine == nil {
		return nil, fmt.Errorf("lending engine required")
	}
	return &overdueScanJob{
		logg:    params.Logger,
		engine:  params.Engine,
		metrics: params.Metrics,
		now:     time.Now,
	}, nil
}

func (j *overdueScanJob) Name() string { return "overdue-scan" }

func (j *overdueScanJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	marked, err := j.engine.MarkOverdue(ctx, now)
	if err != nil {
		return fmt.Errorf("overdue scan: %w", err)
	}
	if j.metrics != nil {
		j.metrics.AddMarkedOverdue(len(marked))
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"as_of":        now,
		"loans_marked": len(marked),
	})
	j.logg.Info(logCtx, "overdue scan complete")
	return nil
}
