package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/BilalTali/mdmseva-sub000/generic"
	"github.com/BilalTali/mdmseva-sub000/observability"
)

// Resyncer is the service operation the job drives.
type Resyncer interface {
	ResyncPeriod(ctx context.Context, period generic.Period) (*generic.MonthlyLedger, error)
}

// ResyncJob handles TaskLedgerResync tasks.
type ResyncJob struct {
	Service Resyncer
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// NewResyncJob initialises the resync handler.
func NewResyncJob(svc Resyncer, logger *slog.Logger) *ResyncJob {
	return &ResyncJob{Service: svc, Logger: logger}
}

// Handle executes one period resync. Malformed payloads and periods without
// a ledger are not retried.
func (j *ResyncJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("ledger resync: handler not configured")
	}
	tracker := j.Metrics.Track(TaskLedgerResync)
	return tracker.End(j.handle(ctx, t))
}

func (j *ResyncJob) handle(ctx context.Context, t *asynq.Task) error {
	var payload ResyncPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	period, err := payload.Period()
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	logger := j.logger().With(
		slog.String("user", string(period.UserID)),
		slog.String("period", period.Key()),
	)
	start := time.Now()

	ledger, err := j.Service.ResyncPeriod(ctx, period)
	switch {
	case generic.IsNotFound(err):
		logger.Warn("resync skipped, no ledger")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	case err != nil:
		logger.Error("resync failed", slog.Any("error", err))
		return err
	}

	logger.Info("resync complete",
		slog.String("state", string(ledger.State)),
		slog.Duration("duration", time.Since(start)))
	return nil
}

func (j *ResyncJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
