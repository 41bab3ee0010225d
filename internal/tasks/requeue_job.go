package tasks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/soihtufest/soihtufest-backend/pkg/db/models"
	"github.com/soihtufest/soihtufest-backend/pkg/logger"
)

const defaultRequeueAfter = 15 * time.Minute

type PendingReceiptsJobParams struct {
	Logger       *logger.Logger
	Repository   pendingReceiptsRepo
	Producer     *Producer
	RequeueAfter time.Duration
}

type pendingReceiptsRepo interface {
	ListUnsentOlderThan(ctx context.Context, cutoff time.Time) ([]models.Receipt, error)
}

// NewPendingReceiptsJob builds the safety net behind at-least-once receipt
// delivery: rendered receipts whose queued task was lost (worker crash,
// redis flush) get re-enqueued once they have been unsent long enough.
func NewPendingReceiptsJob(params PendingReceiptsJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("receipt repository required")
	}
	if params.Producer == nil {
		return nil, fmt.Errorf("task producer required")
	}
	requeueAfter := params.RequeueAfter
	if requeueAfter <= 0 {
		requeueAfter = defaultRequeueAfter
	}
	return &pendingReceiptsJob{
		logg:         params.Logger,
		repo:         params.Repository,
		producer:     params.Producer,
		requeueAfter: requeueAfter,
		now:          time.Now,
	}, nil
}

type pendingReceiptsJob struct {
	logg         *logger.Logger
	repo         pendingReceiptsRepo
	producer     *Producer
	requeueAfter time.Duration
	now          func() time.Time
}

func (j *pendingReceiptsJob) Name() string { return "pending-receipts" }

func (j *pendingReceiptsJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.requeueAfter)
	receipts, err := j.repo.ListUnsentOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("list unsent receipts: %w", err)
	}
	if len(receipts) == 0 {
		return nil
	}

	var errs []error
	requeued := 0
	for _, receipt := range receipts {
		if err := j.producer.EnqueueSendReceipt(ctx, receipt.ID); err != nil {
			errs = append(errs, fmt.Errorf("receipt %d: %w", receipt.ID, err))
			continue
		}
		requeued++
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"found":    len(receipts),
		"requeued": requeued,
	}), "pending receipts requeued")
	return multierr.Combine(errs...)
}
