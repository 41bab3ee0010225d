package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	pkgerrors "github.com/soihtufest/soihtufest-backend/pkg/errors"
	"github.com/soihtufest/soihtufest-backend/pkg/logger"
	"github.com/soihtufest/soihtufest-backend/pkg/redis"
)

const popTimeout = 5 * time.Second

type receiptSender interface {
	Send(ctx context.Context, receiptID int64) error
}

type WorkerParams struct {
	Store    queueStore
	Receipts receiptSender
	Policy   RetryPolicy
	Logger   *logger.Logger
}

// Worker drains the receipt queue. Each task runs to completion under the
// retry policy before the next one is popped; delivery order across tasks
// is therefore best-effort, not guaranteed.
type Worker struct {
	store    queueStore
	receipts receiptSender
	policy   RetryPolicy
	logger   *logger.Logger
}

func NewWorker(params WorkerParams) (*Worker, error) {
	if params.Store == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "queue store required")
	}
	if params.Receipts == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "receipt sender required")
	}
	return &Worker{
		store:    params.Store,
		receipts: params.Receipts,
		policy:   params.Policy,
		logger:   params.Logger,
	}, nil
}

// Run consumes tasks until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		payload, err := w.store.Pop(ctx, ReceiptQueueName, popTimeout)
		if err != nil {
			if errors.Is(err, redis.ErrEmptyQueue) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.errorLog(ctx, "pop task", err)
			// Back off so a broken queue connection does not spin hot.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(popTimeout):
			}
			continue
		}
		w.process(ctx, payload)
	}
}

func (w *Worker) process(ctx context.Context, payload string) {
	var task SendReceiptTask
	if err := json.Unmarshal([]byte(payload), &task); err != nil {
		w.errorLog(ctx, "discarding unreadable task", err)
		return
	}
	taskCtx := ctx
	if w.logger != nil {
		taskCtx = w.logger.WithReceiptID(ctx, task.ReceiptID)
	}

	err := w.policy.Run(taskCtx, func(ctx context.Context) error {
		return w.receipts.Send(ctx, task.ReceiptID)
	})
	if err != nil {
		// Retries are exhausted or the failure was fatal. The paid state is
		// unaffected; the pending receipt job re-enqueues transient losses.
		w.errorLog(taskCtx, "receipt delivery abandoned", err)
	}
}

func (w *Worker) errorLog(ctx context.Context, msg string, err error) {
	if w.logger != nil {
		w.logger.Error(ctx, msg, err)
	}
}
