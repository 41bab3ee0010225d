package tasks

import (
	"context"
	"encoding/json"
	"time"

	pkgerrors "github.com/soihtufest/soihtufest-backend/pkg/errors"
)

// ReceiptQueueName is the redis list backing receipt delivery tasks.
const ReceiptQueueName = "receipts"

// SendReceiptTask is the queued payload for one receipt delivery.
type SendReceiptTask struct {
	ReceiptID  int64     `json:"receipt_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

type queueStore interface {
	Push(ctx context.Context, queue string, payload string) error
	Pop(ctx context.Context, queue string, timeout time.Duration) (string, error)
}

// Producer enqueues background tasks onto the redis-backed queue.
type Producer struct {
	store queueStore
}

func NewProducer(store queueStore) (*Producer, error) {
	if store == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "queue store required")
	}
	return &Producer{store: store}, nil
}

// EnqueueSendReceipt queues at-least-once delivery for the receipt.
func (p *Producer) EnqueueSendReceipt(ctx context.Context, receiptID int64) error {
	if receiptID <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "receipt id required")
	}
	task := SendReceiptTask{ReceiptID: receiptID, EnqueuedAt: time.Now().UTC()}
	payload, err := json.Marshal(task)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "serialize task")
	}
	if err := p.store.Push(ctx, ReceiptQueueName, string(payload)); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "push task")
	}
	return nil
}
