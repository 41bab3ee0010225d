package tasks

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	pkgerrors "github.com/soihtufest/soihtufest-backend/pkg/errors"
	"github.com/soihtufest/soihtufest-backend/pkg/logger"
	"github.com/soihtufest/soihtufest-backend/pkg/redis"
)

type fakeQueueStore struct {
	mu       sync.Mutex
	payloads []string
	pushErr  error
}

func (f *fakeQueueStore) Push(ctx context.Context, queue string, payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return f.pushErr
	}
	f.payloads = append(f.payloads, payload)
	return nil
}

func (f *fakeQueueStore) Pop(ctx context.Context, queue string, timeout time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.payloads) == 0 {
		return "", redis.ErrEmptyQueue
	}
	payload := f.payloads[0]
	f.payloads = f.payloads[1:]
	return payload, nil
}

type fakeReceiptSender struct {
	mu       sync.Mutex
	calls    []int64
	failures int
}

func (f *fakeReceiptSender) Send(ctx context.Context, receiptID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, receiptID)
	if f.failures > 0 {
		f.failures--
		return pkgerrors.New(pkgerrors.CodeDeliveryTransient, "connection refused")
	}
	return nil
}

func (f *fakeReceiptSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func newTestWorker(t *testing.T, sender *fakeReceiptSender) *Worker {
	t.Helper()
	worker, err := NewWorker(WorkerParams{
		Store:    &fakeQueueStore{},
		Receipts: sender,
		Policy:   quickPolicy(3),
		Logger:   testLogger(),
	})
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	return worker
}

func TestProducer_RoundTripsTask(t *testing.T) {
	store := &fakeQueueStore{}
	producer, err := NewProducer(store)
	if err != nil {
		t.Fatalf("NewProducer: %v", err)
	}
	if err := producer.EnqueueSendReceipt(context.Background(), 7); err != nil {
		t.Fatalf("EnqueueSendReceipt: %v", err)
	}

	payload, err := store.Pop(context.Background(), ReceiptQueueName, time.Second)
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	var task SendReceiptTask
	if err := json.Unmarshal([]byte(payload), &task); err != nil {
		t.Fatalf("payload unreadable: %v", err)
	}
	if task.ReceiptID != 7 {
		t.Fatalf("receipt id = %d", task.ReceiptID)
	}
	if task.EnqueuedAt.IsZero() {
		t.Fatalf("enqueued_at not set")
	}
}

func TestProducer_RejectsInvalidID(t *testing.T) {
	producer, err := NewProducer(&fakeQueueStore{})
	if err != nil {
		t.Fatalf("NewProducer: %v", err)
	}
	if err := producer.EnqueueSendReceipt(context.Background(), 0); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestWorker_ProcessDeliversReceipt(t *testing.T) {
	sender := &fakeReceiptSender{}
	worker := newTestWorker(t, sender)

	payload, _ := json.Marshal(SendReceiptTask{ReceiptID: 12, EnqueuedAt: time.Now().UTC()})
	worker.process(context.Background(), string(payload))

	if len(sender.calls) != 1 || sender.calls[0] != 12 {
		t.Fatalf("sender calls = %v", sender.calls)
	}
}

func TestWorker_ProcessRetriesTransientFailures(t *testing.T) {
	sender := &fakeReceiptSender{failures: 2}
	worker := newTestWorker(t, sender)

	payload, _ := json.Marshal(SendReceiptTask{ReceiptID: 12})
	worker.process(context.Background(), string(payload))

	if len(sender.calls) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(sender.calls))
	}
}

func TestWorker_ProcessDiscardsUnreadablePayload(t *testing.T) {
	sender := &fakeReceiptSender{}
	worker := newTestWorker(t, sender)

	worker.process(context.Background(), "not json")

	if len(sender.calls) != 0 {
		t.Fatalf("unreadable payload reached the sender")
	}
}

func TestWorker_RunDrainsQueueUntilCancelled(t *testing.T) {
	store := &fakeQueueStore{}
	producer, err := NewProducer(store)
	if err != nil {
		t.Fatalf("NewProducer: %v", err)
	}
	for i := int64(1); i <= 3; i++ {
		if err := producer.EnqueueSendReceipt(context.Background(), i); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	sender := &fakeReceiptSender{}
	worker, err := NewWorker(WorkerParams{
		Store:    store,
		Receipts: sender,
		Policy:   quickPolicy(1),
		Logger:   testLogger(),
	})
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		store.mu.Lock()
		remaining := len(store.payloads)
		store.mu.Unlock()
		if remaining == 0 && sender.callCount() == 3 {
			break
		}
		select {
		case <-deadline:
			cancel()
			t.Fatalf("queue not drained, %d remaining", remaining)
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("Run returned %v", err)
	}
}
