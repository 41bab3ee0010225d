package receipts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/soihtufest/soihtufest-backend/internal/ledger"
	"github.com/soihtufest/soihtufest-backend/internal/mailer"
	"github.com/soihtufest/soihtufest-backend/pkg/config"
	"github.com/soihtufest/soihtufest-backend/pkg/db/models"
	pkgerrors "github.com/soihtufest/soihtufest-backend/pkg/errors"
	"github.com/soihtufest/soihtufest-backend/pkg/logger"
	"github.com/soihtufest/soihtufest-backend/pkg/metrics"
)

const orderPagePath = "/store/order/"

type taskQueue interface {
	EnqueueSendReceipt(ctx context.Context, receiptID int64) error
}

type itemCatalogue interface {
	FindItemByID(ctx context.Context, id uuid.UUID) (*models.StoreItem, error)
	FindVariantByID(ctx context.Context, id uuid.UUID) (*models.StoreItemVariant, error)
}

type ServiceParams struct {
	Repo      Repository
	StoreRepo itemCatalogue
	Queue     taskQueue
	Sender    mailer.Sender
	Logger    *logger.Logger
	Metrics   *metrics.ReceiptMetrics
	Config    config.ReceiptsConfig
	BaseURL   string
}

// Service builds, persists and delivers receipts. Delivery runs through the
// task queue with at-least-once semantics; the persisted sent timestamp is
// the idempotency boundary.
type Service struct {
	repo      Repository
	storeRepo itemCatalogue
	queue     taskQueue
	sender    mailer.Sender
	logger    *logger.Logger
	metrics   *metrics.ReceiptMetrics
	cfg       config.ReceiptsConfig
	baseURL   string
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "receipt repo required")
	}
	if params.StoreRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "store repo required")
	}
	if params.Queue == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "task queue required")
	}
	if params.Sender == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "mail sender required")
	}
	return &Service{
		repo:      params.Repo,
		storeRepo: params.StoreRepo,
		queue:     params.Queue,
		sender:    params.Sender,
		logger:    params.Logger,
		metrics:   params.Metrics,
		cfg:       params.Config,
		baseURL:   strings.TrimSuffix(params.BaseURL, "/"),
	}, nil
}

// Issue builds and persists the receipt for a settled transaction, then
// queues its delivery.
func (s *Service) Issue(ctx context.Context, transaction *models.Transaction) error {
	params, err := s.Build(ctx, transaction)
	if err != nil {
		return err
	}
	receipt, err := s.Create(ctx, transaction.Email, s.cfg.From, s.cfg.Subject, params, transaction)
	if err != nil {
		return err
	}
	ctx = s.withReceiptID(ctx, receipt.ID)
	if err := s.queue.EnqueueSendReceipt(ctx, receipt.ID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enqueue receipt delivery")
	}
	s.info(ctx, "receipt issued")
	return nil
}

// Build snapshots everything the receipt document needs from the
// transaction: buyer block, grouped order lines with totals and the
// self-service lookup URL.
func (s *Service) Build(ctx context.Context, transaction *models.Transaction) (*ReceiptParams, error) {
	if transaction == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction required")
	}
	groups := ledger.GroupUnits(transaction.Items)
	lines := make([]ReceiptLine, 0, len(groups))
	for _, group := range groups {
		description, err := s.describeGroup(ctx, group)
		if err != nil {
			return nil, err
		}
		lines = append(lines, ReceiptLine{
			Description: description,
			UnitPrice:   group.UnitPrice,
			Quantity:    group.Count,
			LineTotal:   group.Subtotal(),
		})
	}
	return &ReceiptParams{
		OrderNumber: transaction.Key,
		CreatedAt:   transaction.TimeCreated,
		PaidAt:      transaction.TimePaid,
		Buyer: ReceiptBuyer{
			Name:       transaction.FullName(),
			Email:      transaction.Email,
			Street:     transaction.Street,
			PostalCode: transaction.PostalCode,
			City:       transaction.City,
			Country:    transaction.Country,
		},
		Lines:     lines,
		Total:     ledger.Total(groups),
		LookupURL: s.baseURL + orderPagePath + transaction.Key,
	}, nil
}

// Create persists the receipt header first to obtain its id, stamps that id
// into the params as the receipt number, then renders and persists the
// final content. The rendered document therefore always carries its own
// receipt number.
func (s *Service) Create(ctx context.Context, mailTo, mailFrom, subject string, params *ReceiptParams, transaction *models.Transaction) (*models.Receipt, error) {
	if params == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "receipt params required")
	}
	receipt := &models.Receipt{
		MailTo:   mailTo,
		MailFrom: mailFrom,
		Subject:  subject,
	}
	if transaction != nil {
		transactionID := transaction.ID
		receipt.TransactionID = &transactionID
	}
	if err := s.repo.Create(ctx, receipt); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist receipt header")
	}

	params.ReceiptNumber = receipt.ID
	content, err := Render(*params)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "serialize receipt params")
	}
	receipt.Subject = Subject(subject, receipt.ID)
	receipt.Params = raw
	receipt.Content = content
	if err := s.repo.Update(ctx, receipt); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist receipt content")
	}
	return receipt, nil
}

// Send delivers one receipt by id. An already sent receipt is a warned
// no-op, never a re-send. Transport failures come back transient so the
// queue retries them; logical failures come back fatal.
func (s *Service) Send(ctx context.Context, receiptID int64) error {
	ctx = s.withReceiptID(ctx, receiptID)
	s.metrics.IncAttempt()
	start := time.Now()
	defer func() {
		s.metrics.ObserveDeliveryDuration(time.Since(start))
	}()

	receipt, err := s.repo.FindByID(ctx, receiptID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.metrics.IncFailure("missing")
			return pkgerrors.New(pkgerrors.CodeDeliveryFatal,
				fmt.Sprintf("receipt %d does not exist", receiptID))
		}
		s.metrics.IncFailure("load")
		return pkgerrors.Wrap(pkgerrors.CodeDeliveryTransient, err, "load receipt")
	}
	if receipt.IsSent() {
		s.warn(ctx, "receipt already sent, skipping delivery")
		return nil
	}
	if receipt.Content == "" {
		s.metrics.IncFailure("empty")
		return pkgerrors.New(pkgerrors.CodeDeliveryFatal, "receipt has no rendered content")
	}

	err = s.sender.Send(ctx, mailer.Message{
		From:    receipt.MailFrom,
		To:      receipt.MailTo,
		Subject: receipt.Subject,
		Body:    receipt.Content,
	})
	if err != nil {
		if appErr := pkgerrors.As(err); appErr != nil && appErr.Code() == pkgerrors.CodeDeliveryFatal {
			s.metrics.IncFailure("fatal")
		} else {
			s.metrics.IncFailure("transient")
		}
		return err
	}

	now := time.Now().UTC()
	receipt.Sent = &now
	if err := s.repo.Update(ctx, receipt); err != nil {
		// The mail is out; if this write fails the queue retries and the
		// buyer may receive the receipt twice. Acceptable under
		// at-least-once delivery.
		s.metrics.IncFailure("mark_sent")
		return pkgerrors.Wrap(pkgerrors.CodeDeliveryTransient, err, "mark receipt sent")
	}
	s.metrics.IncDelivered()
	s.info(ctx, "receipt delivered")
	return nil
}

func (s *Service) describeGroup(ctx context.Context, group ledger.UnitGroup) (string, error) {
	item, err := s.storeRepo.FindItemByID(ctx, group.ItemID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load store item")
	}
	if group.VariantID == nil {
		return item.Name, nil
	}
	variant, err := s.storeRepo.FindVariantByID(ctx, *group.VariantID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load item variant")
	}
	return fmt.Sprintf("%s (%s)", item.Name, variant.Name), nil
}

func (s *Service) withReceiptID(ctx context.Context, receiptID int64) context.Context {
	if s.logger == nil {
		return ctx
	}
	return s.logger.WithReceiptID(ctx, receiptID)
}

func (s *Service) info(ctx context.Context, msg string) {
	if s.logger != nil {
		s.logger.Info(ctx, msg)
	}
}

func (s *Service) warn(ctx context.Context, msg string) {
	if s.logger != nil {
		s.logger.Warn(ctx, msg)
	}
}
