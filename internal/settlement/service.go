package settlement

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/soihtufest/soihtufest-backend/internal/ledger"
	"github.com/soihtufest/soihtufest-backend/pkg/db/models"
	"github.com/soihtufest/soihtufest-backend/pkg/enums"
	pkgerrors "github.com/soihtufest/soihtufest-backend/pkg/errors"
	"github.com/soihtufest/soihtufest-backend/pkg/logger"
	"github.com/soihtufest/soihtufest-backend/pkg/metrics"
	"github.com/soihtufest/soihtufest-backend/pkg/paytrail"
)

// Provider-facing endpoints on this backend, appended to the public base URL.
const (
	redirectSuccessPath = "/api/v1/payment/success"
	redirectCancelPath  = "/api/v1/payment/cancel"
	callbackPath        = "/api/v1/payment/callback"
)

// Internal pages the user agent is sent to after provider query parameters
// have been verified and stripped.
const (
	orderPagePath    = "/store/order/"
	checkoutPagePath = "/store/checkout"
)

// Ticket and merch sales run under the organizer's VAT exemption.
const vatPercentage = 0

const paymentCurrency = "EUR"

// How long a processed callback claim blocks identical re-deliveries. The
// database row lock stays authoritative; the claim only short-circuits
// duplicates without opening a database transaction.
const callbackClaimTTL = time.Hour

type paymentProvider interface {
	CreatePayment(ctx context.Context, payment paytrail.Payment) (*paytrail.CreatePaymentResult, error)
	VerifyCallback(values url.Values) (*paytrail.PaymentCallback, error)
}

type receiptIssuer interface {
	Issue(ctx context.Context, transaction *models.Transaction) error
}

// callbackGuard is the redis surface for the callback dedupe fast path.
type callbackGuard interface {
	IdempotencyKey(scope, id string) string
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
}

type itemCatalogue interface {
	FindItemByID(ctx context.Context, id uuid.UUID) (*models.StoreItem, error)
	FindVariantByID(ctx context.Context, id uuid.UUID) (*models.StoreItemVariant, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ServiceParams struct {
	LedgerRepo        ledger.Repository
	StoreRepo         itemCatalogue
	Provider          paymentProvider
	Receipts          receiptIssuer
	TransactionRunner txRunner
	Guard             callbackGuard
	Logger            *logger.Logger
	Metrics           *metrics.SettlementMetrics
	BaseURL           string
	NoCostMethod      string
}

// Service advances ledger state around the payment provider. Redirect
// handlers are advisory; only HandleCallback finalizes transactions, under a
// row-level lock so duplicate callbacks for the same transaction serialize.
type Service struct {
	ledgerRepo   ledger.Repository
	storeRepo    itemCatalogue
	provider     paymentProvider
	receipts     receiptIssuer
	txRunner     txRunner
	guard        callbackGuard
	logger       *logger.Logger
	metrics      *metrics.SettlementMetrics
	baseURL      string
	noCostMethod string
}

func NewService(params ServiceParams) (*Service, error) {
	if params.LedgerRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger repo required")
	}
	if params.StoreRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "store repo required")
	}
	if params.Provider == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment provider required")
	}
	if params.Receipts == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "receipt issuer required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	noCostMethod := params.NoCostMethod
	if noCostMethod == "" {
		noCostMethod = enums.PaymentMethodNoPayment.String()
	}
	return &Service{
		ledgerRepo:   params.LedgerRepo,
		storeRepo:    params.StoreRepo,
		provider:     params.Provider,
		receipts:     params.Receipts,
		txRunner:     params.TransactionRunner,
		guard:        params.Guard,
		logger:       params.Logger,
		metrics:      params.Metrics,
		baseURL:      strings.TrimSuffix(params.BaseURL, "/"),
		noCostMethod: noCostMethod,
	}, nil
}

// BeginPaymentResult tells the caller where to send the buyer next. Paid is
// true when settlement completed without a provider session.
type BeginPaymentResult struct {
	RedirectURL string
	Paid        bool
}

// BeginPayment opens a payment session for the transaction behind key and
// returns the provider URL the buyer should be redirected to. Zero-cost
// transactions settle immediately without contacting the provider. A
// provider failure leaves the transaction untouched in its created state.
func (s *Service) BeginPayment(ctx context.Context, key string) (*BeginPaymentResult, error) {
	transaction, err := s.findByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	ctx = s.withKey(ctx, transaction.Key)

	if transaction.IsPaid() {
		return &BeginPaymentResult{RedirectURL: s.orderPageURL(transaction.Key), Paid: true}, nil
	}
	if transaction.IsCancelled() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "transaction is cancelled")
	}
	if transaction.Token != "" {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment session already started")
	}

	groups := ledger.GroupUnits(transaction.Items)
	if len(groups) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "transaction has no items")
	}
	total := ledger.Total(groups)

	if total.IsZero() {
		if err := s.settleWithoutProvider(ctx, transaction); err != nil {
			return nil, err
		}
		return &BeginPaymentResult{RedirectURL: s.orderPageURL(transaction.Key), Paid: true}, nil
	}

	payment, err := s.buildPayment(ctx, transaction, groups, total)
	if err != nil {
		return nil, err
	}

	result, err := s.provider.CreatePayment(ctx, *payment)
	if err != nil {
		s.appendEventBestEffort(ctx, transaction.ID, "payment session failed", map[string]any{
			"error": err.Error(),
		})
		return nil, err
	}

	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.ledgerRepo.WithTx(tx)
		locked, err := repo.FindByIDForUpdate(ctx, transaction.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock transaction")
		}
		// A concurrent BeginPayment may have stored its token between the
		// unlocked read and this lock. Keep the first session's token.
		if locked.Token != "" {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "payment session already started")
		}
		locked.Token = result.TransactionID
		locked.PaymentMethodName = enums.PaymentMethodPaytrail.String()
		if err := repo.Update(ctx, locked); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store payment token")
		}
		return repo.AppendEvent(ctx, &models.TransactionEvent{
			TransactionID: transaction.ID,
			Message:       "payment session created",
			Data: ledger.EventData(map[string]any{
				"provider_transaction_id": result.TransactionID,
				"request_id":              result.RequestID,
				"amount":                  payment.Amount,
			}),
		})
	})
	if err != nil {
		return nil, err
	}

	s.info(ctx, "payment session created")
	return &BeginPaymentResult{RedirectURL: result.Href}, nil
}

// HandleRedirectSuccess verifies a browser return from the provider and
// yields the internal order page URL. It records the event but never
// finalizes state; the server-to-server callback is authoritative.
func (s *Service) HandleRedirectSuccess(ctx context.Context, values url.Values) (string, error) {
	callback, err := s.provider.VerifyCallback(values)
	if err != nil {
		return "", err
	}
	transaction, err := s.findForCallback(ctx, callback)
	if err != nil {
		return "", err
	}
	ctx = s.withKey(ctx, transaction.Key)
	s.appendEventBestEffort(ctx, transaction.ID, "buyer returned from provider", map[string]any{
		"status":   callback.Status.String(),
		"provider": callback.Provider,
	})
	return s.orderPageURL(transaction.Key), nil
}

// HandleRedirectCancel verifies a browser cancel return and yields the
// checkout page URL. Advisory only, same as HandleRedirectSuccess.
func (s *Service) HandleRedirectCancel(ctx context.Context, values url.Values) (string, error) {
	callback, err := s.provider.VerifyCallback(values)
	if err != nil {
		return "", err
	}
	transaction, err := s.findForCallback(ctx, callback)
	if err != nil {
		return "", err
	}
	ctx = s.withKey(ctx, transaction.Key)
	s.appendEventBestEffort(ctx, transaction.ID, "buyer cancelled at provider", map[string]any{
		"status":   callback.Status.String(),
		"provider": callback.Provider,
	})
	return s.baseURL + checkoutPagePath, nil
}

// HandleCallback verifies and applies a server-to-server payment callback.
// The transaction row is locked for the duration of the transition so that
// concurrent callbacks for the same transaction cannot double-finalize.
// Re-delivery of an already-applied status is a warned no-op.
func (s *Service) HandleCallback(ctx context.Context, values url.Values) error {
	start := time.Now()
	defer func() {
		s.metrics.ObserveCallbackDuration(time.Since(start))
	}()

	callback, err := s.provider.VerifyCallback(values)
	if err != nil {
		return err
	}
	s.metrics.IncCallback(callback.Status.String())

	transaction, err := s.findForCallback(ctx, callback)
	if err != nil {
		return err
	}
	ctx = s.withKey(ctx, transaction.Key)

	release, fresh := s.claimCallback(ctx, callback)
	if !fresh {
		s.metrics.IncDuplicate()
		s.warn(ctx, "redelivered callback dropped by claim")
		return nil
	}

	var receiptDue bool
	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.ledgerRepo.WithTx(tx)
		locked, err := repo.FindByIDForUpdate(ctx, transaction.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock transaction")
		}
		switch callback.Status {
		case paytrail.StatusOK:
			return s.applyPaid(ctx, repo, locked, callback, &receiptDue)
		case paytrail.StatusFail:
			return s.applyCancelled(ctx, repo, locked, callback)
		default:
			return s.applyPending(ctx, repo, locked, callback)
		}
	})
	if err != nil {
		// Give the provider's retry a clean run at the row lock.
		release()
		return err
	}

	if receiptDue {
		s.issueReceipt(ctx, transaction.ID)
	}
	return nil
}

// claimCallback takes the redis fast-path claim for a (transaction, status)
// pair. A false result means an identical callback already claimed it. The
// returned release func drops the claim so a failed application can be
// retried; redis trouble falls through to the row lock.
func (s *Service) claimCallback(ctx context.Context, callback *paytrail.PaymentCallback) (func(), bool) {
	noop := func() {}
	if s.guard == nil {
		return noop, true
	}
	ref := callback.Stamp
	if ref == "" {
		ref = callback.TransactionID
	}
	key := s.guard.IdempotencyKey("callback", ref+":"+callback.Status.String())
	fresh, err := s.guard.SetNX(ctx, key, "1", callbackClaimTTL)
	if err != nil {
		s.errorLog(ctx, "callback claim", err)
		return noop, true
	}
	if !fresh {
		return noop, false
	}
	return func() {
		if err := s.guard.Del(ctx, key); err != nil {
			s.errorLog(ctx, "release callback claim", err)
		}
	}, true
}

// applyPaid finalizes the transaction. Paid always wins over pending; a
// repeated OK is a no-op so the receipt is issued at most once per callback
// stream. An OK for an already cancelled transaction is not applied, only
// recorded, since the cancellation is terminal.
func (s *Service) applyPaid(ctx context.Context, repo ledger.Repository, transaction *models.Transaction, callback *paytrail.PaymentCallback, receiptDue *bool) error {
	if transaction.TimePaid != nil {
		s.metrics.IncDuplicate()
		s.warn(ctx, "duplicate paid callback ignored")
		return s.appendEvent(ctx, repo, transaction.ID, "duplicate paid callback", map[string]any{
			"provider": callback.Provider,
		})
	}
	if transaction.TimeCancelled != nil {
		s.errorLog(ctx, "paid callback for cancelled transaction", pkgerrors.New(
			pkgerrors.CodeStateConflict, "paid callback after cancellation"))
		return s.appendEvent(ctx, repo, transaction.ID, "paid callback after cancellation", map[string]any{
			"provider":       callback.Provider,
			"time_cancelled": transaction.TimeCancelled,
		})
	}

	if err := s.markPaid(ctx, repo, transaction, true, map[string]any{
		"provider": callback.Provider,
		"amount":   callback.Amount,
	}); err != nil {
		return err
	}
	if callback.Provider != "" {
		transaction.PaymentMethodName = callback.Provider
		if err := repo.Update(ctx, transaction); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store payment method")
		}
	}
	*receiptDue = true
	return nil
}

func (s *Service) applyCancelled(ctx context.Context, repo ledger.Repository, transaction *models.Transaction, callback *paytrail.PaymentCallback) error {
	if transaction.TimePaid != nil {
		s.metrics.IncDuplicate()
		s.warn(ctx, "fail callback for paid transaction ignored")
		return s.appendEvent(ctx, repo, transaction.ID, "fail callback after payment", map[string]any{
			"provider":  callback.Provider,
			"time_paid": transaction.TimePaid,
		})
	}
	if transaction.TimeCancelled != nil {
		s.metrics.IncDuplicate()
		s.warn(ctx, "duplicate fail callback ignored")
		return s.appendEvent(ctx, repo, transaction.ID, "duplicate fail callback", map[string]any{
			"provider": callback.Provider,
		})
	}

	now := time.Now().UTC()
	transaction.TimeCancelled = &now
	if err := repo.Update(ctx, transaction); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store cancellation")
	}
	s.info(ctx, "payment cancelled")
	return s.appendEvent(ctx, repo, transaction.ID, "payment cancelled", map[string]any{
		"provider": callback.Provider,
	})
}

func (s *Service) applyPending(ctx context.Context, repo ledger.Repository, transaction *models.Transaction, callback *paytrail.PaymentCallback) error {
	if transaction.State().IsTerminal() {
		s.metrics.IncDuplicate()
		s.warn(ctx, "pending callback for settled transaction ignored")
		return s.appendEvent(ctx, repo, transaction.ID, "pending callback after settlement", map[string]any{
			"status": callback.Status.String(),
		})
	}
	if transaction.TimePending != nil {
		s.metrics.IncDuplicate()
		s.warn(ctx, "duplicate pending callback ignored")
		return s.appendEvent(ctx, repo, transaction.ID, "duplicate pending callback", map[string]any{
			"status": callback.Status.String(),
		})
	}

	now := time.Now().UTC()
	transaction.TimePending = &now
	if err := repo.Update(ctx, transaction); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store pending state")
	}
	s.info(ctx, "payment pending")
	return s.appendEvent(ctx, repo, transaction.ID, "payment pending", map[string]any{
		"status":   callback.Status.String(),
		"provider": callback.Provider,
	})
}

// settleWithoutProvider moves a zero-cost transaction straight to paid. The
// pending state is skipped entirely; there is no provider session to wait on.
func (s *Service) settleWithoutProvider(ctx context.Context, transaction *models.Transaction) error {
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.ledgerRepo.WithTx(tx)
		locked, err := repo.FindByIDForUpdate(ctx, transaction.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock transaction")
		}
		if locked.TimePaid != nil {
			return nil
		}
		if locked.TimeCancelled != nil {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "transaction is cancelled")
		}
		locked.PaymentMethodName = s.noCostMethod
		return s.markPaid(ctx, repo, locked, false, map[string]any{
			"payment_method": s.noCostMethod,
		})
	})
	if err != nil {
		return err
	}

	s.issueReceipt(ctx, transaction.ID)
	return nil
}

// markPaid records the terminal paid state. When throughPending is set, an
// unset pending timestamp is backfilled first so the recorded lifecycle
// reads created, pending, paid.
func (s *Service) markPaid(ctx context.Context, repo ledger.Repository, transaction *models.Transaction, throughPending bool, data map[string]any) error {
	now := time.Now().UTC()
	if throughPending && transaction.TimePending == nil {
		transaction.TimePending = &now
	}
	transaction.TimePaid = &now
	if err := repo.Update(ctx, transaction); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store paid state")
	}
	s.metrics.IncFinalization()
	s.info(ctx, "payment completed")
	return s.appendEvent(ctx, repo, transaction.ID, "payment completed", data)
}

// issueReceipt hands the settled transaction to the receipt pipeline. A
// failure here is logged and dropped: the paid state stands and the pending
// receipt job picks the transaction up later.
func (s *Service) issueReceipt(ctx context.Context, transactionID uuid.UUID) {
	transaction, err := s.ledgerRepo.FindByID(ctx, transactionID)
	if err != nil {
		s.errorLog(ctx, "reload transaction for receipt", err)
		return
	}
	if err := s.receipts.Issue(ctx, transaction); err != nil {
		s.errorLog(ctx, "issue receipt", err)
	}
}

func (s *Service) buildPayment(ctx context.Context, transaction *models.Transaction, groups []ledger.UnitGroup, total decimal.Decimal) (*paytrail.Payment, error) {
	items := make([]paytrail.PaymentItem, 0, len(groups))
	for _, group := range groups {
		description, err := s.describeGroup(ctx, group)
		if err != nil {
			return nil, err
		}
		items = append(items, paytrail.PaymentItem{
			UnitPrice:     minorUnits(group.UnitPrice),
			Units:         int(group.Count),
			VATPercentage: vatPercentage,
			ProductCode:   group.ItemID.String(),
			Description:   description,
		})
	}

	phone := transaction.Mobile
	if phone == "" {
		phone = transaction.Telephone
	}

	return &paytrail.Payment{
		Stamp:     transaction.Key,
		Reference: transaction.Key,
		Amount:    minorUnits(total),
		Currency:  paymentCurrency,
		Language:  "FI",
		Items:     items,
		Customer: paytrail.Customer{
			Email:     transaction.Email,
			FirstName: transaction.FirstName,
			LastName:  transaction.LastName,
			Phone:     phone,
		},
		InvoicingAddress: &paytrail.Address{
			StreetAddress: transaction.Street,
			PostalCode:    transaction.PostalCode,
			City:          transaction.City,
			Country:       transaction.Country,
		},
		RedirectURLs: paytrail.CallbackURLs{
			Success: s.baseURL + redirectSuccessPath,
			Cancel:  s.baseURL + redirectCancelPath,
		},
		CallbackURLs: &paytrail.CallbackURLs{
			Success: s.baseURL + callbackPath,
			Cancel:  s.baseURL + callbackPath,
		},
	}, nil
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

// findForCallback resolves the ledger transaction a verified callback refers
// to, preferring our own stamp over the provider-issued token.
func (s *Service) findForCallback(ctx context.Context, callback *paytrail.PaymentCallback) (*models.Transaction, error) {
	if callback.Stamp != "" {
		transaction, err := s.ledgerRepo.FindByKey(ctx, callback.Stamp)
		if err == nil {
			return transaction, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
		}
	}
	if callback.TransactionID != "" {
		transaction, err := s.ledgerRepo.FindByToken(ctx, callback.TransactionID)
		if err == nil {
			return transaction, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "callback does not match a known transaction")
}

func (s *Service) findByKey(ctx context.Context, key string) (*models.Transaction, error) {
	if key == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction key required")
	}
	transaction, err := s.ledgerRepo.FindByKey(ctx, key)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
	}
	return transaction, nil
}

func (s *Service) appendEvent(ctx context.Context, repo ledger.Repository, transactionID uuid.UUID, message string, data map[string]any) error {
	event := &models.TransactionEvent{
		TransactionID: transactionID,
		Message:       message,
		Data:          ledger.EventData(data),
	}
	if err := repo.AppendEvent(ctx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append transaction event")
	}
	return nil
}

func (s *Service) appendEventBestEffort(ctx context.Context, transactionID uuid.UUID, message string, data map[string]any) {
	if err := s.appendEvent(ctx, s.ledgerRepo, transactionID, message, data); err != nil {
		s.errorLog(ctx, "append transaction event", err)
	}
}

func (s *Service) orderPageURL(key string) string {
	return s.baseURL + orderPagePath + key
}

func (s *Service) withKey(ctx context.Context, key string) context.Context {
	if s.logger == nil {
		return ctx
	}
	return s.logger.WithTransactionKey(ctx, key)
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

func (s *Service) errorLog(ctx context.Context, msg string, err error) {
	if s.logger != nil {
		s.logger.Error(ctx, msg, err)
	}
}

// minorUnits converts a major-unit decimal amount to integer cents.
func minorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

