package settlement

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/soihtufest/soihtufest-backend/internal/ledger"
	"github.com/soihtufest/soihtufest-backend/pkg/db/models"
	pkgerrors "github.com/soihtufest/soihtufest-backend/pkg/errors"
	"github.com/soihtufest/soihtufest-backend/pkg/paytrail"
)

type fakeLedgerRepo struct {
	transactions map[uuid.UUID]*models.Transaction
	events       []models.TransactionEvent
	onLock       func()
	updateErr    error
}

func newFakeLedgerRepo() *fakeLedgerRepo {
	return &fakeLedgerRepo{transactions: map[uuid.UUID]*models.Transaction{}}
}

func (f *fakeLedgerRepo) put(transaction *models.Transaction) {
	clone := *transaction
	f.transactions[transaction.ID] = &clone
}

func (f *fakeLedgerRepo) WithTx(tx *gorm.DB) ledger.Repository { return f }

func (f *fakeLedgerRepo) CreateTransaction(ctx context.Context, transaction *models.Transaction) error {
	f.put(transaction)
	return nil
}

func (f *fakeLedgerRepo) CreateItems(ctx context.Context, items []models.TransactionItem) error {
	return nil
}

func (f *fakeLedgerRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	stored, ok := f.transactions[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *stored
	return &clone, nil
}

func (f *fakeLedgerRepo) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	if f.onLock != nil {
		f.onLock()
	}
	return f.FindByID(ctx, id)
}

func (f *fakeLedgerRepo) FindByKey(ctx context.Context, key string) (*models.Transaction, error) {
	for _, stored := range f.transactions {
		if stored.Key == key {
			clone := *stored
			return &clone, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeLedgerRepo) FindByToken(ctx context.Context, token string) (*models.Transaction, error) {
	for _, stored := range f.transactions {
		if stored.Token == token && token != "" {
			clone := *stored
			return &clone, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeLedgerRepo) Update(ctx context.Context, transaction *models.Transaction) error {
	if f.updateErr != nil {
		err := f.updateErr
		f.updateErr = nil
		return err
	}
	if _, ok := f.transactions[transaction.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	f.put(transaction)
	return nil
}

func (f *fakeLedgerRepo) AppendEvent(ctx context.Context, event *models.TransactionEvent) error {
	f.events = append(f.events, *event)
	return nil
}

func (f *fakeLedgerRepo) ListEvents(ctx context.Context, transactionID uuid.UUID) ([]models.TransactionEvent, error) {
	var out []models.TransactionEvent
	for _, event := range f.events {
		if event.TransactionID == transactionID {
			out = append(out, event)
		}
	}
	return out, nil
}

func (f *fakeLedgerRepo) eventMessages(transactionID uuid.UUID) []string {
	var out []string
	for _, event := range f.events {
		if event.TransactionID == transactionID {
			out = append(out, event.Message)
		}
	}
	return out
}

type fakeTxRunner struct{}

func (fakeTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type fakeProvider struct {
	createResult *paytrail.CreatePaymentResult
	createErr    error
	createCalls  int
	lastPayment  paytrail.Payment

	callback    *paytrail.PaymentCallback
	callbackErr error
}

func (f *fakeProvider) CreatePayment(ctx context.Context, payment paytrail.Payment) (*paytrail.CreatePaymentResult, error) {
	f.createCalls++
	f.lastPayment = payment
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.createResult, nil
}

func (f *fakeProvider) VerifyCallback(values url.Values) (*paytrail.PaymentCallback, error) {
	if f.callbackErr != nil {
		return nil, f.callbackErr
	}
	return f.callback, nil
}

type fakeReceipts struct {
	issued []uuid.UUID
	err    error
}

func (f *fakeReceipts) Issue(ctx context.Context, transaction *models.Transaction) error {
	if f.err != nil {
		return f.err
	}
	f.issued = append(f.issued, transaction.ID)
	return nil
}

type fakeCatalogue struct {
	items    map[uuid.UUID]*models.StoreItem
	variants map[uuid.UUID]*models.StoreItemVariant
}

func (f *fakeCatalogue) FindItemByID(ctx context.Context, id uuid.UUID) (*models.StoreItem, error) {
	item, ok := f.items[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return item, nil
}

func (f *fakeCatalogue) FindVariantByID(ctx context.Context, id uuid.UUID) (*models.StoreItemVariant, error) {
	variant, ok := f.variants[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return variant, nil
}

type fakeGuard struct {
	claims map[string]bool
}

func newFakeGuard() *fakeGuard {
	return &fakeGuard{claims: map[string]bool{}}
}

func (f *fakeGuard) IdempotencyKey(scope, id string) string {
	return scope + ":" + id
}

func (f *fakeGuard) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if f.claims[key] {
		return false, nil
	}
	f.claims[key] = true
	return true, nil
}

func (f *fakeGuard) Del(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.claims, key)
	}
	return nil
}

type fixture struct {
	service  *Service
	repo     *fakeLedgerRepo
	provider *fakeProvider
	receipts *fakeReceipts
	guard    *fakeGuard
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newFakeLedgerRepo()
	provider := &fakeProvider{
		createResult: &paytrail.CreatePaymentResult{
			Href:          "https://pay.example.com/session/abc",
			TransactionID: "prov-tx-1",
		},
	}
	receipts := &fakeReceipts{}
	catalogue := &fakeCatalogue{
		items:    map[uuid.UUID]*models.StoreItem{},
		variants: map[uuid.UUID]*models.StoreItemVariant{},
	}
	service, err := NewService(ServiceParams{
		LedgerRepo:        repo,
		StoreRepo:         catalogue,
		Provider:          provider,
		Receipts:          receipts,
		TransactionRunner: fakeTxRunner{},
		BaseURL:           "https://store.soihtufest.fi/",
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return &fixture{service: service, repo: repo, provider: provider, receipts: receipts}
}

// newGuardedFixture adds the redis-backed callback claim fast path.
func newGuardedFixture(t *testing.T) *fixture {
	t.Helper()
	fx := newFixture(t)
	fx.guard = newFakeGuard()
	fx.service.guard = fx.guard
	return fx
}

func (fx *fixture) seedTransaction(t *testing.T, unitPrice string, units int) *models.Transaction {
	t.Helper()
	itemID := uuid.New()
	transaction := &models.Transaction{
		ID:          uuid.New(),
		Key:         ledger.NewKey(),
		FirstName:   "Maija",
		LastName:    "Meikäläinen",
		Email:       "maija@example.com",
		Street:      "Katu 1",
		PostalCode:  "00100",
		City:        "Helsinki",
		Country:     "FI",
		TimeCreated: time.Now().UTC(),
	}
	price := decimal.RequireFromString(unitPrice)
	for i := 0; i < units; i++ {
		transaction.Items = append(transaction.Items, models.TransactionItem{
			ID:            uuid.New(),
			Key:           ledger.NewKey(),
			ItemID:        itemID,
			TransactionID: transaction.ID,
			PurchasePrice: price,
			OriginalPrice: price,
		})
	}
	fx.repo.put(transaction)
	fx.catalogueFor(t).items[itemID] = &models.StoreItem{ID: itemID, Name: "Viikonloppulippu"}
	return transaction
}

func (fx *fixture) catalogueFor(t *testing.T) *fakeCatalogue {
	t.Helper()
	catalogue, ok := fx.service.storeRepo.(*fakeCatalogue)
	if !ok {
		t.Fatalf("unexpected catalogue type")
	}
	return catalogue
}

func (fx *fixture) stored(t *testing.T, id uuid.UUID) *models.Transaction {
	t.Helper()
	stored, ok := fx.repo.transactions[id]
	if !ok {
		t.Fatalf("transaction %s not stored", id)
	}
	return stored
}

func okCallback(transaction *models.Transaction) *paytrail.PaymentCallback {
	return &paytrail.PaymentCallback{
		Account:       "375917",
		Amount:        4000,
		Stamp:         transaction.Key,
		TransactionID: "prov-tx-1",
		Status:        paytrail.StatusOK,
		Provider:      "osuuspankki",
	}
}

func TestBeginPayment_CreatesProviderSession(t *testing.T) {
	fx := newFixture(t)
	transaction := fx.seedTransaction(t, "20.00", 2)

	result, err := fx.service.BeginPayment(context.Background(), transaction.Key)
	if err != nil {
		t.Fatalf("BeginPayment: %v", err)
	}
	if result.Paid {
		t.Fatalf("expected a provider session, got immediate settlement")
	}
	if result.RedirectURL != "https://pay.example.com/session/abc" {
		t.Fatalf("unexpected redirect URL %q", result.RedirectURL)
	}

	payment := fx.provider.lastPayment
	if payment.Stamp != transaction.Key {
		t.Fatalf("stamp = %q, want transaction key", payment.Stamp)
	}
	if payment.Amount != 4000 {
		t.Fatalf("amount = %d, want 4000 cents", payment.Amount)
	}
	if len(payment.Items) != 1 {
		t.Fatalf("expected unit rows grouped into one payment item, got %d", len(payment.Items))
	}
	if payment.Items[0].Units != 2 || payment.Items[0].UnitPrice != 2000 {
		t.Fatalf("grouped item = %+v", payment.Items[0])
	}
	if payment.Items[0].Description != "Viikonloppulippu" {
		t.Fatalf("description = %q", payment.Items[0].Description)
	}
	if payment.RedirectURLs.Success != "https://store.soihtufest.fi/api/v1/payment/success" {
		t.Fatalf("redirect success URL = %q", payment.RedirectURLs.Success)
	}

	stored := fx.stored(t, transaction.ID)
	if stored.Token != "prov-tx-1" {
		t.Fatalf("token = %q, want provider transaction id", stored.Token)
	}
	if stored.PaymentMethodName != "paytrail" {
		t.Fatalf("payment method = %q", stored.PaymentMethodName)
	}
	if stored.TimePaid != nil || stored.TimePending != nil {
		t.Fatalf("begin must not advance state: %+v", stored)
	}
}

func TestBeginPayment_GroupsVariantsSeparately(t *testing.T) {
	fx := newFixture(t)
	transaction := fx.seedTransaction(t, "15.00", 1)
	catalogue := fx.catalogueFor(t)

	variantID := uuid.New()
	itemID := transaction.Items[0].ItemID
	catalogue.variants[variantID] = &models.StoreItemVariant{ID: variantID, ItemID: itemID, Name: "L"}
	transaction.Items = append(transaction.Items, models.TransactionItem{
		ID:            uuid.New(),
		Key:           ledger.NewKey(),
		ItemID:        itemID,
		VariantID:     &variantID,
		TransactionID: transaction.ID,
		PurchasePrice: decimal.RequireFromString("15.00"),
		OriginalPrice: decimal.RequireFromString("15.00"),
	})
	fx.repo.put(transaction)

	if _, err := fx.service.BeginPayment(context.Background(), transaction.Key); err != nil {
		t.Fatalf("BeginPayment: %v", err)
	}
	payment := fx.provider.lastPayment
	if len(payment.Items) != 2 {
		t.Fatalf("expected variant to form its own payment item, got %d", len(payment.Items))
	}
	if payment.Items[1].Description != "Viikonloppulippu (L)" {
		t.Fatalf("variant description = %q", payment.Items[1].Description)
	}
}

func TestBeginPayment_ProviderFailureLeavesTransactionUntouched(t *testing.T) {
	fx := newFixture(t)
	transaction := fx.seedTransaction(t, "20.00", 1)
	fx.provider.createErr = pkgerrors.New(pkgerrors.CodePSPRequest, "connection refused")

	if _, err := fx.service.BeginPayment(context.Background(), transaction.Key); err == nil {
		t.Fatalf("expected provider error")
	}

	stored := fx.stored(t, transaction.ID)
	if stored.Token != "" || stored.PaymentMethodName != "" {
		t.Fatalf("failed session must not store token: %+v", stored)
	}
	if stored.TimePending != nil || stored.TimePaid != nil || stored.TimeCancelled != nil {
		t.Fatalf("failed session must leave the transaction created: %+v", stored)
	}
}

func TestBeginPayment_ZeroCostSettlesImmediately(t *testing.T) {
	fx := newFixture(t)
	transaction := fx.seedTransaction(t, "0.00", 1)

	result, err := fx.service.BeginPayment(context.Background(), transaction.Key)
	if err != nil {
		t.Fatalf("BeginPayment: %v", err)
	}
	if !result.Paid {
		t.Fatalf("zero-cost transaction should settle immediately")
	}
	if result.RedirectURL != "https://store.soihtufest.fi/store/order/"+transaction.Key {
		t.Fatalf("redirect = %q", result.RedirectURL)
	}
	if fx.provider.createCalls != 0 {
		t.Fatalf("zero-cost settlement must not contact the provider")
	}

	stored := fx.stored(t, transaction.ID)
	if stored.TimePaid == nil {
		t.Fatalf("transaction not paid")
	}
	if stored.TimePending != nil {
		t.Fatalf("zero-cost settlement must skip the pending state")
	}
	if stored.PaymentMethodName != "no_payment" {
		t.Fatalf("payment method = %q", stored.PaymentMethodName)
	}
	if len(fx.receipts.issued) != 1 {
		t.Fatalf("expected one receipt, got %d", len(fx.receipts.issued))
	}
}

func TestBeginPayment_AlreadyPaidReturnsOrderPage(t *testing.T) {
	fx := newFixture(t)
	transaction := fx.seedTransaction(t, "20.00", 1)
	now := time.Now().UTC()
	transaction.TimePaid = &now
	fx.repo.put(transaction)

	result, err := fx.service.BeginPayment(context.Background(), transaction.Key)
	if err != nil {
		t.Fatalf("BeginPayment: %v", err)
	}
	if !result.Paid {
		t.Fatalf("expected paid result")
	}
	if fx.provider.createCalls != 0 {
		t.Fatalf("paid transaction must not open a new session")
	}
}

func TestBeginPayment_SessionAlreadyStarted(t *testing.T) {
	fx := newFixture(t)
	transaction := fx.seedTransaction(t, "20.00", 1)
	transaction.Token = "prov-tx-0"
	fx.repo.put(transaction)

	_, err := fx.service.BeginPayment(context.Background(), transaction.Key)
	var appErr *pkgerrors.Error
	if !errors.As(err, &appErr) || appErr.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestBeginPayment_ConcurrentSessionKeepsFirstToken(t *testing.T) {
	fx := newFixture(t)
	transaction := fx.seedTransaction(t, "20.00", 1)

	// Another BeginPayment stores its token between this call's unlocked
	// read and the row lock.
	fx.repo.onLock = func() {
		fx.repo.transactions[transaction.ID].Token = "prov-tx-other"
	}

	_, err := fx.service.BeginPayment(context.Background(), transaction.Key)
	var appErr *pkgerrors.Error
	if !errors.As(err, &appErr) || appErr.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}

	stored := fx.stored(t, transaction.ID)
	if stored.Token != "prov-tx-other" {
		t.Fatalf("first session's token was clobbered: %q", stored.Token)
	}
}

func TestHandleCallback_OKFinalizesOnce(t *testing.T) {
	fx := newFixture(t)
	transaction := fx.seedTransaction(t, "20.00", 2)
	fx.provider.callback = okCallback(transaction)

	if err := fx.service.HandleCallback(context.Background(), url.Values{}); err != nil {
		t.Fatalf("first callback: %v", err)
	}

	stored := fx.stored(t, transaction.ID)
	if stored.TimePaid == nil || stored.TimePending == nil {
		t.Fatalf("finalization must set pending and paid: %+v", stored)
	}
	if stored.PaymentMethodName != "osuuspankki" {
		t.Fatalf("payment method = %q, want provider name", stored.PaymentMethodName)
	}
	if len(fx.receipts.issued) != 1 {
		t.Fatalf("expected one receipt, got %d", len(fx.receipts.issued))
	}

	firstPaid := *stored.TimePaid
	if err := fx.service.HandleCallback(context.Background(), url.Values{}); err != nil {
		t.Fatalf("duplicate callback: %v", err)
	}
	stored = fx.stored(t, transaction.ID)
	if !stored.TimePaid.Equal(firstPaid) {
		t.Fatalf("duplicate callback overwrote time_paid")
	}
	if len(fx.receipts.issued) != 1 {
		t.Fatalf("duplicate callback re-sent the receipt")
	}

	messages := fx.repo.eventMessages(transaction.ID)
	var duplicates int
	for _, msg := range messages {
		if msg == "duplicate paid callback" {
			duplicates++
		}
	}
	if duplicates != 1 {
		t.Fatalf("expected one duplicate event, messages = %v", messages)
	}
}

func TestHandleCallback_FailAfterOKKeepsPaid(t *testing.T) {
	fx := newFixture(t)
	transaction := fx.seedTransaction(t, "20.00", 1)

	fx.provider.callback = okCallback(transaction)
	if err := fx.service.HandleCallback(context.Background(), url.Values{}); err != nil {
		t.Fatalf("ok callback: %v", err)
	}

	failCallback := okCallback(transaction)
	failCallback.Status = paytrail.StatusFail
	fx.provider.callback = failCallback
	if err := fx.service.HandleCallback(context.Background(), url.Values{}); err != nil {
		t.Fatalf("fail callback after ok must be a no-op, got %v", err)
	}

	stored := fx.stored(t, transaction.ID)
	if stored.TimePaid == nil {
		t.Fatalf("time_paid was cleared")
	}
	if stored.TimeCancelled != nil {
		t.Fatalf("fail callback cancelled a paid transaction")
	}
}

func TestHandleCallback_OKAfterCancelIsRecordedNotApplied(t *testing.T) {
	fx := newFixture(t)
	transaction := fx.seedTransaction(t, "20.00", 1)
	now := time.Now().UTC()
	transaction.TimeCancelled = &now
	fx.repo.put(transaction)

	fx.provider.callback = okCallback(transaction)
	if err := fx.service.HandleCallback(context.Background(), url.Values{}); err != nil {
		t.Fatalf("ok callback after cancel must not error, got %v", err)
	}

	stored := fx.stored(t, transaction.ID)
	if stored.TimePaid != nil {
		t.Fatalf("cancelled transaction was finalized")
	}
	if len(fx.receipts.issued) != 0 {
		t.Fatalf("cancelled transaction produced a receipt")
	}

	var recorded bool
	for _, msg := range fx.repo.eventMessages(transaction.ID) {
		if msg == "paid callback after cancellation" {
			recorded = true
		}
	}
	if !recorded {
		t.Fatalf("conflicting callback was not recorded")
	}
}

func TestHandleCallback_FailCancels(t *testing.T) {
	fx := newFixture(t)
	transaction := fx.seedTransaction(t, "20.00", 1)

	callback := okCallback(transaction)
	callback.Status = paytrail.StatusFail
	fx.provider.callback = callback
	if err := fx.service.HandleCallback(context.Background(), url.Values{}); err != nil {
		t.Fatalf("fail callback: %v", err)
	}

	stored := fx.stored(t, transaction.ID)
	if stored.TimeCancelled == nil {
		t.Fatalf("transaction not cancelled")
	}
	if stored.TimePaid != nil {
		t.Fatalf("fail callback set time_paid")
	}
}

func TestHandleCallback_PendingIsIdempotent(t *testing.T) {
	fx := newFixture(t)
	transaction := fx.seedTransaction(t, "20.00", 1)

	callback := okCallback(transaction)
	callback.Status = paytrail.StatusPending
	fx.provider.callback = callback

	if err := fx.service.HandleCallback(context.Background(), url.Values{}); err != nil {
		t.Fatalf("pending callback: %v", err)
	}
	stored := fx.stored(t, transaction.ID)
	if stored.TimePending == nil {
		t.Fatalf("time_pending not set")
	}
	firstPending := *stored.TimePending

	if err := fx.service.HandleCallback(context.Background(), url.Values{}); err != nil {
		t.Fatalf("duplicate pending callback: %v", err)
	}
	stored = fx.stored(t, transaction.ID)
	if !stored.TimePending.Equal(firstPending) {
		t.Fatalf("duplicate pending callback overwrote time_pending")
	}
	if stored.TimePaid != nil || stored.TimeCancelled != nil {
		t.Fatalf("pending callback reached a terminal state")
	}
}

func TestHandleCallback_VerificationFailureMutatesNothing(t *testing.T) {
	fx := newFixture(t)
	transaction := fx.seedTransaction(t, "20.00", 1)
	fx.provider.callbackErr = pkgerrors.New(pkgerrors.CodePSPResponse, "signature mismatch")

	if err := fx.service.HandleCallback(context.Background(), url.Values{}); err == nil {
		t.Fatalf("expected verification error")
	}

	stored := fx.stored(t, transaction.ID)
	if stored.TimePending != nil || stored.TimePaid != nil || stored.TimeCancelled != nil {
		t.Fatalf("unverified callback mutated state: %+v", stored)
	}
	if len(fx.repo.events) != 0 {
		t.Fatalf("unverified callback logged events")
	}
}

func TestHandleRedirectSuccess_AdvisoryOnly(t *testing.T) {
	fx := newFixture(t)
	transaction := fx.seedTransaction(t, "20.00", 1)
	fx.provider.callback = okCallback(transaction)

	target, err := fx.service.HandleRedirectSuccess(context.Background(), url.Values{})
	if err != nil {
		t.Fatalf("HandleRedirectSuccess: %v", err)
	}
	if target != "https://store.soihtufest.fi/store/order/"+transaction.Key {
		t.Fatalf("redirect target = %q", target)
	}

	stored := fx.stored(t, transaction.ID)
	if stored.TimePaid != nil || stored.TimePending != nil {
		t.Fatalf("redirect handler finalized state")
	}
	if len(fx.receipts.issued) != 0 {
		t.Fatalf("redirect handler issued a receipt")
	}
}

func TestHandleRedirectCancel_ReturnsCheckoutPage(t *testing.T) {
	fx := newFixture(t)
	transaction := fx.seedTransaction(t, "20.00", 1)
	callback := okCallback(transaction)
	callback.Status = paytrail.StatusFail
	fx.provider.callback = callback

	target, err := fx.service.HandleRedirectCancel(context.Background(), url.Values{})
	if err != nil {
		t.Fatalf("HandleRedirectCancel: %v", err)
	}
	if target != "https://store.soihtufest.fi/store/checkout" {
		t.Fatalf("redirect target = %q", target)
	}
	stored := fx.stored(t, transaction.ID)
	if stored.TimeCancelled != nil {
		t.Fatalf("cancel redirect cancelled the transaction")
	}
}

func TestHandleCallback_ClaimShortCircuitsRedelivery(t *testing.T) {
	fx := newGuardedFixture(t)
	transaction := fx.seedTransaction(t, "20.00", 1)
	fx.provider.callback = okCallback(transaction)

	if err := fx.service.HandleCallback(context.Background(), url.Values{}); err != nil {
		t.Fatalf("first callback: %v", err)
	}
	eventsBefore := len(fx.repo.events)

	if err := fx.service.HandleCallback(context.Background(), url.Values{}); err != nil {
		t.Fatalf("redelivered callback: %v", err)
	}
	if len(fx.repo.events) != eventsBefore {
		t.Fatalf("redelivered callback reached the database")
	}
	if len(fx.receipts.issued) != 1 {
		t.Fatalf("redelivered callback re-sent the receipt")
	}
	stored := fx.stored(t, transaction.ID)
	if stored.TimePaid == nil {
		t.Fatalf("transaction not paid")
	}
}

func TestHandleCallback_FailedApplicationReleasesClaim(t *testing.T) {
	fx := newGuardedFixture(t)
	transaction := fx.seedTransaction(t, "20.00", 1)
	fx.provider.callback = okCallback(transaction)
	fx.repo.updateErr = errors.New("connection reset")

	if err := fx.service.HandleCallback(context.Background(), url.Values{}); err == nil {
		t.Fatalf("expected storage failure")
	}
	if len(fx.guard.claims) != 0 {
		t.Fatalf("failed application held on to its claim")
	}

	// The provider's retry must get through the fast path and finalize.
	if err := fx.service.HandleCallback(context.Background(), url.Values{}); err != nil {
		t.Fatalf("retry: %v", err)
	}
	stored := fx.stored(t, transaction.ID)
	if stored.TimePaid == nil {
		t.Fatalf("retry did not finalize the transaction")
	}
	if len(fx.receipts.issued) != 1 {
		t.Fatalf("expected one receipt, got %d", len(fx.receipts.issued))
	}
}

func TestHandleCallback_UnknownTransaction(t *testing.T) {
	fx := newFixture(t)
	fx.provider.callback = &paytrail.PaymentCallback{
		Stamp:         "nosuchkey",
		TransactionID: "nosuchtoken",
		Status:        paytrail.StatusOK,
	}

	err := fx.service.HandleCallback(context.Background(), url.Values{})
	var appErr *pkgerrors.Error
	if !errors.As(err, &appErr) || appErr.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}
