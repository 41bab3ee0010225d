package inventory

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/soihtufest/soihtufest-backend/pkg/db/models"
	"github.com/soihtufest/soihtufest-backend/pkg/enums"
	pkgerrors "github.com/soihtufest/soihtufest-backend/pkg/errors"
)

type fakeItemSource struct {
	items map[uuid.UUID]*models.StoreItem
	sold  map[uuid.UUID]int
}

func (f *fakeItemSource) FindItemByID(_ context.Context, id uuid.UUID) (*models.StoreItem, error) {
	if item, ok := f.items[id]; ok {
		return item, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeItemSource) CountUnitsSold(_ context.Context, itemID uuid.UUID) (int, error) {
	return f.sold[itemID], nil
}

func newFakeSource(items ...*models.StoreItem) *fakeItemSource {
	src := &fakeItemSource{items: map[uuid.UUID]*models.StoreItem{}, sold: map[uuid.UUID]int{}}
	for _, item := range items {
		src.items[item.ID] = item
	}
	return src
}

func testItem() *models.StoreItem {
	return &models.StoreItem{
		ID:             uuid.New(),
		Name:           "Festival ticket",
		Price:          decimal.RequireFromString("20.00"),
		Max:            50,
		PerOrderMax:    10,
		DiscountAmount: -1,
		Available:      true,
	}
}

func mustValidator(t *testing.T, src itemSource) *Validator {
	t.Helper()
	v, err := NewValidator(src)
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	return v
}

func expectReason(t *testing.T, err error, wantReason string) {
	t.Helper()
	typed := pkgerrors.As(err)
	if typed == nil {
		t.Fatalf("expected typed error, got %v", err)
	}
	details, ok := typed.Details().(map[string]any)
	if !ok {
		t.Fatalf("expected details map, got %v", typed.Details())
	}
	if details["reason"] != wantReason {
		t.Fatalf("reason = %v, want %s", details["reason"], wantReason)
	}
}

func TestValidateLine_InvalidQuantity(t *testing.T) {
	item := testItem()
	v := mustValidator(t, newFakeSource(item))

	_, err := v.ValidateLine(context.Background(), CartLine{ItemID: item.ID, Amount: 0}, "")
	expectReason(t, err, ReasonInvalidQuantity)
}

func TestValidateLine_Unavailable(t *testing.T) {
	missing := CartLine{ItemID: uuid.New(), Amount: 1}
	hidden := testItem()
	hidden.Available = false
	secret := testItem()
	secret.IsSecret = true
	secret.SecretKey = "hunter2"

	v := mustValidator(t, newFakeSource(hidden, secret))

	_, err := v.ValidateLine(context.Background(), missing, "")
	expectReason(t, err, ReasonItemUnavailable)

	_, err = v.ValidateLine(context.Background(), CartLine{ItemID: hidden.ID, Amount: 1}, "")
	expectReason(t, err, ReasonItemUnavailable)

	_, err = v.ValidateLine(context.Background(), CartLine{ItemID: secret.ID, Amount: 1}, "wrong")
	expectReason(t, err, ReasonItemUnavailable)

	if _, err := v.ValidateLine(context.Background(), CartLine{ItemID: secret.ID, Amount: 1}, "hunter2"); err != nil {
		t.Fatalf("correct secret key should unlock item: %v", err)
	}
}

func TestValidateLine_VariantMismatch(t *testing.T) {
	item := testItem()
	variant := models.StoreItemVariant{ID: uuid.New(), ItemID: item.ID, Name: "L"}
	item.Variants = []models.StoreItemVariant{variant}
	v := mustValidator(t, newFakeSource(item))

	foreign := uuid.New()
	_, err := v.ValidateLine(context.Background(), CartLine{ItemID: item.ID, VariantID: &foreign, Amount: 1}, "")
	expectReason(t, err, ReasonVariantMismatch)

	priced, err := v.ValidateLine(context.Background(), CartLine{ItemID: item.ID, VariantID: &variant.ID, Amount: 1}, "")
	if err != nil {
		t.Fatalf("owned variant should validate: %v", err)
	}
	if priced.Variant == nil || priced.Variant.ID != variant.ID {
		t.Fatalf("expected resolved variant, got %+v", priced.Variant)
	}
}

func TestValidateLine_InsufficientStock(t *testing.T) {
	item := testItem()
	item.Max = 5
	item.PerOrderMax = 10
	src := newFakeSource(item)
	src.sold[item.ID] = 3
	v := mustValidator(t, src)

	if _, err := v.ValidateLine(context.Background(), CartLine{ItemID: item.ID, Amount: 2}, ""); err != nil {
		t.Fatalf("exactly remaining stock should validate: %v", err)
	}

	_, err := v.ValidateLine(context.Background(), CartLine{ItemID: item.ID, Amount: 3}, "")
	expectReason(t, err, ReasonInsufficientStock)
}

func TestValidateLine_PerOrderCap(t *testing.T) {
	item := testItem()
	item.Max = 100
	item.PerOrderMax = 4
	v := mustValidator(t, newFakeSource(item))

	_, err := v.ValidateLine(context.Background(), CartLine{ItemID: item.ID, Amount: 5}, "")
	expectReason(t, err, ReasonInsufficientStock)
}

func TestValidateLine_DiscountPricing(t *testing.T) {
	item := testItem()
	item.DiscountAmount = 5
	item.DiscountPercentage = 50
	v := mustValidator(t, newFakeSource(item))

	priced, err := v.ValidateLine(context.Background(), CartLine{ItemID: item.ID, Amount: 5}, "")
	if err != nil {
		t.Fatalf("ValidateLine: %v", err)
	}
	if !priced.UnitPrice.Equal(decimal.RequireFromString("10.00")) {
		t.Fatalf("unit price = %s, want 10.00", priced.UnitPrice)
	}
	if !priced.Subtotal.Equal(decimal.RequireFromString("50.00")) {
		t.Fatalf("subtotal = %s, want 50.00", priced.Subtotal)
	}
	if !priced.OriginalPrice.Equal(decimal.RequireFromString("20.00")) {
		t.Fatalf("original price = %s, want 20.00", priced.OriginalPrice)
	}
}

func TestValidateCart_DuplicateLine(t *testing.T) {
	item := testItem()
	v := mustValidator(t, newFakeSource(item))

	lines := []CartLine{
		{ItemID: item.ID, Amount: 1},
		{ItemID: item.ID, Amount: 2},
	}
	_, err := v.ValidateCart(context.Background(), lines, "")
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	details, ok := typed.Details().(map[string]any)
	if !ok || details["items[1]"] != ReasonDuplicateLine {
		t.Fatalf("expected duplicate reason on second line, got %v", typed.Details())
	}
}

func TestValidateCart_DistinctVariantsAllowed(t *testing.T) {
	item := testItem()
	small := models.StoreItemVariant{ID: uuid.New(), ItemID: item.ID, Name: "S"}
	large := models.StoreItemVariant{ID: uuid.New(), ItemID: item.ID, Name: "L"}
	item.Variants = []models.StoreItemVariant{small, large}
	v := mustValidator(t, newFakeSource(item))

	lines := []CartLine{
		{ItemID: item.ID, VariantID: &small.ID, Amount: 1},
		{ItemID: item.ID, VariantID: &large.ID, Amount: 1},
	}
	priced, err := v.ValidateCart(context.Background(), lines, "")
	if err != nil {
		t.Fatalf("distinct variants should validate: %v", err)
	}
	if len(priced) != 2 {
		t.Fatalf("expected 2 priced lines, got %d", len(priced))
	}
}

func TestValidatePaymentMethod(t *testing.T) {
	free := PricedLine{Subtotal: decimal.Zero}
	paid := PricedLine{Subtotal: decimal.RequireFromString("10.00")}
	v := mustValidator(t, newFakeSource())

	if err := v.ValidatePaymentMethod([]PricedLine{free}, enums.PaymentMethodNoPayment); err != nil {
		t.Fatalf("no-cost method with free cart should pass: %v", err)
	}
	err := v.ValidatePaymentMethod([]PricedLine{free, paid}, enums.PaymentMethodNoPayment)
	expectReason(t, err, ReasonPaymentMethodNotAllowed)

	if err := v.ValidatePaymentMethod([]PricedLine{paid}, enums.PaymentMethodPaytrail); err != nil {
		t.Fatalf("provider method with priced cart should pass: %v", err)
	}

	err = v.ValidatePaymentMethod(nil, enums.PaymentMethod("giftcard"))
	expectReason(t, err, ReasonPaymentMethodNotAllowed)
}
