package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/soihtufest/soihtufest-backend/api/responses"
	"github.com/soihtufest/soihtufest-backend/internal/ledger"
	"github.com/soihtufest/soihtufest-backend/internal/store"
	"github.com/soihtufest/soihtufest-backend/pkg/db/models"
	pkgerrors "github.com/soihtufest/soihtufest-backend/pkg/errors"
	"github.com/soihtufest/soihtufest-backend/pkg/logger"
)

type transactionLine struct {
	ItemID    string `json:"item_id"`
	VariantID string `json:"variant_id,omitempty"`
	Name      string `json:"name"`
	Amount    int64  `json:"amount"`
	UnitPrice string `json:"unit_price"`
	Subtotal  string `json:"subtotal"`
}

type transactionResponse struct {
	Key           string            `json:"key"`
	State         string            `json:"state"`
	BuyerName     string            `json:"buyer_name"`
	Email         string            `json:"email"`
	PaymentMethod string            `json:"payment_method,omitempty"`
	TimeCreated   time.Time         `json:"time_created"`
	TimePending   *time.Time        `json:"time_pending,omitempty"`
	TimePaid      *time.Time        `json:"time_paid,omitempty"`
	TimeCancelled *time.Time        `json:"time_cancelled,omitempty"`
	Lines         []transactionLine `json:"lines"`
	Total         string            `json:"total"`
}

// TransactionDetail serves the self-service order page lookup. The key is
// unguessable, so possession of it is the only access control.
func TransactionDetail(svc ledger.Service, storeRepo store.Repository, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}

		key := chi.URLParam(r, "key")
		transaction, err := svc.GetByKey(r.Context(), key)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newTransactionResponse(r, storeRepo, transaction))
	}
}

func newTransactionResponse(r *http.Request, storeRepo store.Repository, transaction *models.Transaction) transactionResponse {
	groups := ledger.GroupUnits(transaction.Items)

	lines := make([]transactionLine, 0, len(groups))
	for _, group := range groups {
		line := transactionLine{
			ItemID:    group.ItemID.String(),
			Name:      describeUnits(r, storeRepo, group),
			Amount:    group.Count,
			UnitPrice: group.UnitPrice.StringFixed(2),
			Subtotal:  group.Subtotal().StringFixed(2),
		}
		if group.VariantID != nil {
			line.VariantID = group.VariantID.String()
		}
		lines = append(lines, line)
	}

	return transactionResponse{
		Key:           transaction.Key,
		State:         transaction.State().String(),
		BuyerName:     transaction.FullName(),
		Email:         transaction.Email,
		PaymentMethod: transaction.PaymentMethodName,
		TimeCreated:   transaction.TimeCreated,
		TimePending:   transaction.TimePending,
		TimePaid:      transaction.TimePaid,
		TimeCancelled: transaction.TimeCancelled,
		Lines:         lines,
		Total:         ledger.Total(groups).StringFixed(2),
	}
}

// describeUnits resolves a display name for a unit group. Lookup failures
// degrade to the raw item id instead of failing the whole page.
func describeUnits(r *http.Request, storeRepo store.Repository, group ledger.UnitGroup) string {
	if storeRepo == nil {
		return group.ItemID.String()
	}

	item, err := storeRepo.FindItemByID(r.Context(), group.ItemID)
	if err != nil {
		return group.ItemID.String()
	}
	name := item.Name
	if group.VariantID != nil {
		if variant, err := storeRepo.FindVariantByID(r.Context(), *group.VariantID); err == nil {
			name += " (" + variant.Name + ")"
		}
	}
	return name
}
