package controllers

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/soihtufest/soihtufest-backend/api/responses"
	"github.com/soihtufest/soihtufest-backend/api/validators"
	"github.com/soihtufest/soihtufest-backend/internal/inventory"
	"github.com/soihtufest/soihtufest-backend/internal/ledger"
	"github.com/soihtufest/soihtufest-backend/internal/settlement"
	"github.com/soihtufest/soihtufest-backend/internal/store"
	"github.com/soihtufest/soihtufest-backend/pkg/enums"
	pkgerrors "github.com/soihtufest/soihtufest-backend/pkg/errors"
	"github.com/soihtufest/soihtufest-backend/pkg/logger"
)

type checkoutRequest struct {
	Buyer         *buyerPayload        `json:"buyer"`
	Lines         []inventory.CartLine `json:"lines" validate:"required,min=1,dive"`
	PaymentMethod string               `json:"payment_method"`
	SecretKey     string               `json:"secret_key"`
	Confirm       bool                 `json:"confirm"`
}

type buyerPayload struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email"`
	Telephone   string `json:"telephone"`
	Mobile      string `json:"mobile"`
	Street      string `json:"street"`
	PostalCode  string `json:"postal_code"`
	City        string `json:"city"`
	Country     string `json:"country"`
	Information string `json:"information"`
}

func (b buyerPayload) toBuyerInfo() ledger.BuyerInfo {
	return ledger.BuyerInfo{
		FirstName:   b.FirstName,
		LastName:    b.LastName,
		Email:       b.Email,
		Telephone:   b.Telephone,
		Mobile:      b.Mobile,
		Street:      b.Street,
		PostalCode:  b.PostalCode,
		City:        b.City,
		Country:     b.Country,
		Information: b.Information,
	}
}

type quotedLine struct {
	ItemID        string `json:"item_id"`
	VariantID     string `json:"variant_id,omitempty"`
	Name          string `json:"name"`
	Amount        int    `json:"amount"`
	UnitPrice     string `json:"unit_price"`
	OriginalPrice string `json:"original_price"`
	Subtotal      string `json:"subtotal"`
}

type quoteResponse struct {
	Lines []quotedLine `json:"lines"`
	Total string       `json:"total"`
}

type checkoutResponse struct {
	Key         string `json:"key"`
	RedirectURL string `json:"redirect_url"`
	Paid        bool   `json:"paid"`
}

// Checkout prices the submitted cart. With confirm=false it only validates
// and quotes; with confirm=true it opens a ledger transaction and starts
// the payment session, returning the URL the buyer must be sent to.
func Checkout(ledgerSvc ledger.Service, settlementSvc *settlement.Service, storeRepo store.Repository, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ledgerSvc == nil || settlementSvc == nil || storeRepo == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout services unavailable"))
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if !payload.Confirm {
			quote, err := quoteCart(r, storeRepo, payload)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			responses.WriteSuccess(w, quote)
			return
		}

		if payload.Buyer == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "buyer is required"))
			return
		}
		method, err := enums.ParsePaymentMethod(payload.PaymentMethod)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment method"))
			return
		}

		transaction, err := ledgerSvc.CreateTransaction(r.Context(), ledger.CreateTransactionInput{
			Buyer:         payload.Buyer.toBuyerInfo(),
			Lines:         payload.Lines,
			PaymentMethod: method,
			SecretKey:     payload.SecretKey,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := settlementSvc.BeginPayment(r.Context(), transaction.Key)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, checkoutResponse{
			Key:         transaction.Key,
			RedirectURL: result.RedirectURL,
			Paid:        result.Paid,
		})
	}
}

func quoteCart(r *http.Request, storeRepo store.Repository, payload checkoutRequest) (*quoteResponse, error) {
	validator, err := inventory.NewValidator(storeRepo)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build validator")
	}
	priced, err := validator.ValidateCart(r.Context(), payload.Lines, payload.SecretKey)
	if err != nil {
		return nil, err
	}
	if payload.PaymentMethod != "" {
		method, err := enums.ParsePaymentMethod(payload.PaymentMethod)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment method")
		}
		if err := validator.ValidatePaymentMethod(priced, method); err != nil {
			return nil, err
		}
	}

	resp := &quoteResponse{Lines: make([]quotedLine, 0, len(priced))}
	total := decimal.Zero
	for _, line := range priced {
		quoted := quotedLine{
			ItemID:        line.Item.ID.String(),
			Name:          line.Item.Name,
			Amount:        line.Amount,
			UnitPrice:     line.UnitPrice.StringFixed(2),
			OriginalPrice: line.OriginalPrice.StringFixed(2),
			Subtotal:      line.Subtotal.StringFixed(2),
		}
		if line.Variant != nil {
			quoted.VariantID = line.Variant.ID.String()
			quoted.Name = line.Item.Name + " (" + line.Variant.Name + ")"
		}
		resp.Lines = append(resp.Lines, quoted)
		total = total.Add(line.Subtotal)
	}
	resp.Total = total.StringFixed(2)
	return resp, nil
}
