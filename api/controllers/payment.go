package controllers

import (
	"net/http"

	"github.com/soihtufest/soihtufest-backend/api/responses"
	"github.com/soihtufest/soihtufest-backend/internal/settlement"
	pkgerrors "github.com/soihtufest/soihtufest-backend/pkg/errors"
	"github.com/soihtufest/soihtufest-backend/pkg/logger"
)

// PaymentSuccess is the browser return URL after a completed payment. The
// redirect is advisory; authoritative state comes from the server-to-server
// callback. The buyer is sent to the order page either way.
func PaymentSuccess(svc *settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}

		target, err := svc.HandleRedirectSuccess(r.Context(), r.URL.Query())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		http.Redirect(w, r, target, http.StatusFound)
	}
}

// PaymentCancel is the browser return URL after an aborted payment.
func PaymentCancel(svc *settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}

		target, err := svc.HandleRedirectCancel(r.Context(), r.URL.Query())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		http.Redirect(w, r, target, http.StatusFound)
	}
}

// PaymentCallback is the server-to-server settlement notification. The
// provider retries on non-2xx, so the body is an empty JSON object and
// domain-level duplicates are acknowledged as success.
func PaymentCallback(svc *settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}

		if err := svc.HandleCallback(r.Context(), r.URL.Query()); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("{}"))
	}
}
