package middleware

import (
	"net/http"
	"net/url"

	"github.com/soihtufest/soihtufest-backend/api/responses"
	pkgerrors "github.com/soihtufest/soihtufest-backend/pkg/errors"
	"github.com/soihtufest/soihtufest-backend/pkg/logger"
	"github.com/soihtufest/soihtufest-backend/pkg/paytrail"
)

// CallbackVerifier checks provider query parameters before any handler runs.
type CallbackVerifier interface {
	VerifyCallback(values url.Values) (*paytrail.PaymentCallback, error)
}

// PaymentGuard fronts the provider-facing endpoints. Requests whose query
// parameters fail signature verification, or that reference neither a stamp
// nor a provider transaction id, never reach a handler. Handlers still
// resolve and lock the transaction themselves; the guard only keeps forged
// and malformed requests out.
func PaymentGuard(verifier CallbackVerifier, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			callback, err := verifier.VerifyCallback(r.URL.Query())
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			if callback.Stamp == "" && callback.TransactionID == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(
					pkgerrors.CodePSPResponse, "callback references no transaction"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
