package controllers

import (
	"net/http"

	"github.com/soihtufest/soihtufest-backend/api/responses"
	"github.com/soihtufest/soihtufest-backend/internal/store"
	pkgerrors "github.com/soihtufest/soihtufest-backend/pkg/errors"
	"github.com/soihtufest/soihtufest-backend/pkg/logger"
)

// StoreItems lists the purchasable catalogue for one event. Secret items
// stay hidden unless the matching secret_key query parameter is supplied.
func StoreItems(svc store.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "store service unavailable"))
			return
		}

		event := r.URL.Query().Get("event")
		secretKey := r.URL.Query().Get("secret_key")

		items, err := svc.ListItems(r.Context(), event, secretKey)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{"items": items})
	}
}
