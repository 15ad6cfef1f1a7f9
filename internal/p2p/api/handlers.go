// Package api is the HTTP surface of the P2P engine.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"p2pplatform/internal/common/api"
	"p2pplatform/internal/common/middleware"
	"p2pplatform/internal/common/money"
	"p2pplatform/internal/p2p"
	"p2pplatform/internal/p2p/contacts"
	"p2pplatform/internal/p2p/domain"
)

// Handler handles P2P HTTP requests
type Handler struct {
	service  *p2p.Service
	contacts *contacts.Resolver
	logger   *slog.Logger
}

// NewHandler creates a new P2P handler
func NewHandler(service *p2p.Service, resolver *contacts.Resolver, logger *slog.Logger) *Handler {
	return &Handler{service: service, contacts: resolver, logger: logger}
}

// Routes returns the P2P routes. public wraps the anonymous payment link view;
// protected must authenticate the caller.
func (h *Handler) Routes(public, protected chi.Middlewares) chi.Router {
	r := chi.NewRouter()

	r.With(public...).Get("/pay/{publicID}", h.GetPublicLink)

	r.Group(func(r chi.Router) {
		r.Use(protected...)

		// Transfers
		r.Post("/send", h.SendMoney)
		r.Post("/quote", h.GetQuote)
		r.Get("/transactions", h.ListTransactions)
		r.Get("/transactions/{id}", h.GetTransaction)
		r.Post("/transactions/{id}/cancel", h.CancelTransaction)
		r.Post("/transactions/{id}/claim", h.ClaimTransaction)

		// Requests
		r.Post("/requests", h.CreateRequest)
		r.Get("/requests", h.ListRequests)
		r.Get("/requests/{id}", h.GetRequest)
		r.Post("/requests/{id}/respond", h.RespondToRequest)
		r.Post("/requests/{id}/cancel", h.CancelRequest)

		// Split bills
		r.Post("/split-bills", h.CreateSplitBill)
		r.Get("/split-bills", h.ListSplitBills)
		r.Get("/split-bills/{id}", h.GetSplitBill)

		// Payment links
		r.Post("/payment-links", h.CreatePaymentLink)
		r.Get("/payment-links", h.ListPaymentLinks)
		r.Get("/payment-links/{id}", h.GetPaymentLink)
		r.Post("/payment-links/{id}/deactivate", h.DeactivatePaymentLink)
		r.Post("/pay/{publicID}", h.PayViaLink)

		// Contacts and insights
		r.Get("/contacts", h.ListContacts)
		r.Post("/contacts/{id}/favorite", h.SetFavorite)
		r.Get("/analytics", h.GetAnalytics)
		r.Get("/summary", h.GetSummary)
		r.Get("/limits/fees", h.GetLimitsAndFees)
	})

	return r
}

// userID returns the authenticated caller or writes a 401.
func userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := middleware.GetUserID(r.Context())
	if id == "" {
		api.Unauthorized(w, "authentication required")
		return "", false
	}
	return id, true
}

// writeError maps engine error categories onto HTTP responses. Anything
// uncategorised is logged and reported as an opaque 500.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		api.WriteError(w, http.StatusUnprocessableEntity, api.ErrCodeValidation, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		api.NotFound(w, err.Error())
	case errors.Is(err, domain.ErrInsufficientFunds):
		api.WriteError(w, http.StatusConflict, api.ErrCodeInsufficientFunds, err.Error())
	case errors.Is(err, domain.ErrLinkCapacity):
		api.WriteError(w, http.StatusConflict, api.ErrCodeLinkCapacity, err.Error())
	case errors.Is(err, domain.ErrBusinessRule):
		api.WriteError(w, http.StatusConflict, api.ErrCodeBusinessRule, err.Error())
	case errors.Is(err, domain.ErrExternal):
		h.logger.Warn("collaborator failure", "error", err, "path", r.URL.Path,
			"correlation_id", middleware.GetCorrelationID(r.Context()))
		api.WriteError(w, http.StatusBadGateway, api.ErrCodeExternalService, "a downstream service is unavailable")
	default:
		correlationID := middleware.GetCorrelationID(r.Context())
		h.logger.Error("request failed", "error", err, "path", r.URL.Path, "correlation_id", correlationID)
		api.WriteInternal(w, correlationID)
	}
}

func queryTime(r *http.Request, name string) (*time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return nil, domain.Validationf("%s must be RFC 3339 or YYYY-MM-DD", name)
	}
	return &t, nil
}

func queryBool(r *http.Request, name string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return b
}

func queryCurrency(r *http.Request) money.Currency {
	return money.Currency(r.URL.Query().Get("currency"))
}
