package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"p2pplatform/internal/common/api"
	"p2pplatform/internal/p2p/domain"
)

const defaultAnalyticsWindow = 30 * 24 * time.Hour

// ListContacts handles GET /contacts
func (h *Handler) ListContacts(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	list, err := h.contacts.List(r.Context(), user, queryBool(r, "favorites"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []*domain.Contact{}
	}
	api.WriteData(w, http.StatusOK, list)
}

// FavoriteRequest marks or unmarks a contact
type FavoriteRequest struct {
	Favorite *bool `json:"favorite" validate:"required"`
}

// SetFavorite handles POST /contacts/{id}/favorite
func (h *Handler) SetFavorite(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	var req FavoriteRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}
	c, err := h.contacts.SetFavorite(r.Context(), user, chi.URLParam(r, "id"), *req.Favorite)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteData(w, http.StatusOK, c)
}

// GetAnalytics handles GET /analytics. The period defaults to the last 30 days.
func (h *Handler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	from, err := queryTime(r, "from")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	to, err := queryTime(r, "to")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	end := time.Now().UTC()
	if to != nil {
		end = *to
	}
	start := end.Add(-defaultAnalyticsWindow)
	if from != nil {
		start = *from
	}

	a, err := h.service.GetAnalytics(r.Context(), user, start, end, queryCurrency(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteData(w, http.StatusOK, a)
}

// GetSummary handles GET /summary
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(w, r)
	if !ok {
		return
	}
	s, err := h.service.GetSummary(r.Context(), user, queryCurrency(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteData(w, http.StatusOK, s)
}

// GetLimitsAndFees handles GET /limits/fees
func (h *Handler) GetLimitsAndFees(w http.ResponseWriter, r *http.Request) {
	lf, err := h.service.GetLimitsAndFees(queryCurrency(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteData(w, http.StatusOK, lf)
}
