package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPaginationParams(t *testing.T) {
	tests := []struct {
		query  string
		limit  int
		offset int
	}{
		{"", 20, 0},
		{"limit=5&offset=10", 5, 10},
		{"limit=500", 100, 0},
		{"limit=-1&offset=-3", 20, 0},
		{"limit=abc", 20, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/x?"+tt.query, nil)
			p := GetPaginationParams(r, 20, 100)
			assert.Equal(t, tt.limit, p.Limit)
			assert.Equal(t, tt.offset, p.Offset)
		})
	}
}

func TestNewPagination(t *testing.T) {
	assert.True(t, NewPagination(PaginationParams{Limit: 10, Offset: 0}, 11).HasMore)
	assert.False(t, NewPagination(PaginationParams{Limit: 10, Offset: 10}, 11).HasMore)
}

func TestValidationErrorUsesJSONNames(t *testing.T) {
	type body struct {
		SourceAccountID string `json:"source_account_id" validate:"required"`
	}
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	var b body
	err := DecodeAndValidate(r, &b)
	require.Error(t, err)

	w := httptest.NewRecorder()
	ValidationError(w, err)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var resp Response[any]
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, ErrCodeValidation, resp.Error.Code)
	assert.Equal(t, "This field is required", resp.Error.Details["source_account_id"])
}

func TestWritePaginatedEmpty(t *testing.T) {
	w := httptest.NewRecorder()
	WritePaginated[string](w, nil, NewPagination(PaginationParams{Limit: 10}, 0))
	assert.JSONEq(t, `{"data":[],"pagination":{"limit":10,"offset":0,"total":0,"has_more":false}}`, w.Body.String())
}
