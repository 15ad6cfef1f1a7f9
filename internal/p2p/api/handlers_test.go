package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"p2pplatform/internal/common/middleware"
	"p2pplatform/internal/common/money"
	"p2pplatform/internal/ledger"
	"p2pplatform/internal/p2p"
	"p2pplatform/internal/p2p/contacts"
	"p2pplatform/internal/p2p/domain"
	"p2pplatform/internal/p2p/fees"
	"p2pplatform/internal/p2p/store"
)

type nopQueue struct{}

func (nopQueue) Enqueue(context.Context, string) error { return nil }

type server struct {
	handler http.Handler
	tokens  *middleware.TokenManager
}

// newServer funds alice and bob with 1000.00 USD each.
func newServer(t *testing.T) *server {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "p2p.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	led := ledger.NewMemory(money.USD)
	dir := contacts.NewStaticDirectory()
	for _, user := range []string{"alice", "bob"} {
		_, err := led.OpenWallet(user+"-usd", user, money.USD)
		require.NoError(t, err)
		_, err = led.Deposit(ctx, user+"-usd", money.MustParse("1000.00", money.USD), "seed")
		require.NoError(t, err)
		dir.Register(domain.ContactRef{Method: domain.ContactEmail, Value: user + "@example.com"},
			contacts.Entry{UserID: user, DisplayName: user, DefaultAccountID: user + "-usd"})
	}
	policy, err := fees.NewPolicy(fees.DefaultSchedule())
	require.NoError(t, err)
	resolver := contacts.NewResolver(s, dir, logger)

	svc := p2p.NewService(p2p.DefaultConfig(), p2p.Deps{
		Store:     s,
		Ledger:    led,
		Ownership: led,
		Contacts:  resolver,
		Queue:     nopQueue{},
		Fees:      policy,
		Limits:    fees.DefaultLimits(),
		Logger:    logger,
	})
	tokens := middleware.NewTokenManager("test-secret", "p2p-test", time.Hour)
	routes := NewHandler(svc, resolver, logger).Routes(nil, chi.Middlewares{middleware.JWTAuth(tokens)})
	return &server{handler: routes, tokens: tokens}
}

func (s *server) do(t *testing.T, user, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if user != "" {
		token, err := s.tokens.Issue(user)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NoError(t, json.Unmarshal(env.Data, v))
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NotNil(t, env.Error, rec.Body.String())
	return env.Error.Code
}

const sendBody = `{
	"recipient": {"method": "email", "value": "Bob@Example.com"},
	"amount": {"amount": "500.00", "currency": "USD"},
	"source_account_id": "alice-usd",
	"message": "rent"
}`

func TestSendMoney(t *testing.T) {
	srv := newServer(t)

	rec := srv.do(t, "alice", http.MethodPost, "/send", sendBody)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var tx domain.Transaction
	decode(t, rec, &tx)
	assert.Equal(t, domain.TxPending, tx.Status)
	assert.Equal(t, "0.50", tx.Fee.String())
	assert.Equal(t, "bob", tx.RecipientUserID)

	rec = srv.do(t, "alice", http.MethodGet, "/transactions/"+tx.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, "bob", http.MethodGet, "/transactions?direction=received", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), tx.ID)
	assert.Contains(t, rec.Body.String(), `"total":1`)

	rec = srv.do(t, "alice", http.MethodPost, "/transactions/"+tx.ID+"/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &tx)
	assert.Equal(t, domain.TxCancelled, tx.Status)

	rec = srv.do(t, "alice", http.MethodPost, "/transactions/"+tx.ID+"/cancel", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "BUSINESS_RULE_VIOLATION", errorCode(t, rec))
}

func TestSendMoney_ErrorMapping(t *testing.T) {
	srv := newServer(t)

	rec := srv.do(t, "", http.MethodPost, "/send", sendBody)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = srv.do(t, "alice", http.MethodPost, "/send", `{"amount":{"amount":"5.00","currency":"USD"}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, rec))

	rec = srv.do(t, "alice", http.MethodPost, "/send", strings.Replace(sendBody, "alice-usd", "bob-usd", 1))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	big := strings.Replace(sendBody, "500.00", "900.00", 1)
	rec = srv.do(t, "alice", http.MethodPost, "/send", big)
	require.Equal(t, http.StatusAccepted, rec.Code)
	rec = srv.do(t, "alice", http.MethodPost, "/send", big)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INSUFFICIENT_FUNDS", errorCode(t, rec))

	rec = srv.do(t, "bob", http.MethodGet, "/transactions/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendMoney_IdempotencyKeyHeader(t *testing.T) {
	srv := newServer(t)
	send := func() domain.Transaction {
		req := httptest.NewRequest(http.MethodPost, "/send", strings.NewReader(sendBody))
		token, err := srv.tokens.Issue("alice")
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Idempotency-Key", "k-1")
		rec := httptest.NewRecorder()
		srv.handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
		var tx domain.Transaction
		decode(t, rec, &tx)
		return tx
	}
	first, second := send(), send()
	assert.Equal(t, first.ID, second.ID)
}

func TestQuoteAndLimits(t *testing.T) {
	srv := newServer(t)

	rec := srv.do(t, "alice", http.MethodPost, "/quote", `{"amount":{"amount":"1234.50","currency":"USD"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var q p2p.Quote
	decode(t, rec, &q)
	assert.Equal(t, "6.17", q.Fee.String())
	assert.Equal(t, "1240.67", q.Total.String())

	rec = srv.do(t, "alice", http.MethodGet, "/limits/fees?currency=USD", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, "alice", http.MethodGet, "/limits/fees?currency=XXX", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRequestFlow(t *testing.T) {
	srv := newServer(t)

	rec := srv.do(t, "bob", http.MethodPost, "/requests", `{
		"payer": {"method": "email", "value": "alice@example.com"},
		"amount": {"amount": "40.00", "currency": "USD"},
		"description": "concert tickets",
		"destination_account_id": "bob-usd"
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var req domain.MoneyRequest
	decode(t, rec, &req)
	assert.Equal(t, domain.RequestPending, req.Status)

	rec = srv.do(t, "alice", http.MethodGet, "/requests?direction=incoming", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Data            []domain.MoneyRequest `json:"data"`
		PendingIncoming int                   `json:"pending_incoming"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Data, 1)
	assert.Equal(t, 1, list.PendingIncoming)

	rec = srv.do(t, "alice", http.MethodPost, "/requests/"+req.ID+"/respond", `{"action":"accept"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = srv.do(t, "alice", http.MethodPost, "/requests/"+req.ID+"/respond",
		`{"action":"accept","source_account_id":"alice-usd"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res p2p.RespondResult
	decode(t, rec, &res)
	require.NotNil(t, res.Transaction)
	assert.Equal(t, domain.KindRequestPayment, res.Transaction.Kind)

	rec = srv.do(t, "carol", http.MethodGet, "/requests/"+req.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSplitBill(t *testing.T) {
	srv := newServer(t)

	rec := srv.do(t, "alice", http.MethodPost, "/split-bills", `{
		"title": "Dinner",
		"total_amount": {"amount": "90.00", "currency": "USD"},
		"participants": [{"contact": {"method": "email", "value": "bob@example.com"}}],
		"include_creator": true,
		"destination_account_id": "alice-usd",
		"category": "food"
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created splitBillResponse
	decode(t, rec, &created)
	require.Len(t, created.Requests, 1)
	assert.Equal(t, "45.00", created.Requests[0].Amount.String())
	assert.Equal(t, "50.00", created.SplitBill.CollectionPercentage)
	assert.False(t, created.SplitBill.IsFullyCollected)

	rec = srv.do(t, "bob", http.MethodGet, "/split-bills/"+created.SplitBill.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, "alice", http.MethodGet, "/split-bills?active=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), created.SplitBill.ID)

	rec = srv.do(t, "alice", http.MethodPost, "/split-bills", `{
		"title": "Empty",
		"total_amount": {"amount": "10.00", "currency": "USD"},
		"participants": [],
		"destination_account_id": "alice-usd"
	}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestPaymentLinks(t *testing.T) {
	srv := newServer(t)

	rec := srv.do(t, "bob", http.MethodPost, "/payment-links", `{
		"title": "Yoga class",
		"currency": "USD",
		"is_amount_fixed": true,
		"amount": {"amount": "25.00", "currency": "USD"},
		"destination_account_id": "bob-usd",
		"max_uses": 1
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var link domain.PaymentLink
	decode(t, rec, &link)

	// The public view needs no token.
	rec = srv.do(t, "", http.MethodGet, "/pay/"+link.PublicID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Yoga class")
	assert.NotContains(t, rec.Body.String(), "bob-usd")

	rec = srv.do(t, "", http.MethodPost, "/pay/"+link.PublicID, `{"source_account_id":"alice-usd"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = srv.do(t, "alice", http.MethodPost, "/pay/"+link.PublicID, `{"source_account_id":"alice-usd"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = srv.do(t, "alice", http.MethodPost, "/pay/"+link.PublicID, `{"source_account_id":"alice-usd"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "LINK_CAPACITY_REACHED", errorCode(t, rec))

	rec = srv.do(t, "alice", http.MethodPost, "/payment-links/"+link.ID+"/deactivate", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = srv.do(t, "bob", http.MethodPost, "/payment-links/"+link.ID+"/deactivate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &link)
	assert.False(t, link.IsActive)

	rec = srv.do(t, "", http.MethodGet, "/pay/unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestContactsAndInsights(t *testing.T) {
	srv := newServer(t)
	require.Equal(t, http.StatusAccepted, srv.do(t, "alice", http.MethodPost, "/send", sendBody).Code)

	rec := srv.do(t, "alice", http.MethodGet, "/contacts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []domain.Contact
	decode(t, rec, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "bob@example.com", list[0].Value)

	rec = srv.do(t, "alice", http.MethodPost, "/contacts/"+list[0].ID+"/favorite", `{"favorite":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = srv.do(t, "alice", http.MethodGet, "/contacts?favorites=true", "")
	decode(t, rec, &list)
	assert.Len(t, list, 1)

	rec = srv.do(t, "bob", http.MethodPost, "/contacts/"+list[0].ID+"/favorite", `{"favorite":true}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = srv.do(t, "alice", http.MethodGet, "/analytics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = srv.do(t, "alice", http.MethodGet, "/analytics?from=2026-02-01&to=2026-01-01", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	rec = srv.do(t, "alice", http.MethodGet, "/analytics?from=yesterday", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = srv.do(t, "alice", http.MethodGet, "/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var sum p2p.Summary
	decode(t, rec, &sum)
	assert.Equal(t, 1, sum.PendingTransactions)
}
