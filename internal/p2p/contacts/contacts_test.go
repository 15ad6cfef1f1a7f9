package contacts

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"p2pplatform/internal/p2p/domain"
	"p2pplatform/internal/p2p/store"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func newResolver(t *testing.T) (*Resolver, *StaticDirectory) {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "contacts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	dir := NewStaticDirectory()
	return NewResolver(s, dir, discard), dir
}

func TestResolver_CreatesOnceAndNormalizes(t *testing.T) {
	ctx := context.Background()
	r, dir := newResolver(t)
	dir.Register(domain.ContactRef{Method: domain.ContactEmail, Value: "bob@example.com"},
		Entry{UserID: "bob", DisplayName: "Bob Builder", DefaultAccountID: "bob-usd"})

	first, err := r.Resolve(ctx, "alice", domain.ContactRef{Method: domain.ContactEmail, Value: " Bob@Example.com "})
	require.NoError(t, err)
	assert.Equal(t, "bob", first.Contact.UserID)
	assert.True(t, first.Contact.IsRegistered)
	assert.Equal(t, "Bob Builder", first.Contact.DisplayName)
	assert.Equal(t, "bob-usd", first.Entry.DefaultAccountID)

	second, err := r.Resolve(ctx, "alice", domain.ContactRef{Method: domain.ContactEmail, Value: "bob@example.com"})
	require.NoError(t, err)
	assert.Equal(t, first.Contact.ID, second.Contact.ID)

	// Another owner gets their own contact row.
	other, err := r.Resolve(ctx, "carol", domain.ContactRef{Method: domain.ContactEmail, Value: "bob@example.com"})
	require.NoError(t, err)
	assert.NotEqual(t, first.Contact.ID, other.Contact.ID)
}

func TestResolver_UnregisteredDefaults(t *testing.T) {
	ctx := context.Background()
	r, _ := newResolver(t)

	tests := []struct {
		ref  domain.ContactRef
		name string
	}{
		{domain.ContactRef{Method: domain.ContactEmail, Value: "john.doe@example.com"}, "John Doe"},
		{domain.ContactRef{Method: domain.ContactPhone, Value: "+1 (555) 123-4567"}, "Contact 4567"},
		{domain.ContactRef{Method: domain.ContactUsername, Value: "@Dana"}, "@dana"},
	}
	for _, tt := range tests {
		t.Run(string(tt.ref.Method), func(t *testing.T) {
			res, err := r.Resolve(ctx, "alice", tt.ref)
			require.NoError(t, err)
			assert.False(t, res.Contact.IsRegistered)
			assert.Empty(t, res.Contact.UserID)
			assert.Equal(t, tt.name, res.Contact.DisplayName)
		})
	}
}

func TestResolver_PicksUpLaterRegistration(t *testing.T) {
	ctx := context.Background()
	r, dir := newResolver(t)
	ref := domain.ContactRef{Method: domain.ContactPhone, Value: "+15550001111"}

	before, err := r.Resolve(ctx, "alice", ref)
	require.NoError(t, err)
	assert.False(t, before.Contact.IsRegistered)

	dir.Register(ref, Entry{UserID: "erin", DisplayName: "Erin"})
	after, err := r.Resolve(ctx, "alice", ref)
	require.NoError(t, err)
	assert.Equal(t, before.Contact.ID, after.Contact.ID)
	assert.Equal(t, "erin", after.Contact.UserID)
	assert.Equal(t, "Erin", after.Contact.DisplayName)
}

// racingStore lets another writer bump the contact just before the next
// UpdateContact lands.
type racingStore struct {
	store.Store
	race atomic.Bool
}

func (s *racingStore) UpdateContact(ctx context.Context, c *domain.Contact) error {
	if s.race.CompareAndSwap(true, false) {
		other, err := s.Store.GetContact(ctx, c.ID)
		if err != nil {
			return err
		}
		other.Touch(time.Now().UTC())
		if err := s.Store.UpdateContact(ctx, other); err != nil {
			return err
		}
	}
	return s.Store.UpdateContact(ctx, c)
}

func TestResolver_RefreshSurvivesConcurrentUpdate(t *testing.T) {
	ctx := context.Background()
	sqlite, err := store.NewSQLite(filepath.Join(t.TempDir(), "contacts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })
	s := &racingStore{Store: sqlite}
	dir := NewStaticDirectory()
	r := NewResolver(s, dir, discard)
	ref := domain.ContactRef{Method: domain.ContactPhone, Value: "+15550002222"}

	before, err := r.Resolve(ctx, "alice", ref)
	require.NoError(t, err)
	assert.False(t, before.Contact.IsRegistered)

	dir.Register(ref, Entry{UserID: "hank", DisplayName: "Hank"})
	s.race.Store(true)
	after, err := r.Resolve(ctx, "alice", ref)
	require.NoError(t, err)
	assert.Equal(t, "hank", after.Contact.UserID)
	assert.True(t, after.Contact.IsRegistered)
	assert.Equal(t, 1, after.Contact.TransactionCount, "the concurrent write is kept")

	stored, err := sqlite.GetContact(ctx, before.Contact.ID)
	require.NoError(t, err)
	assert.Equal(t, "hank", stored.UserID)
	assert.Equal(t, "Hank", stored.DisplayName)
	assert.Equal(t, 1, stored.TransactionCount)
	assert.Equal(t, after.Contact.Version, stored.Version)
}

func TestResolver_ConcurrentResolveSingleContact(t *testing.T) {
	ctx := context.Background()
	r, _ := newResolver(t)
	ref := domain.ContactRef{Method: domain.ContactUsername, Value: "frank"}

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := r.Resolve(ctx, "alice", ref)
			if assert.NoError(t, err) {
				ids[i] = res.Contact.ID
			}
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestResolver_InvalidRef(t *testing.T) {
	r, _ := newResolver(t)
	_, err := r.Resolve(context.Background(), "alice", domain.ContactRef{Method: domain.ContactEmail, Value: "nope"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestResolver_FavoritesAndActivity(t *testing.T) {
	ctx := context.Background()
	r, _ := newResolver(t)
	res, err := r.Resolve(ctx, "alice", domain.ContactRef{Method: domain.ContactUsername, Value: "gina"})
	require.NoError(t, err)

	_, err = r.SetFavorite(ctx, "mallory", res.Contact.ID, true)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	c, err := r.SetFavorite(ctx, "alice", res.Contact.ID, true)
	require.NoError(t, err)
	assert.True(t, c.IsFavorite)

	r.RecordTransaction(ctx, res.Contact.ID)
	favs, err := r.List(ctx, "alice", true)
	require.NoError(t, err)
	require.Len(t, favs, 1)
	assert.Equal(t, 1, favs[0].TransactionCount)
	assert.NotNil(t, favs[0].LastTransactionAt)
}

func TestHTTPDirectory_Resolve(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		assert.Equal(t, "/users/lookup", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		switch r.URL.Query().Get("value") {
		case "flaky@example.com":
			if n == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_ = json.NewEncoder(w).Encode(Entry{UserID: "u-flaky", DisplayName: "Flaky"})
		case "bad@example.com":
			w.WriteHeader(http.StatusBadRequest)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	dir := NewHTTPDirectory(HTTPConfig{BaseURL: srv.URL, Token: "secret", Timeout: time.Second, MaxAttempts: 3}, discard)
	ctx := context.Background()

	e, err := dir.Resolve(ctx, domain.ContactRef{Method: domain.ContactEmail, Value: "flaky@example.com"})
	require.NoError(t, err)
	assert.True(t, e.IsRegistered)
	assert.Equal(t, "u-flaky", e.UserID)
	assert.Equal(t, int32(2), calls.Load())

	e, err = dir.Resolve(ctx, domain.ContactRef{Method: domain.ContactEmail, Value: "nobody@example.com"})
	require.NoError(t, err)
	assert.False(t, e.IsRegistered)

	calls.Store(0)
	_, err = dir.Resolve(ctx, domain.ContactRef{Method: domain.ContactEmail, Value: "bad@example.com"})
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}
