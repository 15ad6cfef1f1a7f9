// Package contacts resolves counterparties through the user directory and keeps
// each user's address book.
package contacts

import (
	"context"
	"sync"

	"p2pplatform/internal/p2p/domain"
)

// Entry is what the directory knows about a contact reference. Unregistered
// references resolve to an Entry with IsRegistered false rather than an error.
type Entry struct {
	UserID           string `json:"user_id"`
	DisplayName      string `json:"display_name"`
	IsRegistered     bool   `json:"is_registered"`
	DefaultAccountID string `json:"default_account_id"`
}

// Directory looks up users by contact reference.
type Directory interface {
	Resolve(ctx context.Context, ref domain.ContactRef) (Entry, error)
}

// StaticDirectory is an in-memory directory for development and tests.
type StaticDirectory struct {
	mu      sync.RWMutex
	entries map[domain.ContactRef]Entry
}

// NewStaticDirectory creates an empty directory.
func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{entries: make(map[domain.ContactRef]Entry)}
}

// Register adds a registered user reachable through ref.
func (d *StaticDirectory) Register(ref domain.ContactRef, e Entry) {
	e.IsRegistered = true
	d.mu.Lock()
	d.entries[ref.Normalize()] = e
	d.mu.Unlock()
}

// Resolve implements Directory.
func (d *StaticDirectory) Resolve(_ context.Context, ref domain.ContactRef) (Entry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if e, ok := d.entries[ref.Normalize()]; ok {
		return e, nil
	}
	return Entry{}, nil
}
