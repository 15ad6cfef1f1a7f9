package contacts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"p2pplatform/internal/p2p/domain"
	"p2pplatform/internal/p2p/store"
)

// Resolved is a contact together with the directory's view of it.
type Resolved struct {
	Contact *domain.Contact
	Entry   Entry
}

// Resolver turns contact references into address-book entries, creating them
// on first use.
type Resolver struct {
	store     store.Store
	directory Directory
	logger    *slog.Logger
	now       func() time.Time
}

// NewResolver creates a resolver.
func NewResolver(s store.Store, dir Directory, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:     s,
		directory: dir,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Resolve returns the owner's contact for ref, creating it when it does not exist.
// The directory is always consulted so that a contact who registered since the
// last lookup is picked up.
func (r *Resolver) Resolve(ctx context.Context, ownerUserID string, ref domain.ContactRef) (*Resolved, error) {
	ref = ref.Normalize()
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	entry, err := r.directory.Resolve(ctx, ref)
	if err != nil {
		return nil, domain.External("contact directory", err)
	}

	existing, err := r.store.FindContact(ctx, ownerUserID, ref)
	switch {
	case err == nil:
		if entry.IsRegistered && existing.UserID != entry.UserID {
			if existing, err = r.refresh(ctx, existing, entry); err != nil {
				return nil, err
			}
		}
		return &Resolved{Contact: existing, Entry: entry}, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("find contact: %w", err)
	}

	now := r.now()
	c := &domain.Contact{
		ID:           ulid.Make().String(),
		OwnerUserID:  ownerUserID,
		Method:       ref.Method,
		Value:        ref.Value,
		DisplayName:  entry.DisplayName,
		UserID:       entry.UserID,
		IsRegistered: entry.IsRegistered,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if c.DisplayName == "" {
		c.DisplayName = domain.DefaultDisplayName(ref)
	}

	err = r.store.CreateContact(ctx, c)
	if errors.Is(err, store.ErrDuplicate) {
		// Lost a create race; the winner's row is the contact.
		existing, err := r.store.FindContact(ctx, ownerUserID, ref)
		if err != nil {
			return nil, fmt.Errorf("find contact after race: %w", err)
		}
		return &Resolved{Contact: existing, Entry: entry}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create contact: %w", err)
	}

	r.logger.Debug("contact created", "contact_id", c.ID, "owner_user_id", ownerUserID, "registered", c.IsRegistered)
	return &Resolved{Contact: c, Entry: entry}, nil
}

// refresh stores the directory's registration on c. A concurrent write to the
// same contact is reloaded and the registration applied on top of it.
func (r *Resolver) refresh(ctx context.Context, c *domain.Contact, entry Entry) (*domain.Contact, error) {
	for attempt := 0; attempt < 3; attempt++ {
		if c.IsRegistered && c.UserID == entry.UserID {
			return c, nil
		}
		c.UserID = entry.UserID
		c.IsRegistered = true
		if entry.DisplayName != "" {
			c.DisplayName = entry.DisplayName
		}
		c.UpdatedAt = r.now()
		err := r.store.UpdateContact(ctx, c)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, fmt.Errorf("update contact: %w", err)
		}
		if c, err = r.store.GetContact(ctx, c.ID); err != nil {
			return nil, fmt.Errorf("reload contact: %w", err)
		}
	}
	return nil, fmt.Errorf("update contact: %w", store.ErrVersionConflict)
}

// RecordTransaction bumps the contact's activity counters. Failures are logged
// and swallowed since the counters are informational.
func (r *Resolver) RecordTransaction(ctx context.Context, contactID string) {
	for attempt := 0; attempt < 3; attempt++ {
		c, err := r.store.GetContact(ctx, contactID)
		if err != nil {
			r.logger.Warn("load contact for activity", "contact_id", contactID, "error", err)
			return
		}
		c.Touch(r.now())
		err = r.store.UpdateContact(ctx, c)
		if err == nil {
			return
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			r.logger.Warn("record contact activity", "contact_id", contactID, "error", err)
			return
		}
	}
}

// List returns the owner's contacts.
func (r *Resolver) List(ctx context.Context, ownerUserID string, favoritesOnly bool) ([]*domain.Contact, error) {
	return r.store.ListContacts(ctx, ownerUserID, favoritesOnly)
}

// SetFavorite marks or unmarks a contact. Contacts owned by someone else are
// reported as not found.
func (r *Resolver) SetFavorite(ctx context.Context, ownerUserID, contactID string, favorite bool) (*domain.Contact, error) {
	for attempt := 0; attempt < 3; attempt++ {
		c, err := r.store.GetContact(ctx, contactID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.NotFound("contact")
		}
		if err != nil {
			return nil, fmt.Errorf("get contact: %w", err)
		}
		if c.OwnerUserID != ownerUserID {
			return nil, domain.NotFound("contact")
		}
		if c.IsFavorite == favorite {
			return c, nil
		}
		c.IsFavorite = favorite
		c.UpdatedAt = r.now()
		err = r.store.UpdateContact(ctx, c)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, fmt.Errorf("update contact: %w", err)
		}
	}
	return nil, domain.BusinessRulef("contact is being modified concurrently, retry")
}
