// Package settlement runs the asynchronous half of a transfer: it takes
// transaction ids off a queue, asks the clearing network for a decision and
// hands the decision to the engine. A sweeper picks up whatever the queue lost.
package settlement

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"p2pplatform/internal/p2p"
	"p2pplatform/internal/p2p/domain"
)

// Clearing decides whether a transaction may settle. A returned error is
// treated as a transient failure and retried.
type Clearing interface {
	Clear(ctx context.Context, tx *domain.Transaction) (p2p.Decision, error)
}

// ClearingFunc adapts a function to Clearing.
type ClearingFunc func(ctx context.Context, tx *domain.Transaction) (p2p.Decision, error)

// Clear implements Clearing.
func (f ClearingFunc) Clear(ctx context.Context, tx *domain.Transaction) (p2p.Decision, error) {
	return f(ctx, tx)
}

// Fixed always returns the same outcome.
func Fixed(o p2p.Outcome, reason string) Clearing {
	return ClearingFunc(func(context.Context, *domain.Transaction) (p2p.Decision, error) {
		return p2p.Decision{Outcome: o, Reason: reason}, nil
	})
}

// RandomClearing approves a fixed share of transactions and rejects the rest.
// It stands in for a clearing network in development.
type RandomClearing struct {
	approveRate float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomClearing approves with probability approveRate. seed makes runs
// reproducible; zero picks a random seed.
func NewRandomClearing(approveRate float64, seed uint64) (*RandomClearing, error) {
	if approveRate < 0 || approveRate > 1 {
		return nil, fmt.Errorf("approve rate %v must be between 0 and 1", approveRate)
	}
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &RandomClearing{
		approveRate: approveRate,
		rng:         rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}, nil
}

// Clear implements Clearing.
func (c *RandomClearing) Clear(ctx context.Context, _ *domain.Transaction) (p2p.Decision, error) {
	if err := ctx.Err(); err != nil {
		return p2p.Decision{}, err
	}
	c.mu.Lock()
	roll := c.rng.Float64()
	c.mu.Unlock()
	if roll < c.approveRate {
		return p2p.Decision{Outcome: p2p.OutcomeApproved}, nil
	}
	return p2p.Decision{Outcome: p2p.OutcomeRejected, Reason: "declined by clearing network"}, nil
}
