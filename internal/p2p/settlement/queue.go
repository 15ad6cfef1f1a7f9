package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/errgroup"

	natsx "p2pplatform/internal/common/nats"
)

// ErrQueueFull is returned when the in-process queue has no room. The sweeper
// picks the transaction up later.
var ErrQueueFull = errors.New("settlement queue is full")

// MemoryQueue is an in-process queue for development and tests. Ids already
// waiting in the queue are not added twice.
type MemoryQueue struct {
	ch         chan string
	errorDelay time.Duration
	logger     *slog.Logger

	mu     sync.Mutex
	queued map[string]bool
	closed atomic.Bool
}

// NewMemoryQueue creates a queue holding up to size ids.
func NewMemoryQueue(size int, logger *slog.Logger) *MemoryQueue {
	if size < 1 {
		size = 1024
	}
	return &MemoryQueue{
		ch:         make(chan string, size),
		errorDelay: time.Second,
		logger:     logger,
		queued:     make(map[string]bool),
	}
}

// Enqueue implements p2p.Queue. It never blocks.
func (q *MemoryQueue) Enqueue(_ context.Context, txID string) error {
	if q.closed.Load() {
		return errors.New("settlement queue is closed")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.queued[txID] {
		return nil
	}
	select {
	case q.ch <- txID:
		q.queued[txID] = true
		return nil
	default:
		return ErrQueueFull
	}
}

// Len is the number of ids waiting.
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

// Run implements Source. Ids that ask for a retry are re-enqueued after the
// delay; failed ids are retried after a short pause.
func (q *MemoryQueue) Run(ctx context.Context, workers int, handle Handler) error {
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case id := <-q.ch:
					q.mu.Lock()
					delete(q.queued, id)
					q.mu.Unlock()

					delay, err := handle(ctx, id)
					if err != nil {
						if ctx.Err() != nil {
							return
						}
						q.logger.Warn("settlement failed, will retry", "transaction_id", id, "error", err)
						delay = q.errorDelay
					}
					if delay > 0 {
						q.requeueAfter(id, delay)
					}
				}
			}
		}()
	}
	<-ctx.Done()
	q.closed.Store(true)
	wg.Wait()
	return nil
}

func (q *MemoryQueue) requeueAfter(id string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		if q.closed.Load() {
			return
		}
		if err := q.Enqueue(context.Background(), id); err != nil {
			q.logger.Warn("requeue settlement", "transaction_id", id, "error", err)
		}
	})
}

// JetStream settlement stream layout.
const (
	StreamName   = "P2P_SETTLEMENT"
	Subject      = "p2p.settlement.pending"
	ConsumerName = "p2p-settlement-worker"
)

var errPendingRetry = errors.New("settlement pending retry")

// JetStreamQueue is the durable queue: a work-queue stream whose messages are
// transaction ids. Publishing uses the id as the message id so repeated
// enqueues inside the dedupe window collapse.
type JetStreamQueue struct {
	client    *natsx.Client
	publisher *natsx.Publisher
	consumer  jetstream.Consumer
	logger    *slog.Logger
}

// NewJetStreamQueue ensures the stream and its durable consumer exist.
func NewJetStreamQueue(ctx context.Context, client *natsx.Client, maxDeliver int, logger *slog.Logger) (*JetStreamQueue, error) {
	sc := natsx.WorkQueueStreamConfig(StreamName, []string{Subject})
	sc.Description = "P2P transactions awaiting settlement"
	sc.Duplicates = 30 * time.Second
	if _, err := client.EnsureStream(ctx, sc); err != nil {
		return nil, err
	}

	cc := natsx.DefaultConsumerConfig(ConsumerName, StreamName, Subject)
	if maxDeliver > 0 {
		cc.MaxDeliver = maxDeliver
	}
	consumer, err := client.EnsureConsumer(ctx, cc)
	if err != nil {
		return nil, err
	}

	return &JetStreamQueue{
		client:    client,
		publisher: natsx.NewPublisher(client, logger),
		consumer:  consumer,
		logger:    logger,
	}, nil
}

// Enqueue implements p2p.Queue.
func (q *JetStreamQueue) Enqueue(ctx context.Context, txID string) error {
	return q.publisher.PublishMsg(ctx, Subject, []byte(txID), txID)
}

// Run implements Source with one pull iterator per worker.
func (q *JetStreamQueue) Run(ctx context.Context, workers int, handle Handler) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		sub := natsx.NewSubscriber(q.client, q.consumer, q.logger)
		g.Go(func() error {
			return sub.Consume(gctx, func(ctx context.Context, data []byte) error {
				id := string(data)
				if id == "" {
					return fmt.Errorf("%w: empty transaction id", natsx.ErrPermanent)
				}
				delay, err := handle(ctx, id)
				if err != nil {
					return err
				}
				if delay > 0 {
					return &natsx.RetryAfter{Delay: delay, Err: errPendingRetry}
				}
				return nil
			})
		})
	}
	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}
