package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ksred/null-ledger/internal/events"
	"github.com/ksred/null-ledger/internal/observability"
)

// Source is an outbox of committed ledger events.
type Source interface {
	PendingEvents(ctx context.Context, limit int) ([]events.Envelope, error)
	MarkDelivered(ctx context.Context, sequences []uint64) error
}

// Publisher delivers one event downstream.
type Publisher interface {
	Publish(ctx context.Context, env events.Envelope) error
}

// Processor drains the outbox into a publisher on a fixed interval. Delivery
// is at-least-once: a crash between publish and mark re-sends the batch, and
// consumers de-duplicate by sequence.
type Processor struct {
	source    Source
	publisher Publisher
	interval  time.Duration
	batchSize int
	metrics   *observability.LedgerMetrics
}

func NewProcessor(source Source, publisher Publisher, interval time.Duration, batchSize int) *Processor {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Processor{
		source:    source,
		publisher: publisher,
		interval:  interval,
		batchSize: batchSize,
	}
}

// SetMetrics enables relay counters.
func (p *Processor) SetMetrics(m *observability.LedgerMetrics) { p.metrics = m }

// Start runs the relay loop until ctx is cancelled.
func (p *Processor) Start(ctx context.Context) error {
	logger := log.With().Str("component", "event_relay").Logger()
	logger.Info().Dur("interval", p.interval).Msg("starting event relay")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down event relay")
			return nil
		case <-ticker.C:
			if _, err := p.ProcessPending(ctx); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msg("failed to relay pending events")
			}
		}
	}
}

// ProcessPending publishes pending events in sequence order until the outbox
// is empty or a publish fails. It returns how many events were delivered.
// Events after a failed one stay pending so order is preserved.
func (p *Processor) ProcessPending(ctx context.Context) (int, error) {
	delivered := 0
	for {
		batch, err := p.source.PendingEvents(ctx, p.batchSize)
		if err != nil {
			return delivered, fmt.Errorf("relay: load pending: %w", err)
		}
		if len(batch) == 0 {
			return delivered, nil
		}

		sent := make([]uint64, 0, len(batch))
		var publishErr error
		for _, env := range batch {
			if err := p.publisher.Publish(ctx, env); err != nil {
				publishErr = fmt.Errorf("relay: publish sequence %d: %w", env.Sequence, err)
				break
			}
			sent = append(sent, env.Sequence)
		}

		if err := p.source.MarkDelivered(ctx, sent); err != nil {
			return delivered, fmt.Errorf("relay: mark delivered: %w", err)
		}
		delivered += len(sent)
		p.metrics.Relayed("published", len(sent))

		if publishErr != nil {
			p.metrics.Relayed("failed", 1)
			return delivered, publishErr
		}
		if len(batch) < p.batchSize {
			return delivered, nil
		}
	}
}
