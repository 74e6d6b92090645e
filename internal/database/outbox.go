package database

import (
	"context"
	"time"

	"github.com/ksred/null-ledger/internal/database/schema"
	"github.com/ksred/null-ledger/internal/events"
)

// PendingEvents returns up to limit undelivered outbox events in sequence order.
func (s *Store) PendingEvents(ctx context.Context, limit int) ([]events.Envelope, error) {
	var rows []schema.LedgerEvent
	err := s.db.WithContext(ctx).
		Where("delivered = ?", false).
		Order("sequence ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return envelopes(rows), nil
}

// MarkDelivered flags the given sequences as delivered.
func (s *Store) MarkDelivered(ctx context.Context, sequences []uint64) error {
	if len(sequences) == 0 {
		return nil
	}
	now := s.nowFn().UTC()
	return s.db.WithContext(ctx).
		Model(&schema.LedgerEvent{}).
		Where("sequence IN ?", sequences).
		Updates(map[string]any{"delivered": true, "delivered_at": &now}).Error
}

// EventsSince returns committed events with a sequence greater than after,
// delivered or not. Indexers use it to backfill.
func (s *Store) EventsSince(ctx context.Context, after uint64, limit int) ([]events.Envelope, error) {
	var rows []schema.LedgerEvent
	err := s.db.WithContext(ctx).
		Where("sequence > ?", after).
		Order("sequence ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return envelopes(rows), nil
}

func envelopes(rows []schema.LedgerEvent) []events.Envelope {
	out := make([]events.Envelope, len(rows))
	for i, row := range rows {
		out[i] = events.Envelope{
			Sequence:   row.Sequence,
			Type:       row.Type,
			Payload:    row.Payload,
			OccurredAt: row.OccurredAt.In(time.UTC),
		}
	}
	return out
}
