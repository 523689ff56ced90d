package store

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"gorm.io/gorm"

	"github.com/nbarakat/ledger-service/internal/model"
)

// CreateOutboxEvent writes an event in the caller's transaction so it
// commits or rolls back together with the ledger mutation.
func (s *Store) CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error {
	return s.tx(ctx, tx).Create(evt).Error
}

// PollOutbox pulls unprocessed events, oldest first.
func (s *Store) PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	var evts []model.OutboxEvent
	err := s.db.WithContext(ctx).
		Where("processed = false").
		Order("created_at").
		Limit(limit).
		Find(&evts).Error
	return evts, err
}

// MarkOutboxProcessed sets the processed flag.
func (s *Store) MarkOutboxProcessed(ctx context.Context, id uint64) error {
	now := time.Now()
	return s.db.WithContext(ctx).Model(&model.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"processed": true, "processed_at": &now}).Error
}

// PublishEvent sends the event to Kafka, keyed by outbox id.
func (s *Store) PublishEvent(ctx context.Context, evt model.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(fmt.Sprintf("%d", evt.ID)),
		Value: []byte(evt.Payload),
		Time:  time.Now(),
	}
	return s.writer.WriteMessages(ctx, msg)
}
