package repository

import (
	"context"
	"fmt"

	"DigitPilot/internal/domain/models"
	"DigitPilot/internal/domain/repository"
	pkgkafka "DigitPilot/pkg/kafka"
)

// KafkaPublisher writes engine events and raw ticks to their topics. Events
// are keyed by session so one session's history stays ordered; ticks are
// keyed by market for the same reason.
type KafkaPublisher struct {
	producer    *pkgkafka.Producer
	ticksTopic  string
	eventsTopic string
}

var _ repository.EventPublisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher wraps an established producer. The publisher owns the
// producer and closes it.
func NewKafkaPublisher(producer *pkgkafka.Producer, ticksTopic, eventsTopic string) *KafkaPublisher {
	return &KafkaPublisher{
		producer:    producer,
		ticksTopic:  ticksTopic,
		eventsTopic: eventsTopic,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev *models.EngineEvent) error {
	key := ev.SessionID
	if key == "" {
		key = ev.Kind
	}
	if err := p.producer.Publish(ctx, p.eventsTopic, []byte(key), ev); err != nil {
		return fmt.Errorf("publish event %s: %w", ev.Kind, err)
	}
	return nil
}

// PublishTicks batches live ticks onto the ticks topic for archival.
func (p *KafkaPublisher) PublishTicks(ctx context.Context, ticks []*models.Tick) error {
	if len(ticks) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, 0, len(ticks))
	for _, t := range ticks {
		msgs = append(msgs, pkgkafka.Message{Key: []byte(t.Market), Value: t})
	}
	if err := p.producer.PublishBatch(ctx, p.ticksTopic, msgs); err != nil {
		return fmt.Errorf("publish %d ticks: %w", len(msgs), err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
