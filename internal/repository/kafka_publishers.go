package repository

import (
	"context"

	"FinWindow/internal/domain/models"
	domrepo "FinWindow/internal/domain/repository"
)

// MessageProducer is the part of pkg/kafka.Producer the publishers need.
type MessageProducer interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
}

// KafkaWindowPublisher emits WindowEvent JSON keyed by session id, so one session's
// events stay ordered on a partition.
type KafkaWindowPublisher struct {
	producer MessageProducer
	topic    string
}

func NewKafkaWindowPublisher(p MessageProducer, topic string) *KafkaWindowPublisher {
	return &KafkaWindowPublisher{producer: p, topic: topic}
}

func (p *KafkaWindowPublisher) PublishWindowChanged(ctx context.Context, evt models.WindowEvent) error {
	return p.producer.Publish(ctx, p.topic, []byte(evt.SessionID), evt)
}

// KafkaLogPublisher ships aggregated error logs from the logger collector.
type KafkaLogPublisher struct {
	producer MessageProducer
}

func NewKafkaLogPublisher(p MessageProducer) *KafkaLogPublisher {
	return &KafkaLogPublisher{producer: p}
}

func (p *KafkaLogPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.producer.Publish(ctx, topic, nil, payload)
}

var _ domrepo.WindowEventPublisher = (*KafkaWindowPublisher)(nil)
