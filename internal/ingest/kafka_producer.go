package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/trip-sync/internal/models"
)

// Producer publishes change-feed envelopes and device location samples
// to Kafka. Change events are routed by table to their own topic so the
// sync channel can subscribe selectively.
type Producer struct {
	trips     *kafka.Writer
	messages  *kafka.Writer
	locations *kafka.Writer
}

func NewProducer(brokers []string, tripTopic, messageTopic, locationTopic string) *Producer {
	mk := func(topic string) *kafka.Writer {
		return kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	}
	return &Producer{trips: mk(tripTopic), messages: mk(messageTopic), locations: mk(locationTopic)}
}

func (p *Producer) PublishChange(ctx context.Context, ev models.ChangeEvent) error {
	w := p.trips
	key := ""
	if ev.Table == models.ChangeTableMessages {
		w = p.messages
		if ev.Message != nil {
			key = ev.Message.TripID
		}
	} else if ev.Trip != nil {
		key = ev.Trip.ID
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return w.WriteMessages(wctx, kafka.Message{Key: []byte(key), Value: b})
}

func (p *Producer) PublishLocation(ctx context.Context, s models.LocationSample) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.locations.WriteMessages(wctx, kafka.Message{Key: []byte(s.DriverID), Value: b})
}

func (p *Producer) Close() error {
	for _, w := range []*kafka.Writer{p.trips, p.messages, p.locations} {
		if w != nil {
			_ = w.Close()
		}
	}
	return nil
}
