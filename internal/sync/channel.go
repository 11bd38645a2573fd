package sync

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/trip-sync/internal/models"
)

// TripSink is what the channel needs from the trip store.
type TripSink interface {
	ApplyRemote(t *models.Trip) bool
	ApplyRemoteMessage(m *models.Message) bool
	MarkMessageDelivered(ctx context.Context, id string) error
	ActorID() string
	Role() models.Role
}

// Channel subscribes to the backend's change feed and applies the
// events that belong to this actor under version arbitration. Everything
// else is filtered out before it reaches the store.
type Channel struct {
	sink          TripSink
	log           *slog.Logger
	recencyWindow time.Duration

	// OnOpenRequest is invoked for insert events of new unbound
	// requests; only fulfillers receive these.
	OnOpenRequest func(t *models.Trip)

	trips    *kafka.Reader
	messages *kafka.Reader
}

type Config struct {
	Brokers       []string
	TripTopic     string
	MessageTopic  string
	GroupID       string
	RecencyWindow time.Duration
}

func NewChannel(cfg Config, sink TripSink, log *slog.Logger) *Channel {
	mk := func(topic string) *kafka.Reader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers: cfg.Brokers,
			Topic:   topic,
			GroupID: cfg.GroupID,
		})
	}
	window := cfg.RecencyWindow
	if window <= 0 {
		window = 20 * time.Minute
	}
	return &Channel{
		sink:          sink,
		log:           log,
		recencyWindow: window,
		trips:         mk(cfg.TripTopic),
		messages:      mk(cfg.MessageTopic),
	}
}

// Run consumes both topics until the context is cancelled.
func (c *Channel) Run(ctx context.Context) {
	go c.consume(ctx, c.trips)
	c.consume(ctx, c.messages)
}

func (c *Channel) Close() error {
	_ = c.trips.Close()
	return c.messages.Close()
}

func (c *Channel) consume(ctx context.Context, r *kafka.Reader) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("change feed read error", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		var ev models.ChangeEvent
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			c.log.Warn("invalid change event", "error", err)
			continue
		}
		c.Handle(ctx, ev)
	}
}

// Handle routes one change-feed event through the role and ownership
// filters and into the store's version-gated merge.
func (c *Channel) Handle(ctx context.Context, ev models.ChangeEvent) {
	switch ev.Table {
	case models.ChangeTableTrips:
		if ev.Trip != nil {
			c.handleTrip(ev)
		}
	case models.ChangeTableMessages:
		if ev.Message != nil {
			c.handleMessage(ctx, ev)
		}
	}
}

func (c *Channel) handleTrip(ev models.ChangeEvent) {
	t := ev.Trip
	actor := c.sink.ActorID()

	switch c.sink.Role() {
	case models.RoleRequester:
		// requesters only hear about their own trip
		if t.RequesterID != actor {
			return
		}
		c.sink.ApplyRemote(t)

	case models.RoleFulfiller:
		if t.FulfillerID == actor {
			c.sink.ApplyRemote(t)
			return
		}
		// new unbound requests surface on the feed, bounded by recency
		if ev.Kind == models.ChangeInsert &&
			t.Status == models.StatusRequesting &&
			t.FulfillerID == "" &&
			time.Since(t.CreatedAt) <= c.recencyWindow &&
			c.OnOpenRequest != nil {
			c.OnOpenRequest(t)
		}
	}
}

func (c *Channel) handleMessage(ctx context.Context, ev models.ChangeEvent) {
	m := ev.Message
	if !c.sink.ApplyRemoteMessage(m) {
		return
	}
	// ack receipt of counterparty inserts so the sender sees delivery
	if ev.Kind == models.ChangeInsert && m.SenderID != c.sink.ActorID() {
		if err := c.sink.MarkMessageDelivered(ctx, m.ID); err != nil {
			c.log.Warn("delivery ack failed", "message_id", m.ID, "error", err)
		}
	}
}
