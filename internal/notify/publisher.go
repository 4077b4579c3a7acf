package notify

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"

	"crm/internal/ledger"
	"crm/internal/logger"
)

// Options configures a Publisher.
type Options struct {
	// TopicPrefix is prepended to the event type: "<prefix>.credit-update".
	TopicPrefix string

	// Buffer bounds the number of queued events. Events emitted while the
	// buffer is full are dropped.
	Buffer int
}

func (o Options) withDefaults() Options {
	if o.TopicPrefix == "" {
		o.TopicPrefix = "crm"
	}
	if o.Buffer < 1 {
		o.Buffer = 256
	}
	return o
}

// Publisher delivers events to a watermill publisher from a background
// goroutine.
type Publisher struct {
	pub    message.Publisher
	prefix string
	log    zerolog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	done   chan struct{}

	dropped atomic.Int64
}

// NewPublisher starts a Publisher over pub. Close stops it and closes pub.
func NewPublisher(pub message.Publisher, opts Options) *Publisher {
	opts = opts.withDefaults()
	p := &Publisher{
		pub:    pub,
		prefix: opts.TopicPrefix,
		log:    logger.WithComponent("notifier"),
		queue:  make(chan Event, opts.Buffer),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

// NewChannelPublisher publishes to an in-process watermill channel. The
// returned subscriber receives every event emitted through the Publisher.
func NewChannelPublisher(opts Options) (*Publisher, message.Subscriber) {
	opts = opts.withDefaults()
	ch := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: int64(opts.Buffer)},
		logger.NewWatermillAdapter(logger.WithComponent("notifier-channel")),
	)
	return NewPublisher(ch, opts), ch
}

// NewKafkaPublisher publishes to Kafka through a sarama sync producer.
func NewKafkaPublisher(brokers []string, opts Options) (*Publisher, error) {
	saramaCfg := kafka.DefaultSaramaSyncPublisherConfig()
	saramaCfg.ClientID = "crm-notifier"
	saramaCfg.Producer.RequiredAcks = sarama.WaitForLocal
	saramaCfg.Producer.Retry.Max = 3

	pub, err := kafka.NewPublisher(
		kafka.PublisherConfig{
			Brokers:               brokers,
			Marshaler:             kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: saramaCfg,
		},
		logger.NewWatermillAdapter(logger.WithComponent("notifier-kafka")),
	)
	if err != nil {
		return nil, err
	}
	return NewPublisher(pub, opts), nil
}

// Topic returns the topic an event type is published on.
func (p *Publisher) Topic(event EventType) string {
	return Topic(p.prefix, event)
}

// Topic joins a prefix and an event type.
func Topic(prefix string, event EventType) string {
	return prefix + "." + string(event)
}

// Emit queues the event and returns immediately.
func (p *Publisher) Emit(ctx context.Context, event EventType, payload any) {
	ev := Event{
		ID:         watermill.NewUUID(),
		Type:       event,
		Actor:      ledger.ActorFrom(ctx),
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.drop(ev, "publisher closed")
		return
	}

	select {
	case p.queue <- ev:
	default:
		p.drop(ev, "buffer full")
	}
}

// Dropped reports how many events were discarded.
func (p *Publisher) Dropped() int64 {
	return p.dropped.Load()
}

// Close delivers queued events, then closes the underlying publisher.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done
	return p.pub.Close()
}

func (p *Publisher) run() {
	defer close(p.done)
	for ev := range p.queue {
		p.publish(ev)
	}
}

func (p *Publisher) publish(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		p.log.Error().Err(err).Str("event_id", ev.ID).Str("type", string(ev.Type)).Msg("Failed to encode event")
		return
	}

	msg := message.NewMessage(ev.ID, data)
	msg.Metadata.Set("event_type", string(ev.Type))
	msg.Metadata.Set("actor", ev.Actor)

	topic := p.Topic(ev.Type)
	if err := p.pub.Publish(topic, msg); err != nil {
		p.log.Error().Err(err).Str("topic", topic).Str("event_id", ev.ID).Msg("Failed to publish event")
		return
	}
	p.log.Debug().Str("topic", topic).Str("event_id", ev.ID).Msg("Event published")
}

func (p *Publisher) drop(ev Event, reason string) {
	p.dropped.Add(1)
	p.log.Warn().
		Str("type", string(ev.Type)).
		Str("event_id", ev.ID).
		Str("reason", reason).
		Msg("Dropping change event")
}

// LogEvents consumes both event topics from sub and logs each event until
// ctx is done or the subscriber closes.
func LogEvents(ctx context.Context, sub message.Subscriber, prefix string, log zerolog.Logger) error {
	for _, event := range []EventType{CreditUpdate, StockUpdate} {
		messages, err := sub.Subscribe(ctx, Topic(prefix, event))
		if err != nil {
			return err
		}
		go func(messages <-chan *message.Message) {
			for msg := range messages {
				log.Info().
					Str("event_id", msg.UUID).
					Str("type", msg.Metadata.Get("event_type")).
					Str("actor", msg.Metadata.Get("actor")).
					RawJSON("event", msg.Payload).
					Msg("Change event")
				msg.Ack()
			}
		}(messages)
	}
	return nil
}
