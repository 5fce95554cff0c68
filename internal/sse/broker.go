package sse

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Willytecheira/nexus-wa-core-sub000/internal/connector"
	"github.com/Willytecheira/nexus-wa-core-sub000/internal/model"
	redisclient "github.com/Willytecheira/nexus-wa-core-sub000/internal/redis"
	"github.com/Willytecheira/nexus-wa-core-sub000/internal/service"
)

const (
	HeartbeatInterval = 30 * time.Second

	publishTimeout = 2 * time.Second
)

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type Client struct {
	Topic  string
	Events chan Event
	Done   chan struct{}
}

// Broker fans session notifications out to SSE clients through Redis so
// every replica sees every event.
type Broker struct {
	redis  *redisclient.Client
	topics map[string]*topicClients
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
}

type topicClients struct {
	clients map[*Client]bool
	cancel  context.CancelFunc
}

func NewBroker(redisClient *redisclient.Client) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		redis:  redisClient,
		topics: make(map[string]*topicClients),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Subscribe registers a client for one session id, or for every session
// when topic is redisclient.AllSessionsTopic.
func (b *Broker) Subscribe(topic string) *Client {
	client := &Client{
		Topic:  topic,
		Events: make(chan Event, 100),
		Done:   make(chan struct{}),
	}

	b.mu.Lock()
	tc := b.topics[topic]
	if tc == nil {
		ctx, cancel := context.WithCancel(b.ctx)
		tc = &topicClients{clients: make(map[*Client]bool), cancel: cancel}
		b.topics[topic] = tc
		go b.subscribeToRedis(ctx, topic)
	}
	tc.clients[client] = true
	clientCount := len(tc.clients)
	b.mu.Unlock()

	log.Info().
		Str("topic", topic).
		Int("clientCount", clientCount).
		Msg("sse client subscribed")

	return client
}

func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	tc, ok := b.topics[client.Topic]
	if !ok || !tc.clients[client] {
		return
	}
	delete(tc.clients, client)
	close(client.Done)

	if len(tc.clients) == 0 {
		tc.cancel()
		delete(b.topics, client.Topic)
	}

	log.Info().
		Str("topic", client.Topic).
		Int("clientCount", len(tc.clients)).
		Msg("sse client unsubscribed")
}

// Publish sends event to the session's topic and to the all-sessions topic.
func (b *Broker) Publish(ctx context.Context, sessionID string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	pipe := b.redis.Pipeline()
	pipe.Publish(ctx, redisclient.EventsChannel(sessionID), data)
	pipe.Publish(ctx, redisclient.EventsChannel(redisclient.AllSessionsTopic), data)
	_, err = pipe.Exec(ctx)
	return err
}

// Notify publishes every session notification as a live event.
func (b *Broker) Notify(ctx context.Context, n service.Notification) {
	event, err := NewEvent(n)
	if err != nil {
		log.Error().Err(err).Str("sessionId", n.Session.ID).Msg("failed to encode live event")
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := b.Publish(pubCtx, n.Session.ID, event); err != nil {
		log.Warn().
			Err(err).
			Str("sessionId", n.Session.ID).
			Str("type", event.Type).
			Msg("failed to publish live event")
	}
}

type eventData struct {
	SessionID string                     `json:"sessionId"`
	Session   model.Session              `json:"session"`
	From      model.SessionState         `json:"from,omitempty"`
	To        model.SessionState         `json:"to,omitempty"`
	Inbound   *connector.InboundMessage  `json:"inbound,omitempty"`
	Outbound  *connector.OutboundMessage `json:"outbound,omitempty"`
	Reason    string                     `json:"reason,omitempty"`
}

// NewEvent converts a session notification into its live event form.
func NewEvent(n service.Notification) (Event, error) {
	data, err := json.Marshal(eventData{
		SessionID: n.Session.ID,
		Session:   n.Session,
		From:      n.From,
		To:        n.To,
		Inbound:   n.Inbound,
		Outbound:  n.Outbound,
		Reason:    n.Reason,
	})
	if err != nil {
		return Event{}, err
	}
	return Event{Type: n.Kind.String(), Data: data}, nil
}

func (b *Broker) subscribeToRedis(ctx context.Context, topic string) {
	channel := redisclient.EventsChannel(topic)
	pubsub := b.redis.Subscribe(ctx, channel)
	defer pubsub.Close()

	log.Debug().
		Str("topic", topic).
		Str("channel", channel).
		Msg("redis pubsub subscribed")

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal event")
				continue
			}

			b.broadcast(topic, event)
		}
	}
}

func (b *Broker) broadcast(topic string, event Event) {
	b.mu.RLock()
	var targets []*Client
	if tc := b.topics[topic]; tc != nil {
		targets = make([]*Client, 0, len(tc.clients))
		for client := range tc.clients {
			targets = append(targets, client)
		}
	}
	b.mu.RUnlock()

	for _, client := range targets {
		select {
		case client.Events <- event:
		default:
			log.Warn().
				Str("topic", topic).
				Msg("client event buffer full, dropping event")
		}
	}
}

func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, tc := range b.topics {
		for client := range tc.clients {
			close(client.Done)
		}
	}
	b.topics = make(map[string]*topicClients)
}

func (b *Broker) TotalClients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, tc := range b.topics {
		total += len(tc.clients)
	}
	return total
}
