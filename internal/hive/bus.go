// Package hive assembles the coordination engine: the message bus, the
// workflow coordinator, the store recorder and the IPC surface. All state
// lives in explicit instances wired together by the daemon.
package hive

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/vtkrishna/kypseli/internal/natsbus"
	"github.com/vtkrishna/kypseli/internal/registry"
	"github.com/vtkrishna/kypseli/internal/store"
)

type MessageType string

const (
	TypeTask         MessageType = "task"
	TypeResult       MessageType = "result"
	TypeCoordination MessageType = "coordination"
	TypeHeartbeat    MessageType = "heartbeat"
	TypeAlert        MessageType = "alert"
)

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// BroadcastRecipient addresses every connected agent except the sender.
const BroadcastRecipient = "broadcast"

// Message is one hive communication. Messages are immutable once stamped.
type Message struct {
	ID        string      `json:"id"`
	From      string      `json:"from"`
	To        string      `json:"to"`
	Type      MessageType `json:"type"`
	Content   string      `json:"content"`
	Priority  Priority    `json:"priority"`
	Timestamp time.Time   `json:"timestamp"`
}

// Bus carries hive messaging: broadcast and point-to-point messages into
// per-agent inboxes, mirrored onto NATS subjects, plus lifecycle events on
// the hive.events.* namespace. A nil client or store disables the
// corresponding side effect, nothing else changes.
type Bus struct {
	client *natsbus.Client
	store  *store.Store

	mu     sync.RWMutex
	queues map[string]*inbox
	log    []Message
}

func NewBus(client *natsbus.Client, st *store.Store) *Bus {
	return &Bus{
		client: client,
		store:  st,
		queues: make(map[string]*inbox),
	}
}

// Connect opens an inbox for the agent. Connecting an already connected
// agent keeps the existing queue and its pending messages.
func (b *Bus) Connect(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.queues[agentID]; !ok {
		b.queues[agentID] = newInbox()
	}
}

// Disconnect drops the agent's inbox and any pending messages.
func (b *Bus) Disconnect(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.queues, agentID)
}

// Connected reports whether the agent currently has an inbox.
func (b *Bus) Connected(agentID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.queues[agentID]
	return ok
}

// Broadcast appends the message to the hive log and enqueues it for every
// connected agent except the sender. Returns the stamped message.
func (b *Bus) Broadcast(msg Message) Message {
	msg = stamp(msg)
	msg.To = BroadcastRecipient

	b.mu.Lock()
	b.log = append(b.log, msg)
	recipients := make([]string, 0, len(b.queues))
	for id, q := range b.queues {
		if id == msg.From {
			continue
		}
		q.Enqueue(msg)
		recipients = append(recipients, id)
	}
	b.mu.Unlock()

	b.persist(msg)
	b.PublishEvent("hive-update", map[string]any{
		"type":    "message",
		"from":    msg.From,
		"to":      msg.To,
		"content": msg.Content,
	})
	for _, id := range recipients {
		b.mirror(id, msg)
	}
	return msg
}

// Send delivers to exactly one agent's inbox. Messages to unconnected
// agents still reach the log and the NATS mirror, just no queue.
func (b *Bus) Send(agentID string, msg Message) Message {
	msg = stamp(msg)
	msg.To = agentID

	b.mu.Lock()
	b.log = append(b.log, msg)
	if q, ok := b.queues[agentID]; ok {
		q.Enqueue(msg)
	}
	b.mu.Unlock()

	b.persist(msg)
	b.mirror(agentID, msg)
	return msg
}

// Inbox drains up to max pending messages for the agent, oldest first.
// max <= 0 drains everything.
func (b *Bus) Inbox(agentID string, max int) []Message {
	b.mu.RLock()
	q, ok := b.queues[agentID]
	b.mu.RUnlock()
	if !ok {
		return nil
	}
	return q.Drain(max)
}

// Heartbeat sends one low-priority heartbeat from the hive to every
// listed agent. The content carries the agent's current status.
func (b *Bus) Heartbeat(agents []*registry.Agent) {
	for _, a := range agents {
		b.Send(a.ID, Message{
			From:     "hive",
			Type:     TypeHeartbeat,
			Content:  string(a.Status),
			Priority: PriorityLow,
		})
	}
}

// Log returns a snapshot of the full in-memory message log.
func (b *Bus) Log() []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Message, len(b.log))
	copy(out, b.log)
	return out
}

// PublishEvent emits a lifecycle event on hive.events.<channel>, stamping
// a timestamp when the payload has none. Satisfies topology.Publisher.
func (b *Bus) PublishEvent(channel string, payload map[string]any) {
	if b.client == nil {
		return
	}
	event := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		event[k] = v
	}
	if _, ok := event["timestamp"]; !ok {
		event["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	}
	if err := b.client.PublishJSON(natsbus.TopicEvent(channel), event); err != nil {
		slog.Warn("event publish failed", "channel", channel, "error", err)
	}
}

// Subscription is one active event-channel subscription.
type Subscription struct {
	channel string
	sub     *nats.Subscription
}

func (s *Subscription) Unsubscribe() error {
	if err := s.sub.Unsubscribe(); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", s.channel, err)
	}
	return nil
}

// SubscribeEvents delivers every event published on the channel, in
// publish order, until Unsubscribe.
func (b *Bus) SubscribeEvents(channel string, handler func(payload map[string]any)) (*Subscription, error) {
	if b.client == nil {
		return nil, fmt.Errorf("subscribe %s: bus has no nats client", channel)
	}
	sub, err := b.client.Subscribe(natsbus.TopicEvent(channel), func(msg *nats.Msg) {
		var payload map[string]any
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			slog.Warn("bad event payload", "channel", channel, "error", err)
			return
		}
		handler(payload)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	return &Subscription{channel: channel, sub: sub}, nil
}

func stamp(msg Message) Message {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if msg.Priority == "" {
		msg.Priority = PriorityMedium
	}
	return msg
}

func (b *Bus) persist(msg Message) {
	if b.store == nil {
		return
	}
	err := b.store.SaveMessage(&store.Message{
		ID:        msg.ID,
		Sender:    msg.From,
		Recipient: msg.To,
		Type:      string(msg.Type),
		Priority:  string(msg.Priority),
		Content:   msg.Content,
	})
	if err != nil {
		slog.Warn("message log write failed", "id", msg.ID, "error", err)
	}
}

func (b *Bus) mirror(agentID string, msg Message) {
	if b.client == nil {
		return
	}
	if err := b.client.PublishJSON(natsbus.TopicAgentInbox(agentID), msg); err != nil {
		slog.Warn("inbox mirror failed", "agent", agentID, "error", err)
	}
}
