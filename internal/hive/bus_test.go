package hive

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/vtkrishna/kypseli/internal/config"
	"github.com/vtkrishna/kypseli/internal/natsbus"
	"github.com/vtkrishna/kypseli/internal/registry"
	"github.com/vtkrishna/kypseli/internal/store"
)

func newNatsClient(t *testing.T) *natsbus.Client {
	t.Helper()
	srv, err := natsbus.New(config.NATSConfig{
		Port:    0, // Random port
		DataDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Close)

	client, err := natsbus.NewClient(srv)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(config.StoreConfig{Path: t.TempDir() + "/kypseli.db"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestBroadcastSkipsSender(t *testing.T) {
	bus := NewBus(nil, nil)
	bus.Connect("a1")
	bus.Connect("a2")
	bus.Connect("a3")

	sent := bus.Broadcast(Message{From: "a1", Type: TypeCoordination, Content: "regroup"})

	if sent.ID == "" || sent.Timestamp.IsZero() {
		t.Fatalf("message not stamped: %+v", sent)
	}
	if sent.To != BroadcastRecipient {
		t.Errorf("to = %q, want %q", sent.To, BroadcastRecipient)
	}
	if sent.Priority != PriorityMedium {
		t.Errorf("priority = %q, want the medium default", sent.Priority)
	}

	if got := bus.Inbox("a1", 0); len(got) != 0 {
		t.Errorf("sender inbox = %d messages, want 0", len(got))
	}
	for _, id := range []string{"a2", "a3"} {
		got := bus.Inbox(id, 0)
		if len(got) != 1 || got[0].Content != "regroup" {
			t.Errorf("inbox %s = %+v, want the broadcast", id, got)
		}
	}
}

func TestSendReachesOneAgent(t *testing.T) {
	bus := NewBus(nil, nil)
	bus.Connect("a1")
	bus.Connect("a2")

	bus.Send("a1", Message{From: "hive", Type: TypeTask, Content: "review"})

	if got := bus.Inbox("a1", 0); len(got) != 1 {
		t.Fatalf("a1 inbox = %d messages, want 1", len(got))
	}
	if got := bus.Inbox("a2", 0); len(got) != 0 {
		t.Errorf("a2 inbox = %d messages, want 0", len(got))
	}

	// Unconnected recipients still land in the log.
	bus.Send("ghost", Message{From: "hive", Type: TypeTask, Content: "lost"})
	if got := bus.Inbox("ghost", 0); got != nil {
		t.Errorf("ghost inbox = %+v, want nil", got)
	}
	if n := len(bus.Log()); n != 2 {
		t.Errorf("log = %d entries, want 2", n)
	}
}

func TestInboxDrainsInOrder(t *testing.T) {
	bus := NewBus(nil, nil)
	bus.Connect("a1")

	for _, content := range []string{"first", "second", "third"} {
		bus.Send("a1", Message{From: "hive", Type: TypeTask, Content: content})
	}

	got := bus.Inbox("a1", 2)
	if len(got) != 2 || got[0].Content != "first" || got[1].Content != "second" {
		t.Fatalf("first drain = %+v", got)
	}
	got = bus.Inbox("a1", 0)
	if len(got) != 1 || got[0].Content != "third" {
		t.Fatalf("second drain = %+v", got)
	}
	if got := bus.Inbox("a1", 0); len(got) != 0 {
		t.Errorf("drained inbox = %+v, want empty", got)
	}
}

func TestDisconnectDropsPending(t *testing.T) {
	bus := NewBus(nil, nil)
	bus.Connect("a1")
	bus.Send("a1", Message{From: "hive", Type: TypeTask, Content: "x"})

	bus.Disconnect("a1")

	if bus.Connected("a1") {
		t.Error("agent still connected after disconnect")
	}
	if got := bus.Inbox("a1", 0); got != nil {
		t.Errorf("inbox after disconnect = %+v, want nil", got)
	}
}

func TestHeartbeatReachesEveryAgent(t *testing.T) {
	reg := registry.New()
	a1 := reg.Spawn(registry.Spec{Type: "coder", Role: registry.RoleWorker})
	a2 := reg.Spawn(registry.Spec{Type: "reviewer", Role: registry.RoleWorker})

	bus := NewBus(nil, nil)
	bus.Connect(a1.ID)
	bus.Connect(a2.ID)

	bus.Heartbeat(reg.HeartbeatAll())

	for _, id := range []string{a1.ID, a2.ID} {
		got := bus.Inbox(id, 0)
		if len(got) != 1 {
			t.Fatalf("inbox %s = %d messages, want 1", id, len(got))
		}
		hb := got[0]
		if hb.From != "hive" || hb.Type != TypeHeartbeat || hb.Priority != PriorityLow {
			t.Errorf("heartbeat = %+v", hb)
		}
	}
}

func TestMessageLogPersists(t *testing.T) {
	st := newTestStore(t)
	bus := NewBus(nil, st)
	bus.Connect("a1")
	bus.Connect("a2")

	bus.Send("a1", Message{From: "hive", Type: TypeTask, Content: "direct"})
	bus.Broadcast(Message{From: "a1", Type: TypeAlert, Content: "wide", Priority: PriorityHigh})

	messages, err := st.RecentMessages(10)
	if err != nil {
		t.Fatalf("recent messages: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("persisted = %d messages, want 2", len(messages))
	}

	inbox, err := st.MessagesFor("a2", 10)
	if err != nil {
		t.Fatalf("messages for a2: %v", err)
	}
	if len(inbox) != 1 || inbox[0].Type != string(TypeAlert) {
		t.Errorf("a2 history = %+v, want just the broadcast", inbox)
	}
}

func TestEventDeliveryAndUnsubscribe(t *testing.T) {
	client := newNatsClient(t)
	bus := NewBus(client, nil)

	var mu sync.Mutex
	var seen []string
	sub, err := bus.SubscribeEvents("stage-completed", func(payload map[string]any) {
		mu.Lock()
		defer mu.Unlock()
		stage, _ := payload["stage"].(string)
		seen = append(seen, stage)
		if _, ok := payload["timestamp"]; !ok {
			t.Error("event missing timestamp")
		}
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := client.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	for _, stage := range []string{"plan", "execute", "review"} {
		bus.PublishEvent("stage-completed", map[string]any{"stage": stage})
	}

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n == 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("received %d events, want 3", n)
		case <-time.After(10 * time.Millisecond):
		}
	}

	mu.Lock()
	if seen[0] != "plan" || seen[1] != "execute" || seen[2] != "review" {
		t.Errorf("delivery order = %v", seen)
	}
	mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	bus.PublishEvent("stage-completed", map[string]any{"stage": "late"})
	if err := client.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 {
		t.Errorf("events after unsubscribe = %v", seen)
	}
}

func TestBroadcastMirrorsToInboxSubject(t *testing.T) {
	client := newNatsClient(t)
	bus := NewBus(client, nil)
	bus.Connect("a1")
	bus.Connect("a2")

	received := make(chan Message, 1)
	_, err := client.Subscribe(natsbus.TopicAgentInbox("a2"), func(msg *nats.Msg) {
		var m Message
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			t.Errorf("decode mirror: %v", err)
			return
		}
		received <- m
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := client.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	bus.Broadcast(Message{From: "a1", Type: TypeCoordination, Content: "sync up"})

	select {
	case m := <-received:
		if m.Content != "sync up" || m.From != "a1" {
			t.Errorf("mirrored message = %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for the inbox mirror")
	}
}
