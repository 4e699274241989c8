package hive

import "sync"

// inbox buffers messages for one connected agent until the agent drains
// them. Unbounded; the heartbeat ticker and broadcasts are the only
// steady producers.
type inbox struct {
	mu      sync.Mutex
	pending []Message
}

func newInbox() *inbox {
	return &inbox{}
}

func (q *inbox) Enqueue(msg Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, msg)
}

// Drain removes and returns up to max messages in arrival order. max <= 0
// drains everything.
func (q *inbox) Drain(max int) []Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.pending)
	if max > 0 && max < n {
		n = max
	}
	if n == 0 {
		return nil
	}
	out := make([]Message, n)
	copy(out, q.pending[:n])
	q.pending = q.pending[n:]
	return out
}

func (q *inbox) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
