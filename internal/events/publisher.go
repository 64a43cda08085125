// Package events implements the process-wide execution event publisher: a
// broadcast fan-out from one task's lifecycle to any number of streaming
// subscribers.
package events

import (
	"sync"
	"time"
)

// Event is one unit of progress published for a task. Type names follow the
// loop's state machine (e.g. "run.started", "tool.started", "gates.completed");
// Data carries type-specific fields and is left loose so every component can
// publish its own shape without a shared schema. ID is a per-task, monotonic
// sequence number used by SubscribeFrom to resume a stream after a
// reconnect.
type Event struct {
	ID        uint64         `json:"id"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// defaultQueueSize is the bounded per-subscriber queue depth. Once full,
// the oldest queued event is dropped to admit the new one, favoring a live
// stream over backpressure on the publisher.
const defaultQueueSize = 1000

// replayBufferSize bounds the per-task ring buffer SubscribeFrom replays
// from. A subscriber that reconnects after falling further behind than this
// misses the gap and resumes from the oldest event still buffered.
const replayBufferSize = 256

// Publisher fans events out to per-task subscribers. The zero value is not
// usable; construct with New. Safe for concurrent use.
type Publisher struct {
	queueSize int

	mu    sync.Mutex
	tasks map[string]*topic
}

// New creates a Publisher with the default bounded queue size.
func New() *Publisher {
	return &Publisher{queueSize: defaultQueueSize, tasks: make(map[string]*topic)}
}

// NewWithQueueSize creates a Publisher whose subscriber queues hold at most
// size events before the oldest is dropped.
func NewWithQueueSize(size int) *Publisher {
	if size <= 0 {
		size = defaultQueueSize
	}
	return &Publisher{queueSize: size, tasks: make(map[string]*topic)}
}

// Subscription is a single subscriber's view of a task's event stream.
type Subscription struct {
	Events <-chan Event

	pub    *Publisher
	taskID string
	id     uint64
}

// Close removes this subscription from its task. Safe to call more than
// once or after the task has already completed.
func (s *Subscription) Close() {
	if s == nil || s.pub == nil {
		return
	}
	s.pub.unsubscribe(s.taskID, s.id)
}

type topic struct {
	mu           sync.Mutex
	nextID       uint64
	subscribers  map[uint64]chan Event
	closed       bool
	nextEventID  uint64
	replayBuffer []Event
}

// Publish delivers event to every current subscriber of taskID, and records
// it in that task's replay ring buffer for a later SubscribeFrom. Publishing
// to a task with no subscribers still buffers the event (lazily creating the
// task) but otherwise is a no-op; a full subscriber queue drops its oldest
// event to make room rather than blocking the publisher.
func (p *Publisher) Publish(taskID string, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	p.mu.Lock()
	t, ok := p.tasks[taskID]
	if !ok {
		t = &topic{subscribers: make(map[uint64]chan Event)}
		p.tasks[taskID] = t
	}
	p.mu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	t.nextEventID++
	event.ID = t.nextEventID
	t.replayBuffer = append(t.replayBuffer, event)
	if len(t.replayBuffer) > replayBufferSize {
		t.replayBuffer = t.replayBuffer[len(t.replayBuffer)-replayBufferSize:]
	}

	for _, ch := range t.subscribers {
		deliverDropOldest(ch, event)
	}
}

func deliverDropOldest(ch chan Event, event Event) {
	select {
	case ch <- event:
		return
	default:
	}
	// Full: drop the oldest queued event, then retry once. Another
	// goroutine may race to drain concurrently; if so the channel already
	// has room and the send below still succeeds.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- event:
	default:
	}
}

// Subscribe registers a new subscriber for taskID and returns a Subscription
// whose Events channel yields events published after this call, until
// CompleteTask closes the task or the Subscription is closed. Subscribing to
// a task with no prior activity creates it lazily.
func (p *Publisher) Subscribe(taskID string) *Subscription {
	p.mu.Lock()
	t, ok := p.tasks[taskID]
	if !ok {
		t = &topic{subscribers: make(map[uint64]chan Event)}
		p.tasks[taskID] = t
	}
	p.mu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()

	ch := make(chan Event, p.queueSize)
	if t.closed {
		close(ch)
		return &Subscription{Events: ch, pub: p, taskID: taskID}
	}

	t.nextID++
	id := t.nextID
	t.subscribers[id] = ch

	return &Subscription{Events: ch, pub: p, taskID: taskID, id: id}
}

// SubscribeFrom registers a new subscriber for taskID like Subscribe, but
// first replays any buffered events with ID > afterID from the task's replay
// ring buffer before the subscription starts receiving live events. Pass
// afterID 0 to replay everything still buffered. A subscriber that fell
// further behind than the ring buffer holds silently misses the gap and
// resumes from the oldest event still available, rather than erroring.
func (p *Publisher) SubscribeFrom(taskID string, afterID uint64) *Subscription {
	p.mu.Lock()
	t, ok := p.tasks[taskID]
	if !ok {
		t = &topic{subscribers: make(map[uint64]chan Event)}
		p.tasks[taskID] = t
	}
	p.mu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()

	var replay []Event
	for _, evt := range t.replayBuffer {
		if evt.ID > afterID {
			replay = append(replay, evt)
		}
	}

	queueSize := p.queueSize
	if len(replay) > queueSize {
		queueSize = len(replay)
	}
	ch := make(chan Event, queueSize)
	for _, evt := range replay {
		ch <- evt
	}

	if t.closed {
		close(ch)
		return &Subscription{Events: ch, pub: p, taskID: taskID}
	}

	t.nextID++
	id := t.nextID
	t.subscribers[id] = ch

	return &Subscription{Events: ch, pub: p, taskID: taskID, id: id}
}

// unsubscribe removes one subscriber's queue from its task.
func (p *Publisher) unsubscribe(taskID string, id uint64) {
	p.mu.Lock()
	t, ok := p.tasks[taskID]
	p.mu.Unlock()
	if !ok {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.subscribers[id]
	if !ok {
		return
	}
	delete(t.subscribers, id)
	close(ch)
}

// Unsubscribe removes sub from its task. Equivalent to sub.Close().
func (p *Publisher) Unsubscribe(taskID string, sub *Subscription) {
	if sub == nil {
		return
	}
	p.unsubscribe(taskID, sub.id)
}

// CompleteTask closes every current subscriber's stream for taskID and
// removes the task. Subsequent Subscribe calls for the same taskID start a
// fresh, empty task.
func (p *Publisher) CompleteTask(taskID string) {
	p.mu.Lock()
	t, ok := p.tasks[taskID]
	delete(p.tasks, taskID)
	p.mu.Unlock()
	if !ok {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for id, ch := range t.subscribers {
		close(ch)
		delete(t.subscribers, id)
	}
}

// SubscriberCount returns the number of active subscribers for taskID.
func (p *Publisher) SubscriberCount(taskID string) int {
	p.mu.Lock()
	t, ok := p.tasks[taskID]
	p.mu.Unlock()
	if !ok {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subscribers)
}
