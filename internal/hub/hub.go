// Package hub implements the in-process publish/subscribe fabric.
//
// Subscribers receive coalesced change notifications, not messages: a token
// on the channel means "state behind this topic changed, refetch it". Full
// queues drop tokens silently; the next refetch makes up the missed state.
package hub

import (
	"fmt"
	"sync"

	"github.com/fetcharr/fetcharr/internal/metrics"
)

// QueueSize bounds each subscriber's token queue.
const QueueSize = 100

// Reserved topic names. Per-list topics are built by the Topic* helpers.
const (
	TopicTasks     = "tasks"
	TopicTaskStats = "tasks:stats"
	TopicLists     = "lists"
	TopicHistory   = "history"
	TopicProgress  = "progress"
)

// TopicListVideos names the per-list video change topic.
func TopicListVideos(listID int64) string {
	return fmt.Sprintf("list:%d:videos", listID)
}

// TopicListTasks names the per-list task change topic.
func TopicListTasks(listID int64) string {
	return fmt.Sprintf("list:%d:tasks", listID)
}

// TopicListHistory names the per-list history topic.
func TopicListHistory(listID int64) string {
	return fmt.Sprintf("list:%d:history", listID)
}

// Subscription is a handle on one subscriber queue. Close must be called on
// every exit path; it is safe to call twice.
type Subscription struct {
	hub    *Hub
	topic  string
	ch     chan struct{}
	closed sync.Once
}

// C returns the token channel. It is closed when the subscription is closed.
func (s *Subscription) C() <-chan struct{} {
	return s.ch
}

// Close removes the subscription from its topic.
func (s *Subscription) Close() {
	s.closed.Do(func() {
		s.hub.remove(s)
		close(s.ch)
	})
}

// Hub fans out change notifications to per-topic subscriber sets. Publish is
// non-blocking and safe from any goroutine; ordering holds within a topic.
type Hub struct {
	mu   sync.RWMutex
	subs map[string][]*Subscription
}

// New creates an empty hub.
func New() *Hub {
	return &Hub{subs: make(map[string][]*Subscription)}
}

// Subscribe registers a new bounded subscriber queue for topic.
func (h *Hub) Subscribe(topic string) *Subscription {
	sub := &Subscription{hub: h, topic: topic, ch: make(chan struct{}, QueueSize)}
	h.mu.Lock()
	h.subs[topic] = append(h.subs[topic], sub)
	n := len(h.subs[topic])
	h.mu.Unlock()
	metrics.HubSubscribers.WithLabelValues(topic).Set(float64(n))
	return sub
}

// Publish posts one token to every subscriber of each named topic. A full
// subscriber queue drops the token; the subscriber is already due a refetch.
func (h *Hub) Publish(topics ...string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, topic := range topics {
		for _, sub := range h.subs[topic] {
			select {
			case sub.ch <- struct{}{}:
			default:
				metrics.IncHubDrop(topic)
			}
		}
	}
}

// SubscriberCount reports the current number of subscribers on topic.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	lst := h.subs[sub.topic]
	out := lst[:0]
	for _, s := range lst {
		if s != sub {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		delete(h.subs, sub.topic)
	} else {
		h.subs[sub.topic] = out
	}
	metrics.HubSubscribers.WithLabelValues(sub.topic).Set(float64(len(out)))
}
