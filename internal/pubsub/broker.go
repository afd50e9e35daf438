package pubsub

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// historyLimit bounds the messages replayed to a late subscriber.
const historyLimit = 64

// Broker a simple in-memory pub/sub system.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string][]chan []byte // topic -> list of subscriber channels
	cache       map[string][][]byte      // topic -> recent messages
}

type WsMessage struct {
	Stream string      `json:"stream"`
	Data   interface{} `json:"data"`
}

// SyncEvent reports the progress of a virtual contest sync.
type SyncEvent struct {
	Contest  string   `json:"contest"`
	Platform string   `json:"platform,omitempty"`
	Message  string   `json:"message,omitempty"`
	Count    int      `json:"count,omitempty"`
	Score    *float64 `json:"score,omitempty"`
}

const (
	StreamSyncStarted  = "sync_started"
	StreamJudgeDone    = "judge_done"
	StreamJudgeFailed  = "judge_failed"
	StreamSyncFinished = "sync_finished"
)

var (
	once   sync.Once
	broker *Broker
)

func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[string][]chan []byte),
		cache:       make(map[string][][]byte),
	}
}

// GetBroker returns the process-wide Broker.
func GetBroker() *Broker {
	once.Do(func() {
		broker = NewBroker()
	})
	return broker
}

// SyncTopic is the topic carrying a user's sync progress.
func SyncTopic(userID string) string {
	return "sync:" + userID
}

// Subscribe subscribes to a topic. It first sends all cached messages to the new
// subscriber, then adds the subscriber to receive live messages.
func (b *Broker) Subscribe(topic string) (<-chan []byte, func()) {
	b.mu.Lock()

	ch := make(chan []byte, 128)

	// snapshot under the lock, deliver outside it
	history := append([][]byte(nil), b.cache[topic]...)
	go func() {
		for _, msg := range history {
			ch <- msg
		}
	}()

	b.subscribers[topic] = append(b.subscribers[topic], ch)
	b.mu.Unlock()

	var unsubOnce sync.Once
	unsubscribe := func() {
		unsubOnce.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			subscribers := b.subscribers[topic]
			for i, sub := range subscribers {
				if sub == ch {
					b.subscribers[topic] = append(subscribers[:i], subscribers[i+1:]...)
					break
				}
			}
			if len(b.subscribers[topic]) == 0 {
				delete(b.subscribers, topic)
			}
			zap.S().Debugf("unsubscribed from topic %s", topic)
		})
	}

	zap.S().Debugf("new subscription to topic %s, sent %d cached messages", topic, len(history))
	return ch, unsubscribe
}

// Publish publishes a message to all subscribers of a topic and caches it.
func (b *Broker) Publish(topic string, msg []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cached := append(b.cache[topic], msg)
	if len(cached) > historyLimit {
		cached = cached[len(cached)-historyLimit:]
	}
	b.cache[topic] = cached

	// a full subscriber misses the message rather than blocking the publisher
	for _, ch := range b.subscribers[topic] {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Reset drops the cached history of a topic, keeping its subscribers.
func (b *Broker) Reset(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.cache, topic)
}

// Helper to format stream messages
func FormatMessage(streamType string, data interface{}) []byte {
	msg := WsMessage{Stream: streamType, Data: data}
	bytes, err := json.Marshal(msg)
	if err != nil {
		return []byte(`{"stream": "error", "data": "json format error"}`)
	}
	return bytes
}
