package pubsub

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"
)

func receive(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
	return nil
}

func TestSubscribeReplaysHistory(t *testing.T) {
	b := NewBroker()
	topic := SyncTopic("u1")
	b.Publish(topic, []byte("one"))
	b.Publish(topic, []byte("two"))

	ch, unsubscribe := b.Subscribe(topic)
	defer unsubscribe()
	if got := string(receive(t, ch)); got != "one" {
		t.Fatalf("first message = %q", got)
	}
	if got := string(receive(t, ch)); got != "two" {
		t.Fatalf("second message = %q", got)
	}

	b.Publish(topic, []byte("three"))
	if got := string(receive(t, ch)); got != "three" {
		t.Fatalf("live message = %q", got)
	}
}

func TestResetDropsHistory(t *testing.T) {
	b := NewBroker()
	topic := SyncTopic("u2")
	for i := 0; i < historyLimit+10; i++ {
		b.Publish(topic, []byte(fmt.Sprint(i)))
	}
	if n := len(b.cache[topic]); n != historyLimit {
		t.Fatalf("cache holds %d messages, expected %d", n, historyLimit)
	}
	b.Reset(topic)

	ch, unsubscribe := b.Subscribe(topic)
	defer unsubscribe()
	b.Publish(topic, []byte("fresh"))
	if got := string(receive(t, ch)); got != "fresh" {
		t.Fatalf("expected only the new message, got %q", got)
	}
}

func TestFormatMessage(t *testing.T) {
	score := 42.5
	raw := FormatMessage(StreamSyncFinished, SyncEvent{Contest: "IOI 2024", Score: &score})
	var msg struct {
		Stream string    `json:"stream"`
		Data   SyncEvent `json:"data"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Stream != StreamSyncFinished || msg.Data.Contest != "IOI 2024" || *msg.Data.Score != 42.5 {
		t.Fatalf("unexpected message: %s", raw)
	}
}
