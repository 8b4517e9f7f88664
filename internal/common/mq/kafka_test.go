package mq

import (
	"testing"
	"time"
)

func TestToKafkaMessage(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msg := &Message{
		ID:        "sub-1",
		Body:      []byte(`{"verdict":"AC"}`),
		Headers:   map[string]string{"event": "submission.judged", "attempt": "1"},
		Timestamp: ts,
	}

	km := toKafkaMessage("submission.judged", msg)
	if km.Topic != "submission.judged" {
		t.Fatalf("unexpected topic: %s", km.Topic)
	}
	if string(km.Key) != "sub-1" {
		t.Fatalf("unexpected key: %s", km.Key)
	}
	if !km.Time.Equal(ts) {
		t.Fatalf("unexpected time: %v", km.Time)
	}

	want := []string{"attempt", "event", headerID, headerTimestamp}
	if len(km.Headers) != len(want) {
		t.Fatalf("unexpected header count: %d", len(km.Headers))
	}
	for i, h := range km.Headers {
		if h.Key != want[i] {
			t.Fatalf("header %d = %s, want %s", i, h.Key, want[i])
		}
	}
}

func TestNewKafkaProducer_RequiresBrokers(t *testing.T) {
	if _, err := NewKafkaProducer(KafkaConfig{}); err == nil {
		t.Fatalf("expected error without brokers")
	}
}
