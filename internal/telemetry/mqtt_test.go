package telemetry

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/courtyard-project/courtyard/internal/config"
	"github.com/courtyard-project/courtyard/internal/events"
)

func TestTopic(t *testing.T) {
	if got := Topic("courtyard", TopicSessions); got != "courtyard/sessions" {
		t.Fatalf("topic %q", got)
	}
	if got := Topic("", TopicLinks); got != "links" {
		t.Fatalf("topic %q", got)
	}
}

func TestEveryLifecycleEventHasATopic(t *testing.T) {
	for _, typ := range []events.EventType{
		events.EventConnectionRegistered,
		events.EventConnectionClosed,
		events.EventLinkDown,
		events.EventSessionBound,
		events.EventSessionExpired,
	} {
		if _, ok := topicByEvent[typ]; !ok {
			t.Errorf("no topic for %s", typ)
		}
	}
	if _, ok := topicByEvent[events.EventConfigChanged]; ok {
		t.Error("config changes should stay local")
	}
}

func TestBuildMessage(t *testing.T) {
	now := time.Date(2024, 3, 1, 8, 30, 0, 0, time.FixedZone("x", 3600))
	msg := buildMessage(
		map[string]any{"role": "gateway"},
		map[string]any{"event": "session_bound", "payload": events.SessionPayload{Display: "Alice"}},
		now,
	)

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["role"] != "gateway" || decoded["event"] != "session_bound" {
		t.Fatalf("message %v", decoded)
	}
	if decoded["timestamp"] != "2024-03-01T07:30:00Z" {
		t.Fatalf("timestamp %v", decoded["timestamp"])
	}
	payload, _ := decoded["payload"].(map[string]any)
	if payload["display"] != "Alice" {
		t.Fatalf("payload %v", payload)
	}
}

func TestDisabledPublisher(t *testing.T) {
	if _, err := NewPublisher(config.MQTTConfig{}, "relay", nil); err == nil {
		t.Fatal("expected an error for disabled MQTT")
	}
}
