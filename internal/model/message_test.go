package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestMessageJSONRoundTrip(t *testing.T) {
	in := Message{
		ID:         "m1",
		ClientRef:  "ref-1",
		SenderID:   "trainer-1",
		ReceiverID: "client-7",
		Content:    "new plan attached",
		Type:       MessageTypeWorkoutPlan,
		Meta:       WorkoutPlanMeta{PlanID: "plan-42"},
		Status:     MessageStatusSent,
		CreatedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Message
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	meta, ok := out.Meta.(WorkoutPlanMeta)
	if !ok {
		t.Fatalf("meta type = %T, want WorkoutPlanMeta", out.Meta)
	}
	if meta.PlanID != "plan-42" {
		t.Errorf("plan id = %q", meta.PlanID)
	}
	if out.ID != in.ID || out.ClientRef != in.ClientRef || out.Content != in.Content {
		t.Errorf("round trip mismatch: %+v", out)
	}
}

func TestMessageJSONTextHasNoMetadata(t *testing.T) {
	data, err := json.Marshal(Message{SenderID: "a", ReceiverID: "b", Content: "hi"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), "metadata") {
		t.Errorf("text message serialized metadata: %s", data)
	}
	if !strings.Contains(string(data), `"message_type":"text"`) {
		t.Errorf("empty type not defaulted to text: %s", data)
	}
}

func TestMessageMarshalRejectsMismatchedMeta(t *testing.T) {
	_, err := json.Marshal(Message{
		Type: MessageTypeImage,
		Meta: FileMeta{Name: "x"},
	})
	if err == nil {
		t.Fatal("expected error for metadata/type mismatch")
	}
}

func TestDecodeMetadataUnknownType(t *testing.T) {
	_, err := DecodeMetadata("sticker", json.RawMessage(`{}`))
	if err == nil {
		t.Fatal("expected error for unknown message type")
	}
}

func TestDecodeMetadataMissingPayload(t *testing.T) {
	meta, err := DecodeMetadata(MessageTypeImage, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta != nil {
		t.Errorf("meta = %v, want nil", meta)
	}
}

func TestCounterpart(t *testing.T) {
	m := Message{SenderID: "a", ReceiverID: "b"}
	if got := m.Counterpart("a"); got != "b" {
		t.Errorf("Counterpart(a) = %q", got)
	}
	if got := m.Counterpart("b"); got != "a" {
		t.Errorf("Counterpart(b) = %q", got)
	}
}

func TestGroupReactions(t *testing.T) {
	groups := GroupReactions([]Reaction{
		{UserID: "a", Emoji: "👍"},
		{UserID: "b", Emoji: "🔥"},
		{UserID: "c", Emoji: "👍"},
	})
	if len(groups) != 2 {
		t.Fatalf("groups = %d, want 2", len(groups))
	}
	if groups[0].Emoji != "👍" || groups[0].Count != 2 {
		t.Errorf("first group = %+v", groups[0])
	}
	if len(groups[0].Users) != 2 || groups[0].Users[0] != "a" {
		t.Errorf("first group users = %v", groups[0].Users)
	}
	if groups[1].Emoji != "🔥" || groups[1].Count != 1 {
		t.Errorf("second group = %+v", groups[1])
	}
}
