package domain

import (
	"encoding/json"
	"testing"
	"time"
)

func TestTimelineItemUnmarshalMessage(t *testing.T) {
	raw := `{
		"type": "message",
		"data": {"id": 42, "content": "hello", "role": "user", "timestamp": "2025-06-01T12:00:00Z"}
	}`

	var item TimelineItem
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if item.Type != TimelineItemMessage {
		t.Errorf("Type = %q, want %q", item.Type, TimelineItemMessage)
	}
	if item.Message == nil {
		t.Fatal("Message is nil")
	}
	if item.Step != nil {
		t.Error("Step should be nil for a message item")
	}
	if item.Message.ID != 42 || item.Message.Role != RoleUser || item.Message.Content != "hello" {
		t.Errorf("unexpected message: %+v", item.Message)
	}
}

func TestTimelineItemUnmarshalExecutionStep(t *testing.T) {
	raw := `{
		"type": "execution_step",
		"data": {
			"id": 7,
			"executionId": 5,
			"stepType": "tool_execution",
			"content": "ran search",
			"stepOrder": 1,
			"createdAt": "2025-06-01T12:00:01Z",
			"execution": {"id": 5, "agentType": "researcher", "autonomousMode": true, "triggeringMessageId": 42}
		}
	}`

	var item TimelineItem
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if item.Type != TimelineItemExecutionStep {
		t.Errorf("Type = %q, want %q", item.Type, TimelineItemExecutionStep)
	}
	if item.Step == nil {
		t.Fatal("Step is nil")
	}
	if item.Step.ExecutionID != 5 {
		t.Errorf("ExecutionID = %d, want 5", item.Step.ExecutionID)
	}
	if item.Step.Execution.TriggeringMessageID == nil || *item.Step.Execution.TriggeringMessageID != 42 {
		t.Errorf("TriggeringMessageID = %v, want 42", item.Step.Execution.TriggeringMessageID)
	}
}

func TestTimelineItemUnmarshalUnknownType(t *testing.T) {
	var item TimelineItem
	err := json.Unmarshal([]byte(`{"type": "banner", "data": {}}`), &item)
	if err == nil {
		t.Fatal("expected error for unknown item type")
	}
}

func TestTimelineItemMarshalRoundTrip(t *testing.T) {
	orig := TimelineItem{
		Type: TimelineItemMessage,
		Message: &Message{
			ID:        9,
			Content:   "hi",
			Role:      RoleAssistant,
			Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		},
	}

	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var back TimelineItem
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Message == nil || back.Message.ID != 9 {
		t.Errorf("round trip lost message: %+v", back)
	}
}

func TestOptimisticMessages(t *testing.T) {
	msg := NewOptimisticMessage(RoleUser, "send this")
	if msg.ID == 0 {
		t.Error("optimistic message has zero id")
	}
	if msg.Metadata[MetaOptimistic] != "true" {
		t.Error("optimistic metadata not set")
	}
	if msg.IsError() {
		t.Error("plain optimistic message reported as error")
	}

	errMsg := NewErrorMessage("initiation failed")
	if !errMsg.IsError() {
		t.Error("error message not reported as error")
	}
	if errMsg.Role != RoleAssistant {
		t.Errorf("error message role = %q, want assistant", errMsg.Role)
	}
}
