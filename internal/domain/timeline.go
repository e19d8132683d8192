package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimelineItemType tags the variant held by a TimelineItem.
type TimelineItemType string

const (
	TimelineItemMessage       TimelineItemType = "message"
	TimelineItemExecutionStep TimelineItemType = "execution_step"
)

// TimelineItem is one unit of the persisted conversation record: either a
// confirmed message or a stored execution step. The persisted history owns
// these; the engine treats them as read-only.
type TimelineItem struct {
	Type    TimelineItemType
	Message *Message             // set when Type == TimelineItemMessage
	Step    *ExecutionStepRecord // set when Type == TimelineItemExecutionStep
}

// timelineItemEnvelope is the wire shape: {"type": ..., "data": ...}.
type timelineItemEnvelope struct {
	Type TimelineItemType `json:"type"`
	Data json.RawMessage  `json:"data"`
}

// UnmarshalJSON decodes the tagged envelope into the matching variant.
func (t *TimelineItem) UnmarshalJSON(data []byte) error {
	var env timelineItemEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode timeline item: %w", err)
	}

	switch env.Type {
	case TimelineItemMessage:
		var msg Message
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return fmt.Errorf("decode timeline message: %w", err)
		}
		t.Type = TimelineItemMessage
		t.Message = &msg
	case TimelineItemExecutionStep:
		var step ExecutionStepRecord
		if err := json.Unmarshal(env.Data, &step); err != nil {
			return fmt.Errorf("decode execution step: %w", err)
		}
		t.Type = TimelineItemExecutionStep
		t.Step = &step
	default:
		return fmt.Errorf("unknown timeline item type %q", env.Type)
	}
	return nil
}

// MarshalJSON encodes the item back into its tagged envelope.
func (t TimelineItem) MarshalJSON() ([]byte, error) {
	env := timelineItemEnvelope{Type: t.Type}

	var payload any
	switch t.Type {
	case TimelineItemMessage:
		payload = t.Message
	case TimelineItemExecutionStep:
		payload = t.Step
	default:
		return nil, fmt.Errorf("unknown timeline item type %q", t.Type)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	env.Data = data
	return json.Marshal(env)
}

// ExecutionRef is the execution an ExecutionStepRecord belongs to.
// TriggeringMessageID is nil for executions not started by a user message.
type ExecutionRef struct {
	ID                  int64  `json:"id"`
	AgentType           string `json:"agentType"`
	AutonomousMode      bool   `json:"autonomousMode"`
	TriggeringMessageID *int64 `json:"triggeringMessageId"`
}

// ExecutionStepRecord is one stored step of an agent execution. Many steps
// share one ExecutionID.
type ExecutionStepRecord struct {
	ID          int64          `json:"id"`
	ExecutionID int64          `json:"executionId"`
	StepType    string         `json:"stepType"`
	Content     string         `json:"content"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	StepOrder   int            `json:"stepOrder"`
	CreatedAt   time.Time      `json:"createdAt"`
	Execution   ExecutionRef   `json:"execution"`
}

// ExecutionGroup aggregates all steps sharing one execution id for display
// ordering. It is derived on every reconciliation pass and never persisted.
// Timestamp is fixed to the CreatedAt of the first step observed for the id;
// Steps keep their arrival order.
type ExecutionGroup struct {
	ExecutionID         int64
	AgentType           string
	AutonomousMode      bool
	TriggeringMessageID *int64
	Steps               []ExecutionStepRecord
	Timestamp           time.Time
}
