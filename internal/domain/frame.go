package domain

import "time"

// FrameType identifies the kind of frame received on the push channel.
// Unknown types are valid; classification has a defined default arm.
type FrameType string

const (
	FrameThinking      FrameType = "thinking"
	FrameToolExecution FrameType = "tool_execution"
	FrameToolResponse  FrameType = "tool_response"
	FrameLLMResponse   FrameType = "llm_response"
	FrameFinished      FrameType = "finished"
	FrameMemorySaved   FrameType = "memory_saved"
	FrameUserMessage   FrameType = "user_message"
	FrameError         FrameType = "error"
)

// StreamFrame is one server-sent unit on the push channel.
type StreamFrame struct {
	ID        string            `json:"id,omitempty"`
	Type      FrameType         `json:"type"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// IsToolActivity reports whether the frame describes tool execution.
// Tool activity is always surfaced in the progress log, regardless of
// agent mode.
func (f StreamFrame) IsToolActivity() bool {
	return f.Type == FrameToolExecution || f.Type == FrameToolResponse
}

// FunctionName returns the tool name carried in the metadata, if any.
func (f StreamFrame) FunctionName() string {
	return f.Metadata["functionName"]
}

// ProgressMessage is one classified unit from the push channel. It lives
// only in the aggregator's log until a terminal event clears it.
type ProgressMessage struct {
	ID        string            `json:"id"`
	Type      FrameType         `json:"type"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ConnectionStatus tracks the transport state of the active stream session.
//
// disconnected → connecting → connected → {disconnected | error}
//
// A stream session exists if and only if the status is not disconnected.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusError        ConnectionStatus = "error"
)
