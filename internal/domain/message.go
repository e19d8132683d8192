// Package domain holds the core types, ports and errors of the streaming
// session engine. It has no dependencies on adapters or infrastructure.
package domain

import "time"

// Role constants for message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Metadata keys used on locally fabricated messages.
const (
	MetaType       = "type"
	MetaTypeError  = "error"
	MetaOptimistic = "optimistic"
)

// Message is a single conversation message. Persisted messages carry the
// id assigned by the backing store; optimistic messages carry a locally
// generated id until the next history refresh supersedes them.
type Message struct {
	ID        int64             `json:"id"`
	Content   string            `json:"content"`
	Role      string            `json:"role"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewOptimisticMessage fabricates a message shown before backend
// confirmation. The id is the current unix-milli timestamp, which keeps it
// numeric like store ids but outside their range for any realistic store.
func NewOptimisticMessage(role, content string) Message {
	now := time.Now()
	return Message{
		ID:        now.UnixMilli(),
		Content:   content,
		Role:      role,
		Timestamp: now,
		Metadata:  map[string]string{MetaOptimistic: "true"},
	}
}

// NewErrorMessage fabricates an assistant message describing a failed
// attempt. It is appended to the optimistic ledger, never persisted.
func NewErrorMessage(desc string) Message {
	msg := NewOptimisticMessage(RoleAssistant, desc)
	msg.Metadata[MetaType] = MetaTypeError
	return msg
}

// IsError reports whether the message is a fabricated error annotation.
func (m Message) IsError() bool {
	return m.Metadata[MetaType] == MetaTypeError
}

// LocalFile is a locally selected file awaiting upload. Entries with no
// payload are skipped by the attachment preparer.
type LocalFile struct {
	Name string
	MIME string
	Data []byte
}

// Attachment is the server-side descriptor returned after an upload.
type Attachment struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	DataURL string `json:"dataUrl"`
}

// ConversationSummary is a row in the conversation list.
type ConversationSummary struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updatedAt"`
}
