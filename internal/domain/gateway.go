package domain

import "context"

// OutgoingMessage is the wire shape of a message inside a stream request.
type OutgoingMessage struct {
	Content string `json:"content"`
	Role    string `json:"role"`
}

// StreamRequest initiates one generation. ConversationID zero asks the
// server to allocate a new conversation.
type StreamRequest struct {
	Messages       []OutgoingMessage `json:"messages"`
	ModelID        string            `json:"modelId"`
	AgentType      string            `json:"agentType"`
	AutonomousMode bool              `json:"autonomousMode"`
	Attachments    []Attachment      `json:"attachments,omitempty"`
	ConversationID int64             `json:"conversationId,omitempty"`
}

// StreamHandle binds a submitted request to its push-channel subscription.
// The stream token is single-use.
type StreamHandle struct {
	ConversationID int64  `json:"conversationId"`
	StreamToken    string `json:"streamToken"`
}

// StreamSubscription is an open push channel for one stream token.
// Frames is closed when the stream ends, the subscription is closed, or the
// transport fails; after it closes, Err reports a transport failure if one
// occurred. Close is idempotent.
type StreamSubscription interface {
	Frames() <-chan StreamFrame
	Err() error
	Close()
}

// Gateway is the remote conversation backend. All blocking operations take
// a context.
type Gateway interface {
	// StartStream submits a message batch and yields a stream handle.
	StartStream(ctx context.Context, req StreamRequest) (*StreamHandle, error)
	// OpenStream opens the push channel for a stream token.
	OpenStream(ctx context.Context, token string) (StreamSubscription, error)
	// StopStream asks the backend to stop an in-flight generation.
	StopStream(ctx context.Context, token string) error
	// UploadFile uploads one local file ahead of a submission.
	UploadFile(ctx context.Context, file LocalFile, conversationID int64) (*Attachment, error)
	// Timeline fetches the authoritative timeline for a conversation.
	Timeline(ctx context.Context, conversationID int64) ([]TimelineItem, error)
	// Conversations lists stored conversations.
	Conversations(ctx context.Context) ([]ConversationSummary, error)
	// DeleteConversation removes a stored conversation.
	DeleteConversation(ctx context.Context, conversationID int64) error
}
