// Package chat implements the Bubble Tea chat screen. Engine events arrive
// as the message types below, injected through program.Send from bus
// subscriptions.
package chat

import "parley/internal/domain"

// StreamDeltaMsg carries the accumulated assistant text after a new chunk.
type StreamDeltaMsg struct {
	Buffer string
}

// StreamCompletedMsg signals a finished generation.
type StreamCompletedMsg struct {
	Content string
}

// StreamErrorMsg signals a failed generation.
type StreamErrorMsg struct {
	Error string
}

// StreamCancelledMsg signals the user's stop request took effect.
type StreamCancelledMsg struct{}

// MemorySavedMsg signals a mid-stream persistence checkpoint.
type MemorySavedMsg struct{}

// ProgressMsg carries one classified progress unit.
type ProgressMsg struct {
	Progress domain.ProgressMessage
}

// ConnectionMsg carries a transport state change.
type ConnectionMsg struct {
	Status domain.ConnectionStatus
}

// TimelineRefreshedMsg signals the reconciled timeline was reloaded.
type TimelineRefreshedMsg struct{}

// LedgerChangedMsg signals the optimistic ledger changed.
type LedgerChangedMsg struct{}

// ConversationCreatedMsg carries a server-allocated conversation id.
type ConversationCreatedMsg struct {
	ID int64
}

// SubmitDoneMsg signals the submission goroutine finished. Gen identifies
// the request generation so stale completions can be discarded. Content is
// the submitted text, kept so a rejected submission can be restored to the
// input.
type SubmitDoneMsg struct {
	Err     error
	Gen     uint64
	Content string
}

// ConversationsLoadedMsg carries the conversation list for display.
type ConversationsLoadedMsg struct {
	List []domain.ConversationSummary
	Err  error
}

// ConversationDeletedMsg reports the outcome of a delete request.
type ConversationDeletedMsg struct {
	ID  int64
	Err error
}

// QuitMsg asks the program to exit.
type QuitMsg struct{}
