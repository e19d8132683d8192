package chat

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"parley/internal/domain"
	"parley/internal/usecase"
)

// submitCmd runs a submission in a background goroutine. Frames flow back
// through the event bus; this command only reports whether the submission
// itself was accepted. gen tags the request so a stale completion from a
// cancelled request is discarded.
func submitCmd(ctx context.Context, engine *usecase.Engine, content string, files []domain.LocalFile, gen uint64) tea.Cmd {
	return func() tea.Msg {
		err := engine.Submit(ctx, content, files)
		return SubmitDoneMsg{Err: err, Gen: gen, Content: content}
	}
}

// cancelCmd stops the active generation. Cancel is synchronous and
// idempotent, so no completion message is needed.
func cancelCmd(engine *usecase.Engine) tea.Cmd {
	return func() tea.Msg {
		engine.Cancel(context.Background())
		return StreamCancelledMsg{}
	}
}

// loadConversationsCmd fetches the conversation list.
func loadConversationsCmd(ctx context.Context, gw domain.Gateway) tea.Cmd {
	return func() tea.Msg {
		list, err := gw.Conversations(ctx)
		return ConversationsLoadedMsg{List: list, Err: err}
	}
}

// deleteConversationCmd removes a conversation on the server.
func deleteConversationCmd(ctx context.Context, gw domain.Gateway, id int64) tea.Cmd {
	return func() tea.Msg {
		err := gw.DeleteConversation(ctx, id)
		return ConversationDeletedMsg{ID: id, Err: err}
	}
}

// loadTimelineCmd loads and reconciles the stored timeline for a
// conversation. The refreshed view arrives through the event bus.
func loadTimelineCmd(ctx context.Context, history *usecase.History, id int64) tea.Cmd {
	return func() tea.Msg {
		history.Refresh(ctx, id)
		return nil
	}
}
