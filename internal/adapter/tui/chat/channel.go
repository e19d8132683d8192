package chat

import (
	"context"
	"encoding/json"
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"

	"parley/internal/domain"
)

// Channel runs the Bubble Tea program and forwards engine events from the
// bus into its update loop. This is the only bridge between the usecase
// layer's goroutines and the UI.
type Channel struct {
	deps    ModelDeps
	bus     domain.EventBus
	logger  *slog.Logger
	program *tea.Program
}

// NewChannel creates a TUI channel.
func NewChannel(deps ModelDeps, bus domain.EventBus) *Channel {
	return &Channel{
		deps:   deps,
		bus:    bus,
		logger: deps.Logger,
	}
}

// Start creates the program, wires the bus subscriptions, and blocks until
// the program exits.
func (c *Channel) Start(ctx context.Context) error {
	c.program = tea.NewProgram(
		NewModel(c.deps),
		tea.WithAltScreen(),
	)

	unsub := c.bus.SubscribeAll(func(_ context.Context, event domain.Event) {
		if msg := translateEvent(event, c.logger); msg != nil {
			c.program.Send(msg)
		}
	})
	defer unsub()

	go func() {
		<-ctx.Done()
		if c.program != nil {
			c.program.Send(QuitMsg{})
		}
	}()

	_, err := c.program.Run()
	return err
}

// Stop asks the program to quit.
func (c *Channel) Stop() {
	if c.program != nil {
		c.program.Send(QuitMsg{})
	}
}

// translateEvent converts a bus event into the tea.Msg the model consumes.
// Unknown event types are dropped.
func translateEvent(event domain.Event, logger *slog.Logger) tea.Msg {
	switch event.Type {
	case domain.EventStreamDelta:
		var p domain.StreamDeltaPayload
		if err := unmarshalPayload(event.Payload, &p, logger); err != nil {
			return nil
		}
		return StreamDeltaMsg{Buffer: p.Buffer}

	case domain.EventStreamCompleted:
		var p domain.StreamCompletedPayload
		if err := unmarshalPayload(event.Payload, &p, logger); err != nil {
			return nil
		}
		return StreamCompletedMsg{Content: p.Content}

	case domain.EventStreamError:
		var p domain.StreamErrorPayload
		if err := unmarshalPayload(event.Payload, &p, logger); err != nil {
			return nil
		}
		return StreamErrorMsg{Error: p.Error}

	case domain.EventStreamCancelled:
		return StreamCancelledMsg{}

	case domain.EventMemorySaved:
		return MemorySavedMsg{}

	case domain.EventProgressLogged:
		var p domain.ProgressMessage
		if err := unmarshalPayload(event.Payload, &p, logger); err != nil {
			return nil
		}
		return ProgressMsg{Progress: p}

	case domain.EventConnectionChanged:
		var p domain.ConnectionChangedPayload
		if err := unmarshalPayload(event.Payload, &p, logger); err != nil {
			return nil
		}
		return ConnectionMsg{Status: p.Status}

	case domain.EventConversationCreated:
		return ConversationCreatedMsg{ID: event.ConversationID}

	case domain.EventTimelineRefreshed:
		return TimelineRefreshedMsg{}

	case domain.EventLedgerChanged:
		return LedgerChangedMsg{}
	}
	return nil
}

func unmarshalPayload(raw json.RawMessage, v any, logger *slog.Logger) error {
	if raw == nil {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		logger.Warn("dropping malformed event payload", "error", err)
		return err
	}
	return nil
}
