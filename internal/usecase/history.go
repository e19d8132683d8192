package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"parley/internal/domain"
)

// History is the refresh collaborator: it re-fetches the authoritative
// timeline from the store after terminal stream events and keeps the last
// reconciled result for rendering.
type History struct {
	mu     sync.RWMutex
	gw     domain.Gateway
	bus    domain.EventBus
	logger *slog.Logger

	conversationID int64
	entries        []TimelineEntry
}

// NewHistory creates a history refresher backed by the gateway.
func NewHistory(gw domain.Gateway, bus domain.EventBus, logger *slog.Logger) *History {
	return &History{gw: gw, bus: bus, logger: logger}
}

// Refresh implements Refresher. Failures are logged, never propagated: a
// failed refresh leaves the previous reconciled timeline in place.
func (h *History) Refresh(ctx context.Context, conversationID int64) {
	if err := h.Load(ctx, conversationID); err != nil {
		h.logger.Error("history refresh failed", "conversation", conversationID, "error", err)
	}
}

// Load fetches and reconciles the timeline for a conversation, replacing
// the held result and publishing a timeline.refreshed event.
func (h *History) Load(ctx context.Context, conversationID int64) error {
	items, err := h.gw.Timeline(ctx, conversationID)
	if err != nil {
		return domain.WrapOp("History.Load", err)
	}

	entries := Reconcile(items)

	h.mu.Lock()
	h.conversationID = conversationID
	h.entries = entries
	h.mu.Unlock()

	if h.bus != nil {
		h.bus.Publish(ctx, domain.Event{
			Type:           domain.EventTimelineRefreshed,
			Timestamp:      time.Now(),
			ConversationID: conversationID,
		})
	}
	return nil
}

// Entries returns the last reconciled timeline.
func (h *History) Entries() []TimelineEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]TimelineEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Clear drops the held timeline, for switching to a fresh conversation.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conversationID = 0
	h.entries = nil
}

var _ Refresher = (*History)(nil)
