package usecase

import (
	"sort"

	"parley/internal/domain"
)

// TimelineEntry is one display unit of a reconciled timeline: either a
// persisted timeline item or a derived execution group. Exactly one of the
// two fields is set.
type TimelineEntry struct {
	Item  *domain.TimelineItem
	Group *domain.ExecutionGroup
}

// IsGroup reports whether the entry is an execution group.
func (e TimelineEntry) IsGroup() bool { return e.Group != nil }

// Reconcile merges a persisted timeline into one display ordering.
//
// Execution-step items are folded into one ExecutionGroup per execution id;
// the group keeps the timestamp of its first observed step and its steps in
// arrival order. Non-step items keep their stored relative order. Each group
// is spliced in directly after the user message whose id matches its
// triggering message id; groups with no such message are appended at the
// end, ascending by timestamp.
//
// The output is a permutation of (non-step items) and (one group per
// distinct execution id): nothing is duplicated or dropped.
func Reconcile(items []domain.TimelineItem) []TimelineEntry {
	rest := make([]domain.TimelineItem, 0, len(items))
	groups := make(map[int64]*domain.ExecutionGroup)
	var seen []int64 // execution ids in first-step order

	for _, item := range items {
		if item.Type != domain.TimelineItemExecutionStep || item.Step == nil {
			rest = append(rest, item)
			continue
		}

		step := item.Step
		group, ok := groups[step.ExecutionID]
		if !ok {
			group = &domain.ExecutionGroup{
				ExecutionID:         step.ExecutionID,
				AgentType:           step.Execution.AgentType,
				AutonomousMode:      step.Execution.AutonomousMode,
				TriggeringMessageID: step.Execution.TriggeringMessageID,
				Timestamp:           step.CreatedAt,
			}
			groups[step.ExecutionID] = group
			seen = append(seen, step.ExecutionID)
		}
		group.Steps = append(group.Steps, *step)
	}

	pending := make([]*domain.ExecutionGroup, 0, len(seen))
	for _, id := range seen {
		pending = append(pending, groups[id])
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].Timestamp.Before(pending[j].Timestamp)
	})

	out := make([]TimelineEntry, 0, len(rest)+len(pending))
	for i := range rest {
		item := &rest[i]
		out = append(out, TimelineEntry{Item: item})

		if item.Type != domain.TimelineItemMessage || item.Message == nil || item.Message.Role != domain.RoleUser {
			continue
		}
		// Splice in the earliest pending group triggered by this message.
		for pi, group := range pending {
			if group.TriggeringMessageID != nil && *group.TriggeringMessageID == item.Message.ID {
				out = append(out, TimelineEntry{Group: group})
				pending = append(pending[:pi], pending[pi+1:]...)
				break
			}
		}
	}

	for _, group := range pending {
		out = append(out, TimelineEntry{Group: group})
	}
	return out
}
