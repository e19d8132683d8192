// Package usecase implements the streaming session engine: submission,
// frame classification, optimistic-message bookkeeping, cancellation, and
// timeline reconciliation.
package usecase

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"parley/internal/domain"
)

// AgentTypeChat is the plain-chat agent mode. In this mode narrative
// progress frames are suppressed from the visible log; tool activity is
// always shown.
const AgentTypeChat = "chat"

// Refresher re-fetches the authoritative timeline after a terminal stream
// event. It is the sole mechanism by which ephemeral stream state becomes
// durable history.
type Refresher interface {
	Refresh(ctx context.Context, conversationID int64)
}

// EngineDeps holds the collaborators of an Engine.
type EngineDeps struct {
	Gateway   domain.Gateway
	Bus       domain.EventBus
	Refresher Refresher
	Logger    *slog.Logger

	ModelID        string
	AgentType      string
	AutonomousMode bool

	// OnConversationCreated is invoked when the server allocates a new
	// conversation id for a submission that did not carry one. Optional.
	OnConversationCreated func(conversationID int64)
}

// Engine conducts one logical conversational exchange at a time: it submits
// a message, consumes the push channel, classifies frames, and tears the
// session down on terminal events or cancellation.
//
// All shared state is guarded by one mutex; frames are consumed by a single
// goroutine in arrival order. Cancel is the only operation that interrupts
// a session from outside its own event flow.
type Engine struct {
	mu        sync.Mutex
	gw        domain.Gateway
	bus       domain.EventBus
	refresher Refresher
	logger    *slog.Logger

	modelID        string
	agentType      string
	autonomousMode bool
	onCreated      func(int64)

	conversationID int64
	status         domain.ConnectionStatus
	loading        bool

	optimistic []domain.Message
	buffer     strings.Builder
	streaming  bool // buffer holds a live reply
	progress   []domain.ProgressMessage

	sub          domain.StreamSubscription
	streamToken  string
	streamCancel context.CancelFunc
	gen          uint64 // bumped per submission; stale handlers check it

	entropy *ulid.MonotonicEntropy
}

// Snapshot is a copy of the engine's observable state, safe for rendering.
type Snapshot struct {
	ConversationID int64
	Status         domain.ConnectionStatus
	Loading        bool
	Ledger         []domain.Message
	Buffer         string
	Streaming      bool
	Progress       []domain.ProgressMessage
}

// NewEngine creates a session engine.
func NewEngine(deps EngineDeps) *Engine {
	return &Engine{
		gw:             deps.Gateway,
		bus:            deps.Bus,
		refresher:      deps.Refresher,
		logger:         deps.Logger,
		modelID:        deps.ModelID,
		agentType:      deps.AgentType,
		autonomousMode: deps.AutonomousMode,
		onCreated:      deps.OnConversationCreated,
		status:         domain.StatusDisconnected,
		entropy:        ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := Snapshot{
		ConversationID: e.conversationID,
		Status:         e.status,
		Loading:        e.loading,
		Buffer:         e.buffer.String(),
		Streaming:      e.streaming,
		Ledger:         make([]domain.Message, len(e.optimistic)),
		Progress:       make([]domain.ProgressMessage, len(e.progress)),
	}
	copy(snap.Ledger, e.optimistic)
	copy(snap.Progress, e.progress)
	return snap
}

// ConversationID returns the active conversation id (0 = none yet).
func (e *Engine) ConversationID() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conversationID
}

// SetConversation switches the engine to another conversation and resets
// all session-local state, including a leftover error status. Rejected
// while a stream session is live.
func (e *Engine) SetConversation(id int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sessionActiveLocked() {
		return domain.NewDomainError("Engine.SetConversation", domain.ErrStreamActive, "")
	}
	e.conversationID = id
	e.optimistic = nil
	e.progress = nil
	e.buffer.Reset()
	e.streaming = false
	e.status = domain.StatusDisconnected
	return nil
}

// Submit conducts one submission: optimistic message, attachment uploads,
// stream initiation, and push-channel consumption. It returns once the
// channel is open (or the attempt failed); frames are then consumed in the
// background until a terminal event, a transport error, or Cancel.
//
// A submission while a stream session is live (connecting or connected) is
// rejected with ErrStreamActive; cancel the live session first. A session
// that ended with a transport error is terminal, so a new submission from
// the error status starts a fresh session in its place.
func (e *Engine) Submit(ctx context.Context, content string, files []domain.LocalFile) error {
	e.mu.Lock()
	if e.sessionActiveLocked() {
		e.mu.Unlock()
		return domain.NewDomainError("Engine.Submit", domain.ErrStreamActive, "")
	}

	e.gen++
	gen := e.gen
	convID := e.conversationID
	e.status = domain.StatusConnecting
	e.loading = true
	e.optimistic = append(e.optimistic, domain.NewOptimisticMessage(domain.RoleUser, content))
	e.mu.Unlock()

	e.publish(ctx, domain.EventLedgerChanged, convID, nil)
	e.publishConnection(ctx, convID, domain.StatusConnecting)

	attachments, err := e.prepareAttachments(ctx, files, convID)
	if err != nil {
		e.failSubmission(ctx, gen, err)
		return domain.NewDomainError("Engine.Submit", domain.ErrUpload, err.Error())
	}

	handle, err := e.gw.StartStream(ctx, domain.StreamRequest{
		Messages:       []domain.OutgoingMessage{{Content: content, Role: domain.RoleUser}},
		ModelID:        e.modelID,
		AgentType:      e.agentType,
		AutonomousMode: e.autonomousMode,
		Attachments:    attachments,
		ConversationID: convID,
	})
	if err != nil {
		e.failSubmission(ctx, gen, err)
		return domain.NewDomainError("Engine.Submit", domain.ErrInitiation, err.Error())
	}

	if convID == 0 && handle.ConversationID != 0 {
		e.mu.Lock()
		e.conversationID = handle.ConversationID
		e.mu.Unlock()
		convID = handle.ConversationID
		if e.onCreated != nil {
			e.onCreated(handle.ConversationID)
		}
		e.publish(ctx, domain.EventConversationCreated, handle.ConversationID, nil)
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub, err := e.gw.OpenStream(streamCtx, handle.StreamToken)
	if err != nil {
		cancel()
		e.failSubmission(ctx, gen, err)
		return domain.NewDomainError("Engine.Submit", domain.ErrTransport, err.Error())
	}

	e.mu.Lock()
	if e.gen != gen {
		// Cancelled while connecting.
		e.mu.Unlock()
		cancel()
		sub.Close()
		return domain.NewDomainError("Engine.Submit", domain.ErrNoSession, "cancelled during initiation")
	}
	e.sub = sub
	e.streamToken = handle.StreamToken
	e.streamCancel = cancel
	e.status = domain.StatusConnected
	e.mu.Unlock()

	e.publishConnection(ctx, convID, domain.StatusConnected)
	e.publish(ctx, domain.EventStreamStarted, convID, nil)

	go e.consume(streamCtx, sub, gen)
	return nil
}

// failSubmission records a failed attempt: the optimistic user message is
// retained and an assistant error message is appended beside it.
func (e *Engine) failSubmission(ctx context.Context, gen uint64, cause error) {
	e.mu.Lock()
	if e.gen != gen {
		e.mu.Unlock()
		return
	}
	e.optimistic = append(e.optimistic, domain.NewErrorMessage(cause.Error()))
	e.loading = false
	e.status = domain.StatusDisconnected
	convID := e.conversationID
	e.mu.Unlock()

	e.logger.Error("submission failed", "conversation", convID, "error", cause)
	e.publishPayload(ctx, domain.EventStreamError, convID, domain.StreamErrorPayload{Error: cause.Error()})
	e.publish(ctx, domain.EventLedgerChanged, convID, nil)
	e.publishConnection(ctx, convID, domain.StatusDisconnected)
}

// prepareAttachments uploads the given files and returns their server-side
// descriptors. Files with no payload are skipped; any upload error aborts
// the whole batch. No retry.
func (e *Engine) prepareAttachments(ctx context.Context, files []domain.LocalFile, conversationID int64) ([]domain.Attachment, error) {
	if len(files) == 0 {
		return nil, nil
	}

	attachments := make([]domain.Attachment, 0, len(files))
	for _, file := range files {
		if len(file.Data) == 0 {
			e.logger.Debug("skipping attachment with no payload", "name", file.Name)
			continue
		}
		desc, err := e.gw.UploadFile(ctx, file, conversationID)
		if err != nil {
			return nil, domain.WrapOp("upload "+file.Name, err)
		}
		attachments = append(attachments, *desc)
	}
	return attachments, nil
}

// consume drains the subscription, one frame at a time, in arrival order.
// A channel that closes while the session is still attached, whether from
// a transport error or a plain EOF without a finished frame, ends the
// session as a transport failure.
func (e *Engine) consume(ctx context.Context, sub domain.StreamSubscription, gen uint64) {
	for frame := range sub.Frames() {
		e.handleFrame(ctx, frame, gen)
	}

	err := sub.Err()
	if err == nil {
		err = domain.NewDomainError("Engine.consume", domain.ErrTransport, "stream closed unexpectedly")
	}
	e.transportError(ctx, err, sub, gen)
}

// handleFrame routes one frame through the classifier. The order of the
// cases mirrors the protocol contract: a finished frame fully supersedes
// any buffered state, and unknown types fall into the progress-log arm.
func (e *Engine) handleFrame(ctx context.Context, frame domain.StreamFrame, gen uint64) {
	e.mu.Lock()
	if e.gen != gen {
		e.mu.Unlock()
		return
	}
	convID := e.conversationID

	switch frame.Type {
	case domain.FrameLLMResponse:
		firstDelta := e.loading
		e.loading = false
		e.buffer.WriteString(frame.Content)
		e.streaming = true
		buffer := e.buffer.String()
		e.mu.Unlock()

		if firstDelta {
			e.logger.Debug("first token received", "conversation", convID)
		}
		e.publishPayload(ctx, domain.EventStreamDelta, convID, domain.StreamDeltaPayload{
			Content: frame.Content,
			Buffer:  buffer,
		})

	case domain.FrameFinished:
		e.loading = false
		e.status = domain.StatusDisconnected
		e.teardownSessionLocked()
		e.mu.Unlock()

		e.publishConnection(ctx, convID, domain.StatusDisconnected)
		if e.refresher != nil {
			e.refresher.Refresh(ctx, convID)
		}

		e.mu.Lock()
		content := e.buffer.String()
		if e.gen == gen {
			e.optimistic = nil
			e.buffer.Reset()
			e.streaming = false
			e.progress = nil
		}
		e.mu.Unlock()

		e.publishPayload(ctx, domain.EventStreamCompleted, convID, domain.StreamCompletedPayload{Content: content})
		e.publish(ctx, domain.EventLedgerChanged, convID, nil)

	case domain.FrameMemorySaved:
		// Durable checkpoint mid-stream: refresh and clear, but the
		// transport stays open and the status untouched.
		e.mu.Unlock()

		if e.refresher != nil {
			e.refresher.Refresh(ctx, convID)
		}

		e.mu.Lock()
		if e.gen == gen {
			e.optimistic = nil
			e.buffer.Reset()
			e.streaming = false
			e.progress = nil
		}
		e.mu.Unlock()

		e.publish(ctx, domain.EventMemorySaved, convID, nil)
		e.publish(ctx, domain.EventLedgerChanged, convID, nil)

	default:
		// thinking, tool_execution, tool_response, user_message, error,
		// and forward-compatible unknown types. Plain chat suppresses
		// narrative chatter; tool activity is always shown.
		if e.agentType == AgentTypeChat && !frame.IsToolActivity() {
			e.mu.Unlock()
			return
		}
		progress := e.toProgress(frame)
		e.progress = append(e.progress, progress)
		e.mu.Unlock()

		e.publishPayload(ctx, domain.EventProgressLogged, convID, progress)
	}
}

// transportError ends the session: error status, buffer and loading
// cleared, channel torn down, an error message appended to the ledger.
// The session is never reconnected automatically.
func (e *Engine) transportError(ctx context.Context, cause error, sub domain.StreamSubscription, gen uint64) {
	e.mu.Lock()
	// A detached subscription means the session already ended cleanly
	// (finished frame) or was cancelled; nothing to do.
	if e.gen != gen || e.sub != sub {
		e.mu.Unlock()
		return
	}
	convID := e.conversationID
	e.status = domain.StatusError
	e.loading = false
	e.buffer.Reset()
	e.streaming = false
	e.optimistic = append(e.optimistic, domain.NewErrorMessage(cause.Error()))
	e.teardownSessionLocked()
	e.mu.Unlock()

	e.logger.Error("stream transport failed", "conversation", convID, "error", cause)
	e.publishPayload(ctx, domain.EventStreamError, convID, domain.StreamErrorPayload{Error: cause.Error()})
	e.publish(ctx, domain.EventLedgerChanged, convID, nil)
	e.publishConnection(ctx, convID, domain.StatusError)
}

// Cancel stops an in-flight generation: a best-effort stop signal to the
// backend, then unconditional local teardown. A session that already ended
// with a transport error has no subscription left, but Cancel still resets
// the terminal error status and discards the ledger. Calling Cancel while
// disconnected is a no-op. Cancel is idempotent.
func (e *Engine) Cancel(ctx context.Context) error {
	e.mu.Lock()
	if e.sub == nil {
		if e.status == domain.StatusDisconnected {
			e.mu.Unlock()
			return nil
		}
		convID := e.conversationID
		e.gen++
		e.status = domain.StatusDisconnected
		e.loading = false
		e.progress = nil
		e.buffer.Reset()
		e.streaming = false
		e.optimistic = nil
		e.mu.Unlock()

		e.publish(ctx, domain.EventStreamCancelled, convID, nil)
		e.publish(ctx, domain.EventLedgerChanged, convID, nil)
		e.publishConnection(ctx, convID, domain.StatusDisconnected)
		return nil
	}
	sub := e.sub
	token := e.streamToken
	cancel := e.streamCancel
	convID := e.conversationID

	e.gen++ // orphan any in-flight frame handlers
	e.sub = nil
	e.streamToken = ""
	e.streamCancel = nil
	e.status = domain.StatusDisconnected
	e.loading = false
	e.progress = nil
	e.buffer.Reset()
	e.streaming = false
	e.optimistic = nil
	e.mu.Unlock()

	// Stop signal first, local teardown unconditionally after.
	if err := e.gw.StopStream(ctx, token); err != nil {
		e.logger.Warn("stop generation failed", "conversation", convID, "error", err)
	}
	if cancel != nil {
		cancel()
	}
	sub.Close()

	e.publish(ctx, domain.EventStreamCancelled, convID, nil)
	e.publish(ctx, domain.EventLedgerChanged, convID, nil)
	e.publishConnection(ctx, convID, domain.StatusDisconnected)
	return nil
}

// sessionActiveLocked reports whether a stream session is live. The error
// status is terminal, not live: the subscription is already detached, so a
// new submission may replace it. Caller holds e.mu.
func (e *Engine) sessionActiveLocked() bool {
	return e.status == domain.StatusConnecting || e.status == domain.StatusConnected
}

// teardownSessionLocked detaches the stream session. Caller holds e.mu.
func (e *Engine) teardownSessionLocked() {
	if e.streamCancel != nil {
		e.streamCancel()
		e.streamCancel = nil
	}
	if e.sub != nil {
		e.sub.Close()
		e.sub = nil
	}
	e.streamToken = ""
}

// toProgress converts a frame into a progress-log entry, assigning a local
// ULID when the server sent no id. Caller holds e.mu.
func (e *Engine) toProgress(frame domain.StreamFrame) domain.ProgressMessage {
	id := frame.ID
	if id == "" {
		id = ulid.MustNew(ulid.Timestamp(time.Now()), e.entropy).String()
	}
	ts := frame.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return domain.ProgressMessage{
		ID:        id,
		Type:      frame.Type,
		Content:   frame.Content,
		Timestamp: ts,
		Metadata:  frame.Metadata,
	}
}

func (e *Engine) publish(ctx context.Context, typ domain.EventType, convID int64, payload []byte) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(ctx, domain.Event{
		Type:           typ,
		Timestamp:      time.Now(),
		ConversationID: convID,
		Payload:        payload,
	})
}

func (e *Engine) publishPayload(ctx context.Context, typ domain.EventType, convID int64, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		e.logger.Error("marshal event payload", "event", string(typ), "error", err)
		return
	}
	e.publish(ctx, typ, convID, data)
}

func (e *Engine) publishConnection(ctx context.Context, convID int64, status domain.ConnectionStatus) {
	e.publishPayload(ctx, domain.EventConnectionChanged, convID, domain.ConnectionChangedPayload{Status: status})
}
