package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"parley/internal/domain"
	"parley/internal/infra/config"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// BreakerClient wraps a domain.Gateway with circuit breaker protection for
// its request/response calls. When the backend fails repeatedly, the
// circuit opens and submissions fail fast instead of piling up.
//
// StopStream and an already-open StreamSubscription bypass the breaker:
// cancellation teardown must never be refused, and frames on an open
// channel are not requests.
type BreakerClient struct {
	inner   domain.Gateway
	breaker *gobreaker.CircuitBreaker[any]
	logger  *slog.Logger
}

// NewBreakerClient wraps inner with a circuit breaker.
// Zero-valued config fields fall back to defaults.
func NewBreakerClient(inner domain.Gateway, cfg config.BreakerConfig, logger *slog.Logger) *BreakerClient {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "gateway",
		MaxRequests: 1, // one probe in half-open state
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return &BreakerClient{inner: inner, breaker: cb, logger: logger}
}

func (b *BreakerClient) execute(fn func() (any, error)) (any, error) {
	out, err := b.breaker.Execute(fn)
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, fmt.Errorf("%w: circuit open: %v", domain.ErrGatewayUnavailable, err)
	}
	return out, err
}

// StartStream implements domain.Gateway.
func (b *BreakerClient) StartStream(ctx context.Context, req domain.StreamRequest) (*domain.StreamHandle, error) {
	out, err := b.execute(func() (any, error) {
		return b.inner.StartStream(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return out.(*domain.StreamHandle), nil
}

// OpenStream implements domain.Gateway. The breaker protects the initial
// connection; errors on the open channel do not trip it.
func (b *BreakerClient) OpenStream(ctx context.Context, token string) (domain.StreamSubscription, error) {
	out, err := b.execute(func() (any, error) {
		return b.inner.OpenStream(ctx, token)
	})
	if err != nil {
		return nil, err
	}
	return out.(domain.StreamSubscription), nil
}

// StopStream implements domain.Gateway. Never gated: a stuck backend must
// not block local teardown.
func (b *BreakerClient) StopStream(ctx context.Context, token string) error {
	return b.inner.StopStream(ctx, token)
}

// UploadFile implements domain.Gateway.
func (b *BreakerClient) UploadFile(ctx context.Context, file domain.LocalFile, conversationID int64) (*domain.Attachment, error) {
	out, err := b.execute(func() (any, error) {
		return b.inner.UploadFile(ctx, file, conversationID)
	})
	if err != nil {
		return nil, err
	}
	return out.(*domain.Attachment), nil
}

// Timeline implements domain.Gateway.
func (b *BreakerClient) Timeline(ctx context.Context, conversationID int64) ([]domain.TimelineItem, error) {
	out, err := b.execute(func() (any, error) {
		return b.inner.Timeline(ctx, conversationID)
	})
	if err != nil {
		return nil, err
	}
	return out.([]domain.TimelineItem), nil
}

// Conversations implements domain.Gateway.
func (b *BreakerClient) Conversations(ctx context.Context) ([]domain.ConversationSummary, error) {
	out, err := b.execute(func() (any, error) {
		return b.inner.Conversations(ctx)
	})
	if err != nil {
		return nil, err
	}
	return out.([]domain.ConversationSummary), nil
}

// DeleteConversation implements domain.Gateway.
func (b *BreakerClient) DeleteConversation(ctx context.Context, conversationID int64) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.inner.DeleteConversation(ctx, conversationID)
	})
	return err
}

// State returns the current breaker state for monitoring.
func (b *BreakerClient) State() gobreaker.State {
	return b.breaker.State()
}

var _ domain.Gateway = (*BreakerClient)(nil)
