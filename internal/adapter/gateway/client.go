// Package gateway implements the HTTP client for the remote conversation
// backend: stream initiation, the SSE push channel, stop-generation, file
// preparation, and timeline fetches.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"parley/internal/domain"
	"parley/internal/infra/config"
	"parley/internal/infra/tracer"
)

// maxResponseBody caps how much of an API response we read.
const maxResponseBody = 10 * 1024 * 1024 // 10 MB

// Client talks to the conversation backend over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	client     *http.Client
	limiter    *rate.Limiter
	reqTimeout time.Duration
	logger     *slog.Logger
}

// New creates a gateway client from config.
func New(cfg config.GatewayConfig, logger *slog.Logger) *Client {
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	reqTimeout := cfg.RequestTimeout
	if reqTimeout == 0 {
		reqTimeout = 30 * time.Second
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		client:     newHTTPClient(cfg),
		limiter:    limiter,
		reqTimeout: reqTimeout,
		logger:     logger,
	}
}

// newHTTPClient builds an *http.Client with pooling and timeouts suitable
// for a mix of short API calls and long-lived SSE responses. The client
// carries no overall timeout: the SSE body stays open for the whole
// generation, so deadlines come from each request's context.
func newHTTPClient(cfg config.GatewayConfig) *http.Client {
	connTimeout := cfg.ConnTimeout
	if connTimeout == 0 {
		connTimeout = 10 * time.Second
	}

	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   connTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 5,
			IdleConnTimeout:     120 * time.Second,
			ForceAttemptHTTP2:   true,
		},
	}
}

// StartStream implements domain.Gateway.
func (c *Client) StartStream(ctx context.Context, req domain.StreamRequest) (*domain.StreamHandle, error) {
	ctx, span := tracer.StartSpan(ctx, "gateway.start_stream",
		trace.WithAttributes(
			tracer.StringAttr("chat.model", req.ModelID),
			tracer.StringAttr("chat.agent_type", req.AgentType),
		),
	)
	defer span.End()

	body, err := json.Marshal(req)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("marshal stream request: %w", err)
	}

	respBody, err := c.doJSON(ctx, http.MethodPost, "/api/chat/stream", body)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	var handle domain.StreamHandle
	if err := json.Unmarshal(respBody, &handle); err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("unmarshal stream handle: %w", err)
	}

	tracer.SetOK(span)
	c.logger.Debug("stream initiated",
		"conversation", handle.ConversationID,
	)
	return &handle, nil
}

// StopStream implements domain.Gateway. The backend treats the stop as
// best-effort; callers decide whether failure matters.
func (c *Client) StopStream(ctx context.Context, token string) error {
	_, err := c.doJSON(ctx, http.MethodPost, "/api/stream/"+token+"/stop", nil)
	return err
}

// UploadFile implements domain.Gateway. One multipart request per file.
func (c *Client) UploadFile(ctx context.Context, file domain.LocalFile, conversationID int64) (*domain.Attachment, error) {
	ctx, span := tracer.StartSpan(ctx, "gateway.upload",
		trace.WithAttributes(tracer.StringAttr("file.name", file.Name)),
	)
	defer span.End()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", file.Name)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(file.Data); err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("write form file: %w", err)
	}
	if conversationID != 0 {
		if err := writer.WriteField("conversationId", strconv.FormatInt(conversationID, 10)); err != nil {
			tracer.RecordError(span, err)
			return nil, fmt.Errorf("write form field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("finish multipart body: %w", err)
	}

	if err := c.wait(ctx); err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.reqTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/files", &buf)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	c.setAuth(httpReq)

	respBody, err := c.do(httpReq)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	var desc domain.Attachment
	if err := json.Unmarshal(respBody, &desc); err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("unmarshal attachment: %w", err)
	}

	tracer.SetOK(span)
	return &desc, nil
}

// Timeline implements domain.Gateway.
func (c *Client) Timeline(ctx context.Context, conversationID int64) ([]domain.TimelineItem, error) {
	ctx, span := tracer.StartSpan(ctx, "gateway.timeline",
		trace.WithAttributes(tracer.Int64Attr("conversation.id", conversationID)),
	)
	defer span.End()

	path := fmt.Sprintf("/api/conversations/%d/timeline", conversationID)
	respBody, err := c.doJSON(ctx, http.MethodGet, path, nil)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	var items []domain.TimelineItem
	if err := json.Unmarshal(respBody, &items); err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("unmarshal timeline: %w", err)
	}

	tracer.SetOK(span)
	return items, nil
}

// Conversations implements domain.Gateway.
func (c *Client) Conversations(ctx context.Context) ([]domain.ConversationSummary, error) {
	respBody, err := c.doJSON(ctx, http.MethodGet, "/api/conversations", nil)
	if err != nil {
		return nil, err
	}

	var list []domain.ConversationSummary
	if err := json.Unmarshal(respBody, &list); err != nil {
		return nil, fmt.Errorf("unmarshal conversations: %w", err)
	}
	return list, nil
}

// DeleteConversation implements domain.Gateway.
func (c *Client) DeleteConversation(ctx context.Context, conversationID int64) error {
	_, err := c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/api/conversations/%d", conversationID), nil)
	return err
}

// doJSON performs a JSON request and returns the response body, mapping
// non-2xx statuses to domain errors.
func (c *Client) doJSON(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.reqTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	c.setAuth(httpReq)

	return c.do(httpReq)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, mapStatusError(resp.StatusCode, respBody)
	}
	return respBody, nil
}

// wait blocks until the rate limiter admits one request.
func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *Client) setAuth(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// mapStatusError converts an HTTP status into a domain error. The response
// body (truncated) rides along as detail.
func mapStatusError(status int, body []byte) error {
	detail := strings.TrimSpace(string(body))
	if len(detail) > 200 {
		detail = detail[:200]
	}

	var sentinel error
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		sentinel = domain.ErrAuthInvalid
	case status == http.StatusNotFound:
		sentinel = domain.ErrConversationNotFound
	case status == http.StatusTooManyRequests:
		sentinel = domain.ErrRateLimit
	case status >= 500:
		sentinel = domain.ErrGatewayUnavailable
	default:
		sentinel = domain.ErrInvalidInput
	}
	return domain.NewDomainError(fmt.Sprintf("gateway status %d", status), sentinel, detail)
}

var _ domain.Gateway = (*Client)(nil)
