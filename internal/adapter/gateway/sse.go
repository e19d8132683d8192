package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"parley/internal/domain"
)

// maxFrameSize bounds one SSE line. Frames are small; a line this long
// means a broken stream.
const maxFrameSize = 1 * 1024 * 1024

// OpenStream implements domain.Gateway. It opens the push channel for a
// stream token and starts a reader goroutine that lives until the stream
// ends, the subscription is closed, or the transport fails.
func (c *Client) OpenStream(ctx context.Context, token string) (domain.StreamSubscription, error) {
	readCtx, cancel := context.WithCancel(ctx)

	httpReq, err := http.NewRequestWithContext(readCtx, http.MethodGet, c.baseURL+"/api/stream/"+token, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create stream request: %w", err)
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")
	c.setAuth(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		return nil, mapStatusError(resp.StatusCode, body)
	}

	sub := &subscription{
		frames: make(chan domain.StreamFrame, 16),
		cancel: cancel,
	}
	go c.readFrames(readCtx, resp.Body, sub)
	return sub, nil
}

// subscription is one open push channel.
type subscription struct {
	frames chan domain.StreamFrame
	cancel context.CancelFunc

	mu  sync.Mutex
	err error

	closeOnce sync.Once
}

func (s *subscription) Frames() <-chan domain.StreamFrame { return s.frames }

// Err reports a transport failure. Valid after Frames closes.
func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close cancels the reader; the frames channel closes shortly after.
// Safe to call more than once and from any goroutine.
func (s *subscription) Close() {
	s.closeOnce.Do(s.cancel)
}

func (s *subscription) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// readFrames scans the SSE body, decoding each data payload into a
// StreamFrame. Malformed frames are logged and skipped; they never end the
// stream. A read failure is surfaced through sub.Err.
func (c *Client) readFrames(ctx context.Context, body io.ReadCloser, sub *subscription) {
	defer close(sub.frames)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := scanner.Bytes()

		// Skip blank separators and SSE comments.
		if len(line) == 0 || line[0] == ':' {
			continue
		}
		if !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}
		data := bytes.TrimPrefix(line, []byte("data: "))

		var frame domain.StreamFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Warn("skipping malformed frame", "error", err)
			continue
		}

		select {
		case sub.frames <- frame:
		case <-ctx.Done():
			return
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		sub.setErr(fmt.Errorf("%w: %v", domain.ErrTransport, err))
	}
}
