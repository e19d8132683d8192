package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"parley/internal/domain"
	"parley/internal/infra/config"
)

func sseServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(config.GatewayConfig{BaseURL: server.URL, APIKey: "test-key"}, newTestLogger())
}

func collectFrames(t *testing.T, sub domain.StreamSubscription) []domain.StreamFrame {
	t.Helper()
	var frames []domain.StreamFrame
	timeout := time.After(2 * time.Second)
	for {
		select {
		case frame, ok := <-sub.Frames():
			if !ok {
				return frames
			}
			frames = append(frames, frame)
		case <-timeout:
			t.Fatal("timed out waiting for frames channel to close")
		}
	}
}

func TestOpenStreamDeliversFramesInOrder(t *testing.T) {
	client := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/stream/tok-1" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Accept") != "text/event-stream" {
			t.Errorf("unexpected accept header: %s", r.Header.Get("Accept"))
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth: %s", r.Header.Get("Authorization"))
		}

		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"type\":\"thinking\",\"content\":\"working\"}\n\n")
		io.WriteString(w, "data: {\"type\":\"llm_response\",\"content\":\"hello\"}\n\n")
		io.WriteString(w, "data: {\"type\":\"finished\"}\n\n")
	})

	sub, err := client.OpenStream(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("OpenStream returned error: %v", err)
	}
	defer sub.Close()

	frames := collectFrames(t, sub)
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}
	wantTypes := []domain.FrameType{domain.FrameThinking, domain.FrameLLMResponse, domain.FrameFinished}
	for i, want := range wantTypes {
		if frames[i].Type != want {
			t.Errorf("frame %d type = %q, want %q", i, frames[i].Type, want)
		}
	}
	if frames[1].Content != "hello" {
		t.Errorf("delta content = %q, want hello", frames[1].Content)
	}
	if err := sub.Err(); err != nil {
		t.Errorf("unexpected subscription error: %v", err)
	}
}

func TestOpenStreamSkipsMalformedAndNoise(t *testing.T) {
	client := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, ": keepalive comment\n")
		io.WriteString(w, "event: frame\n")
		io.WriteString(w, "data: {not json}\n\n")
		io.WriteString(w, "data: {\"type\":\"llm_response\",\"content\":\"still here\"}\n\n")
	})

	sub, err := client.OpenStream(context.Background(), "tok-2")
	if err != nil {
		t.Fatalf("OpenStream returned error: %v", err)
	}
	defer sub.Close()

	frames := collectFrames(t, sub)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if frames[0].Content != "still here" {
		t.Errorf("content = %q, want 'still here'", frames[0].Content)
	}
}

func TestOpenStreamMapsStatusError(t *testing.T) {
	client := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such stream", http.StatusNotFound)
	})

	_, err := client.OpenStream(context.Background(), "tok-gone")
	if !errors.Is(err, domain.ErrConversationNotFound) {
		t.Errorf("error = %v, want ErrConversationNotFound", err)
	}
}

func TestOpenStreamCloseStopsReader(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	client := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		io.WriteString(w, "data: {\"type\":\"thinking\",\"content\":\"first\"}\n\n")
		flusher.Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})

	sub, err := client.OpenStream(context.Background(), "tok-3")
	if err != nil {
		t.Fatalf("OpenStream returned error: %v", err)
	}

	select {
	case <-sub.Frames():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first frame")
	}

	sub.Close()
	sub.Close() // idempotent

	select {
	case _, ok := <-sub.Frames():
		if ok {
			// Drain any frame already buffered before cancellation landed.
			for range sub.Frames() {
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frames channel did not close after Close")
	}

	// A deliberate close must not surface as a transport error.
	if err := sub.Err(); err != nil {
		t.Errorf("unexpected error after Close: %v", err)
	}
}

func TestOpenStreamTransportFailureSetsErr(t *testing.T) {
	client := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Content-Length", "4096") // promise more than we send
		io.WriteString(w, "data: {\"type\":\"thinking\",\"content\":\"x\"}\n\n")
		w.(http.Flusher).Flush()
		// Hijack and slam the connection mid-body.
		conn, _, err := w.(http.Hijacker).Hijack()
		if err != nil {
			t.Errorf("hijack: %v", err)
			return
		}
		conn.Close()
	})

	sub, err := client.OpenStream(context.Background(), "tok-4")
	if err != nil {
		t.Fatalf("OpenStream returned error: %v", err)
	}
	defer sub.Close()

	collectFrames(t, sub)
	if err := sub.Err(); !errors.Is(err, domain.ErrTransport) {
		t.Errorf("error = %v, want ErrTransport", err)
	}
}

func TestOpenStreamOversizedLineSetsErr(t *testing.T) {
	client := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: {\"type\":\"llm_response\",\"content\":\"%s\"}\n\n",
			make([]byte, maxFrameSize+1))
	})

	sub, err := client.OpenStream(context.Background(), "tok-5")
	if err != nil {
		t.Fatalf("OpenStream returned error: %v", err)
	}
	defer sub.Close()

	collectFrames(t, sub)
	if err := sub.Err(); !errors.Is(err, domain.ErrTransport) {
		t.Errorf("error = %v, want ErrTransport", err)
	}
}
