package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"parley/internal/domain"
	"parley/internal/infra/config"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := New(config.GatewayConfig{
		BaseURL: server.URL,
		APIKey:  "test-key",
	}, newTestLogger())
	return client, server
}

func TestStartStream(t *testing.T) {
	var gotReq domain.StreamRequest

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		if r.URL.Path != "/api/chat/stream" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth: %s", r.Header.Get("Authorization"))
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content-type: %s", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}

		json.NewEncoder(w).Encode(domain.StreamHandle{ConversationID: 42, StreamToken: "tok-abc"})
	}))

	handle, err := client.StartStream(context.Background(), domain.StreamRequest{
		Messages:  []domain.OutgoingMessage{{Role: domain.RoleUser, Content: "hello"}},
		ModelID:   "gpt-4o",
		AgentType: "chat",
	})
	if err != nil {
		t.Fatalf("StartStream returned error: %v", err)
	}
	if handle.ConversationID != 42 {
		t.Errorf("conversation id = %d, want 42", handle.ConversationID)
	}
	if handle.StreamToken != "tok-abc" {
		t.Errorf("stream token = %q, want tok-abc", handle.StreamToken)
	}
	if gotReq.ModelID != "gpt-4o" {
		t.Errorf("request model = %q, want gpt-4o", gotReq.ModelID)
	}
	if len(gotReq.Messages) != 1 || gotReq.Messages[0].Content != "hello" {
		t.Errorf("unexpected request messages: %+v", gotReq.Messages)
	}
}

func TestStatusErrorMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, domain.ErrAuthInvalid},
		{http.StatusForbidden, domain.ErrAuthInvalid},
		{http.StatusNotFound, domain.ErrConversationNotFound},
		{http.StatusTooManyRequests, domain.ErrRateLimit},
		{http.StatusInternalServerError, domain.ErrGatewayUnavailable},
		{http.StatusBadGateway, domain.ErrGatewayUnavailable},
		{http.StatusBadRequest, domain.ErrInvalidInput},
	}

	for _, tt := range tests {
		status := tt.status
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", status)
		}))

		_, err := client.Conversations(context.Background())
		if !errors.Is(err, tt.want) {
			t.Errorf("status %d: error = %v, want %v", tt.status, err, tt.want)
		}
	}
}

func TestUploadFile(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/files" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mediaType != "multipart/form-data" {
			t.Errorf("unexpected content-type: %s", r.Header.Get("Content-Type"))
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.FormValue("conversationId"); got != "7" {
			t.Errorf("conversationId = %q, want 7", got)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer file.Close()
		if header.Filename != "notes.txt" {
			t.Errorf("filename = %q, want notes.txt", header.Filename)
		}
		data, _ := io.ReadAll(file)
		if string(data) != "file body" {
			t.Errorf("file body = %q", data)
		}

		json.NewEncoder(w).Encode(domain.Attachment{
			ID:   "att-1",
			Name: "notes.txt",
			Type: "text/plain",
		})
	}))

	att, err := client.UploadFile(context.Background(), domain.LocalFile{
		Name: "notes.txt",
		MIME: "text/plain",
		Data: []byte("file body"),
	}, 7)
	if err != nil {
		t.Fatalf("UploadFile returned error: %v", err)
	}
	if att.ID != "att-1" || att.Name != "notes.txt" {
		t.Errorf("unexpected attachment: %+v", att)
	}
}

func TestTimelineDecodesEnvelope(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/conversations/9/timeline" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		io.WriteString(w, `[
			{"type":"message","data":{"id":1,"content":"hi","role":"user","timestamp":"2026-08-01T10:00:00Z"}},
			{"type":"execution_step","data":{"id":2,"executionId":5,"stepType":"thinking","content":"...","stepOrder":0,"createdAt":"2026-08-01T10:00:01Z","execution":{"id":5,"agentType":"coder","triggeringMessageId":1}}}
		]`)
	}))

	items, err := client.Timeline(context.Background(), 9)
	if err != nil {
		t.Fatalf("Timeline returned error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].Type != domain.TimelineItemMessage || items[0].Message == nil || items[0].Message.Content != "hi" {
		t.Errorf("unexpected first item: %+v", items[0])
	}
	if items[1].Type != domain.TimelineItemExecutionStep || items[1].Step == nil {
		t.Fatalf("unexpected second item: %+v", items[1])
	}
	if items[1].Step.ExecutionID != 5 {
		t.Errorf("execution id = %d, want 5", items[1].Step.ExecutionID)
	}
	if items[1].Step.Execution.TriggeringMessageID == nil || *items[1].Step.Execution.TriggeringMessageID != 1 {
		t.Errorf("unexpected execution ref: %+v", items[1].Step.Execution)
	}
}

func TestStopStream(t *testing.T) {
	var called bool
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/stream/tok-abc/stop" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		called = true
		w.WriteHeader(http.StatusNoContent)
	}))

	if err := client.StopStream(context.Background(), "tok-abc"); err != nil {
		t.Fatalf("StopStream returned error: %v", err)
	}
	if !called {
		t.Error("stop endpoint was not called")
	}
}

func TestDeleteConversation(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("unexpected method: %s", r.Method)
		}
		if r.URL.Path != "/api/conversations/3" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	if err := client.DeleteConversation(context.Background(), 3); err != nil {
		t.Fatalf("DeleteConversation returned error: %v", err)
	}
}

func TestRequestTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	t.Cleanup(server.Close)

	client := New(config.GatewayConfig{
		BaseURL:        server.URL,
		RequestTimeout: 50 * time.Millisecond,
	}, newTestLogger())

	start := time.Now()
	_, err := client.Conversations(context.Background())
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("request took %v, timeout did not fire", elapsed)
	}
}
