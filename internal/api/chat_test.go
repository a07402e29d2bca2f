package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/babandeep/portfolio-chat/internal/llm"
	"github.com/babandeep/portfolio-chat/internal/rag"
)

// fakeAnswerer returns a canned stream, or an error before streaming.
type fakeAnswerer struct {
	chunks    []string
	streamErr error
	preErr    error
	gotTurns  []llm.Message
}

func (f *fakeAnswerer) Answer(_ context.Context, conversation []llm.Message) (iter.Seq2[string, error], error) {
	f.gotTurns = conversation
	if f.preErr != nil {
		return nil, f.preErr
	}
	return func(yield func(string, error) bool) {
		for _, c := range f.chunks {
			if !yield(c, nil) {
				return
			}
		}
		if f.streamErr != nil {
			yield("", f.streamErr)
		}
	}, nil
}

// flushRecorder snapshots the body at every Flush so tests can verify
// chunks were delivered incrementally, not buffered until the end.
type flushRecorder struct {
	*httptest.ResponseRecorder
	snapshots []string
}

func newFlushRecorder() *flushRecorder {
	return &flushRecorder{ResponseRecorder: httptest.NewRecorder()}
}

func (f *flushRecorder) Flush() {
	f.snapshots = append(f.snapshots, f.Body.String())
}

func chatBody(texts ...string) string {
	var msgs []string
	for i, text := range texts {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		msgs = append(msgs, fmt.Sprintf(`{"role":%q,"parts":[{"type":"text","text":%q}]}`, role, text))
	}
	return `{"messages":[` + strings.Join(msgs, ",") + `]}`
}

func postChat(t *testing.T, h *chatHandler, body string) *flushRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	w := newFlushRecorder()
	h.handleChat(w, r)
	return w
}

func TestHandleChatStreamsChunks(t *testing.T) {
	answerer := &fakeAnswerer{chunks: []string{"Hello", " world"}}
	h := &chatHandler{answerer: answerer, logger: slog.Default()}

	w := postChat(t, h, chatBody("hi there"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/plain; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if got := w.Body.String(); got != "Hello world" {
		t.Errorf("body = %q, want %q", got, "Hello world")
	}

	// Each chunk is flushed as it arrives, cumulatively.
	want := []string{"Hello", "Hello world"}
	if len(w.snapshots) != len(want) {
		t.Fatalf("flush count = %d, want %d (snapshots %v)", len(w.snapshots), len(want), w.snapshots)
	}
	for i := range want {
		if w.snapshots[i] != want[i] {
			t.Errorf("snapshot %d = %q, want %q", i, w.snapshots[i], want[i])
		}
	}
}

func TestHandleChatForwardsConversation(t *testing.T) {
	answerer := &fakeAnswerer{chunks: []string{"ok"}}
	h := &chatHandler{answerer: answerer, logger: slog.Default()}

	postChat(t, h, chatBody("what did you build", "a chat service", "tell me more"))

	want := []llm.Message{
		{Role: "user", Content: "what did you build"},
		{Role: "assistant", Content: "a chat service"},
		{Role: "user", Content: "tell me more"},
	}
	if len(answerer.gotTurns) != len(want) {
		t.Fatalf("conversation length = %d, want %d", len(answerer.gotTurns), len(want))
	}
	for i := range want {
		if answerer.gotTurns[i] != want[i] {
			t.Errorf("turn %d = %+v, want %+v", i, answerer.gotTurns[i], want[i])
		}
	}
}

func TestHandleChatJoinsTextParts(t *testing.T) {
	answerer := &fakeAnswerer{chunks: []string{"ok"}}
	h := &chatHandler{answerer: answerer, logger: slog.Default()}

	body := `{"messages":[{"role":"user","parts":[
		{"type":"text","text":"first"},
		{"type":"image","text":"ignored"},
		{"type":"text","text":"second"}
	]}]}`
	postChat(t, h, body)

	if len(answerer.gotTurns) != 1 {
		t.Fatalf("conversation length = %d, want 1", len(answerer.gotTurns))
	}
	if got := answerer.gotTurns[0].Content; got != "first second" {
		t.Errorf("content = %q, want %q", got, "first second")
	}
}

func TestHandleChatValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{broken`},
		{"empty messages", `{"messages":[]}`},
		{"missing messages", `{}`},
		{"unsupported role", `{"messages":[{"role":"system","parts":[{"type":"text","text":"x"}]}]}`},
		{"no text parts", `{"messages":[{"role":"user","parts":[{"type":"image","text":""}]}]}`},
		{"blank text", `{"messages":[{"role":"user","parts":[{"type":"text","text":"   "}]}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			answerer := &fakeAnswerer{chunks: []string{"nope"}}
			h := &chatHandler{answerer: answerer, logger: slog.Default()}

			w := postChat(t, h, tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			if answerer.gotTurns != nil {
				t.Error("answerer must not be called for invalid requests")
			}
		})
	}
}

func TestHandleChatValidationErrorsFromPipeline(t *testing.T) {
	h := &chatHandler{
		answerer: &fakeAnswerer{preErr: rag.ErrNoUserTurn},
		logger:   slog.Default(),
	}

	w := postChat(t, h, chatBody("hi", "hello"))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHandleChatUpstreamFailureBeforeStream(t *testing.T) {
	h := &chatHandler{
		answerer: &fakeAnswerer{preErr: fmt.Errorf("%w: embedding query: quota", rag.ErrUpstream)},
		logger:   slog.Default(),
	}

	w := postChat(t, h, chatBody("hi"))
	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadGateway)
	}
	if !strings.Contains(w.Body.String(), "upstream_error") {
		t.Errorf("body = %q, want upstream_error", w.Body.String())
	}
}

func TestHandleChatUnknownFailureBeforeStream(t *testing.T) {
	h := &chatHandler{
		answerer: &fakeAnswerer{preErr: errors.New("boom")},
		logger:   slog.Default(),
	}

	w := postChat(t, h, chatBody("hi"))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestHandleChatMidStreamErrorAbortsConnection(t *testing.T) {
	h := &chatHandler{
		answerer: &fakeAnswerer{chunks: []string{"partial "}, streamErr: errors.New("stream reset")},
		logger:   slog.Default(),
	}
	srv := httptest.NewServer(recoveryMiddleware(slog.Default())(http.HandlerFunc(h.handleChat)))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/chat", "application/json", strings.NewReader(chatBody("hi")))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	// The status was committed as 200 with the first chunk; the abort
	// shows up as a failed body read, never a clean EOF.
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, readErr := io.ReadAll(resp.Body)
	if readErr == nil {
		t.Fatal("body read succeeded, want an error distinguishing truncation from completion")
	}
	if got := string(body); got != "partial " {
		t.Errorf("partial body = %q, want %q", got, "partial ")
	}
}

func TestHandleChatOversizedBody(t *testing.T) {
	answerer := &fakeAnswerer{}
	h := &chatHandler{answerer: answerer, logger: slog.Default()}

	big := chatBody(strings.Repeat("a", maxChatBodyBytes))
	w := postChat(t, h, big)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}
