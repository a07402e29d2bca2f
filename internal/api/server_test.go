package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/babandeep/portfolio-chat/internal/rag"
)

type fakeIngestor struct {
	got []rag.SourceDocument
	res rag.IngestResult
	err error
}

func (f *fakeIngestor) Ingest(_ context.Context, docs []rag.SourceDocument) (rag.IngestResult, error) {
	f.got = docs
	return f.res, f.err
}

func newTestServer(t *testing.T, cfg ServerConfig) *Server {
	t.Helper()
	s, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	return s
}

func TestNewServerRequiresAnswerer(t *testing.T) {
	if _, err := NewServer(ServerConfig{}); err == nil {
		t.Error("NewServer() with no answerer should fail")
	}
}

func TestServerChatEndToEnd(t *testing.T) {
	s := newTestServer(t, ServerConfig{
		Answerer:    &fakeAnswerer{chunks: []string{"hi ", "there"}},
		CORSOrigins: []string{"https://chat.babandeep.in"},
	})

	r := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(chatBody("hello")))
	r.RemoteAddr = "203.0.113.7:51234"
	r.Header.Set("Origin", "https://chat.babandeep.in")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %q)", w.Code, http.StatusOK, w.Body.String())
	}
	if got := w.Body.String(); got != "hi there" {
		t.Errorf("body = %q, want %q", got, "hi there")
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://chat.babandeep.in" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID missing")
	}
}

func TestServerRejectsDisallowedOriginBeforeChat(t *testing.T) {
	answerer := &fakeAnswerer{chunks: []string{"never"}}
	s := newTestServer(t, ServerConfig{
		Answerer:    answerer,
		CORSOrigins: []string{"https://chat.babandeep.in"},
	})

	r := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(chatBody("hello")))
	r.RemoteAddr = "203.0.113.7:51234"
	r.Header.Set("Origin", "https://evil.example")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, r)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
	if answerer.gotTurns != nil {
		t.Error("pipeline must not run for a disallowed origin")
	}
}

func TestServerIngest(t *testing.T) {
	ing := &fakeIngestor{res: rag.IngestResult{DocumentsIngested: 2, ChunksInserted: 3}}
	s := newTestServer(t, ServerConfig{
		Answerer: &fakeAnswerer{},
		Ingestor: ing,
	})

	body := `[{"id":"a","info":"x","description":"d"},{"id":"b","info":"y","description":"e"}]`
	r := httptest.NewRequest(http.MethodPost, "/api/ingest", strings.NewReader(body))
	r.RemoteAddr = "203.0.113.7:51234"
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %q)", w.Code, http.StatusOK, w.Body.String())
	}
	if len(ing.got) != 2 {
		t.Errorf("ingested %d documents, want 2", len(ing.got))
	}
	if !strings.Contains(w.Body.String(), `"documents_ingested":2`) {
		t.Errorf("body = %q, want ingest summary", w.Body.String())
	}
}

func TestServerIngestDisabledWithoutIngestor(t *testing.T) {
	s := newTestServer(t, ServerConfig{Answerer: &fakeAnswerer{}})

	r := httptest.NewRequest(http.MethodPost, "/api/ingest", strings.NewReader(`[]`))
	r.RemoteAddr = "203.0.113.7:51234"
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, r)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestServerHealth(t *testing.T) {
	s := newTestServer(t, ServerConfig{Answerer: &fakeAnswerer{}})

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("GET /health status = %d, want %d", w.Code, http.StatusOK)
	}

	// No pool configured: the service cannot be ready.
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("GET /ready status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestServerUnknownRoute(t *testing.T) {
	s := newTestServer(t, ServerConfig{Answerer: &fakeAnswerer{}})

	r := httptest.NewRequest(http.MethodGet, "/api/nope", nil)
	r.RemoteAddr = "203.0.113.7:51234"
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, r)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
