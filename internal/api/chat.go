package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strings"

	"github.com/babandeep/portfolio-chat/internal/llm"
	"github.com/babandeep/portfolio-chat/internal/rag"
)

// maxChatBodyBytes caps the chat request body. Conversations are short
// text; anything near this size is abuse.
const maxChatBodyBytes = 1 << 20

// Answerer produces the streaming answer for a conversation.
type Answerer interface {
	Answer(ctx context.Context, conversation []llm.Message) (iter.Seq2[string, error], error)
}

// ChatRequest is the wire format posted by the browser chat widget.
type ChatRequest struct {
	Messages []WireMessage `json:"messages"`
}

// WireMessage is one conversation turn on the wire. Text is carried in
// typed parts; only "text" parts are meaningful here.
type WireMessage struct {
	Role  string     `json:"role"`
	Parts []WirePart `json:"parts"`
}

// WirePart is one content part of a message.
type WirePart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// chatHandler relays the orchestrated answer stream to the client.
type chatHandler struct {
	answerer Answerer
	logger   *slog.Logger
}

// handleChat handles POST /api/chat: validate the wire conversation,
// run the pipeline, and relay the token stream as plain text.
func (h *chatHandler) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("invalid request body: %v", err), h.logger)
		return
	}

	conversation, err := toConversation(req)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error(), h.logger)
		return
	}

	stream, err := h.answerer.Answer(r.Context(), conversation)
	if err != nil {
		h.writeAnswerError(w, err)
		return
	}

	h.relay(w, r, stream)
}

// writeAnswerError maps pre-stream pipeline failures to status codes.
// Validation failures are the client's fault; everything else is an
// upstream dependency problem.
func (h *chatHandler) writeAnswerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rag.ErrEmptyConversation), errors.Is(err, rag.ErrNoUserTurn):
		WriteError(w, http.StatusBadRequest, "invalid_conversation", err.Error(), h.logger)
	case errors.Is(err, rag.ErrUpstream):
		h.logger.Error("answer pipeline failed", "error", err)
		WriteError(w, http.StatusBadGateway, "upstream_error", "upstream service failed", h.logger)
	default:
		h.logger.Error("answer pipeline failed", "error", err)
		WriteError(w, http.StatusInternalServerError, "internal_error", "internal server error", h.logger)
	}
}

// relay writes the token stream to the client, flushing after every
// chunk so tokens render as they arrive. Once the first chunk is out
// the status is fixed; a mid-stream upstream failure aborts the
// connection so the client's read fails instead of ending at a clean
// EOF that looks like a complete answer.
func (h *chatHandler) relay(w http.ResponseWriter, r *http.Request, stream iter.Seq2[string, error]) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")

	rc := http.NewResponseController(w)
	ctx := r.Context()

	for chunk, err := range stream {
		if err != nil {
			h.logger.Error("stream interrupted", "error", err)
			panic(http.ErrAbortHandler)
		}
		if ctx.Err() != nil {
			h.logger.Debug("client disconnected mid-stream")
			return
		}
		if _, err := fmt.Fprint(w, chunk); err != nil {
			h.logger.Debug("failed to write chunk", "error", err)
			return
		}
		if err := rc.Flush(); err != nil {
			h.logger.Debug("failed to flush chunk", "error", err)
			return
		}
	}
}

// toConversation validates the wire request and flattens it into model
// turns. Roles are limited to user and assistant; each message must
// carry at least one non-empty text part. Multiple text parts are
// joined with a single space.
func toConversation(req ChatRequest) ([]llm.Message, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("messages must not be empty")
	}

	conversation := make([]llm.Message, 0, len(req.Messages))
	for i, m := range req.Messages {
		if m.Role != llm.RoleUser && m.Role != llm.RoleAssistant {
			return nil, fmt.Errorf("messages[%d]: unsupported role %q", i, m.Role)
		}

		var texts []string
		for _, p := range m.Parts {
			if p.Type != "text" {
				continue
			}
			if t := strings.TrimSpace(p.Text); t != "" {
				texts = append(texts, t)
			}
		}
		if len(texts) == 0 {
			return nil, fmt.Errorf("messages[%d]: no text content", i)
		}

		conversation = append(conversation, llm.Message{
			Role:    m.Role,
			Content: strings.Join(texts, " "),
		})
	}
	return conversation, nil
}
