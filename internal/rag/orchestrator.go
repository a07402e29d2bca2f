package rag

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/babandeep/portfolio-chat/internal/knowledge"
	"github.com/babandeep/portfolio-chat/internal/llm"
)

// Retrieval and prompt defaults. TopK matches the portfolio collection's
// size/recall tradeoff; the prompt lives in Langfuse under PromptName.
const (
	DefaultTopK       = 5
	DefaultPromptName = "portfolio-assistant"
)

// Span names emitted per request.
const (
	spanRequest    = "portfolio-ai-query"
	spanEmbedding  = "generate-embedding"
	spanRetrieval  = "vector-query"
	spanGeneration = "assistant-response"
)

var (
	// ErrEmptyConversation indicates the request carried no turns.
	ErrEmptyConversation = errors.New("conversation is empty")

	// ErrNoUserTurn indicates the conversation does not end with a
	// non-empty user turn.
	ErrNoUserTurn = errors.New("conversation must end with a user turn")

	// ErrUpstream wraps failures of the embedding, retrieval, or prompt
	// collaborators during the pre-stream phase.
	ErrUpstream = errors.New("upstream service failed")
)

// Embedder turns text into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever finds the nearest stored documents for an embedding.
type Retriever interface {
	Search(ctx context.Context, embedding []float32, limit int) ([]knowledge.Result, error)
}

// PromptRenderer fetches and compiles a named prompt template.
type PromptRenderer interface {
	Render(ctx context.Context, name string, vars map[string]string) (string, error)
}

// Generator streams a chat completion for a system prompt and conversation.
type Generator interface {
	StreamChat(ctx context.Context, system string, conversation []llm.Message) iter.Seq2[string, error]
}

// Config for the Orchestrator. Embedder, Retriever, PromptRenderer, and
// Generator are required; the rest default sensibly.
type Config struct {
	Embedder       Embedder
	Retriever      Retriever
	PromptRenderer PromptRenderer
	Generator      Generator
	Logger         *slog.Logger
	Tracer         trace.Tracer // Defaults to the global provider's tracer
	TopK           int
	PromptName     string
	ChatModel      string // Recorded on the generation span
}

// Orchestrator runs the embed → retrieve → render → generate pipeline
// for one conversation at a time. It holds no per-request state and is
// safe for concurrent use.
type Orchestrator struct {
	embedder   Embedder
	retriever  Retriever
	prompts    PromptRenderer
	generator  Generator
	logger     *slog.Logger
	tracer     trace.Tracer
	topK       int
	promptName string
	chatModel  string
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if cfg.Retriever == nil {
		return nil, errors.New("retriever is required")
	}
	if cfg.PromptRenderer == nil {
		return nil, errors.New("prompt renderer is required")
	}
	if cfg.Generator == nil {
		return nil, errors.New("generator is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("portfolio-chat/rag")
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	promptName := cfg.PromptName
	if promptName == "" {
		promptName = DefaultPromptName
	}

	return &Orchestrator{
		embedder:   cfg.Embedder,
		retriever:  cfg.Retriever,
		prompts:    cfg.PromptRenderer,
		generator:  cfg.Generator,
		logger:     logger,
		tracer:     tracer,
		topK:       topK,
		promptName: promptName,
		chatModel:  cfg.ChatModel,
	}, nil
}

// Answer runs the pre-stream pipeline steps and returns the token
// stream for the assistant's reply.
//
// The steps are strictly sequential: generation never starts before
// embedding and retrieval complete. Failures before the stream begins
// are returned directly so the HTTP layer can still pick a status code.
//
// The returned stream must be consumed: once streaming starts, only the
// iterator's cleanup ends the request trace. Ranging over it, even
// partially, guarantees the trace ends exactly once: on completion, on
// stream error, and when the consumer stops early (client disconnect).
// Dropping the iterator without ranging leaks the open trace.
func (o *Orchestrator) Answer(ctx context.Context, conversation []llm.Message) (iter.Seq2[string, error], error) {
	query, err := lastUserTurn(conversation)
	if err != nil {
		return nil, err
	}

	ctx, root := o.tracer.Start(ctx, spanRequest)
	streaming := false
	defer func() {
		// The iterator owns ending the root span once streaming starts.
		if !streaming {
			root.End()
		}
	}()

	embedding, err := o.embedQuery(ctx, query)
	if err != nil {
		root.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	docs, err := o.retrieve(ctx, embedding)
	if err != nil {
		root.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	system, err := o.prompts.Render(ctx, o.promptName, map[string]string{
		"context": joinDescriptions(docs),
	})
	if err != nil {
		root.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: rendering prompt %q: %w", ErrUpstream, o.promptName, err)
	}

	// Lazy: the generation request is not sent until the relay consumes
	// the iterator.
	upstream := o.generator.StreamChat(ctx, system, conversation)
	streaming = true

	stream := func(yield func(string, error) bool) {
		_, gen := o.tracer.Start(ctx, spanGeneration,
			trace.WithAttributes(attribute.String("gen_ai.request.model", o.chatModel)))

		var output strings.Builder
		defer func() {
			gen.SetAttributes(attribute.String("gen_ai.completion", output.String()))
			gen.End()
			root.End()
		}()

		for chunk, err := range upstream {
			if err != nil {
				gen.RecordError(err)
				gen.SetStatus(codes.Error, err.Error())
				root.SetStatus(codes.Error, "generation stream failed")
				o.logger.Warn("generation stream failed", "error", err)
				yield("", fmt.Errorf("%w: %w", ErrUpstream, err))
				return
			}
			output.WriteString(chunk)
			if !yield(chunk, nil) {
				// Consumer stopped (client disconnect); deferred cleanup
				// still closes the spans.
				return
			}
		}
	}
	return stream, nil
}

func (o *Orchestrator) embedQuery(ctx context.Context, query string) ([]float32, error) {
	ctx, span := o.tracer.Start(ctx, spanEmbedding)
	defer span.End()

	vec, err := o.embedder.Embed(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: embedding query: %w", ErrUpstream, err)
	}
	span.SetAttributes(attribute.Int("vector.length", len(vec)))
	return vec, nil
}

func (o *Orchestrator) retrieve(ctx context.Context, embedding []float32) ([]knowledge.Result, error) {
	ctx, span := o.tracer.Start(ctx, spanRetrieval)
	defer span.End()

	docs, err := o.retriever.Search(ctx, embedding, o.topK)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: vector search: %w", ErrUpstream, err)
	}
	span.SetAttributes(attribute.Int("result.count", len(docs)))
	return docs, nil
}

// lastUserTurn validates the conversation and returns the text of its
// final turn, which must be a non-empty user turn.
func lastUserTurn(conversation []llm.Message) (string, error) {
	if len(conversation) == 0 {
		return "", ErrEmptyConversation
	}
	last := conversation[len(conversation)-1]
	if last.Role != llm.RoleUser || strings.TrimSpace(last.Content) == "" {
		return "", ErrNoUserTurn
	}
	return last.Content, nil
}

// joinDescriptions builds the prompt context slot: document descriptions
// newline-joined, empty string when nothing was retrieved.
func joinDescriptions(docs []knowledge.Result) string {
	if len(docs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		parts = append(parts, d.Document.Description)
	}
	return strings.Join(parts, "\n")
}
