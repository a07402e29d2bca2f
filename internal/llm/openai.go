// Package llm wraps the OpenAI API for the two operations the chat
// pipeline needs: embedding a query and streaming a chat completion.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/sashabaranov/go-openai"
)

// Message is one conversation turn as sent to the generation model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Conversation roles accepted on the wire.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Config for the OpenAI client.
type Config struct {
	APIKey     string
	BaseURL    string // Optional override, used by tests and proxies
	ChatModel  string // e.g. "gpt-3.5-turbo"
	EmbedModel string // e.g. "text-embedding-3-small"
}

// Client calls the OpenAI embeddings and chat-completions APIs.
type Client struct {
	api        *openai.Client
	chatModel  string
	embedModel string
}

// New creates a Client from config.
func New(cfg Config) *Client {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	return &Client{
		api:        openai.NewClientWithConfig(apiCfg),
		chatModel:  cfg.ChatModel,
		embedModel: cfg.EmbedModel,
	}
}

// Embed returns the embedding vector for a single text.
// Not retried: the caller treats failure as fatal for its request.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(c.embedModel),
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedding: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, errors.New("embedding response contained no vector")
	}
	return resp.Data[0].Embedding, nil
}

// StreamChat starts a streaming chat completion with the given system
// prompt and conversation, returning the token deltas as an iterator.
// The HTTP request is not made until the iterator is consumed; the
// upstream stream is closed when the consumer stops, so breaking out of
// the range releases the connection.
func (c *Client) StreamChat(ctx context.Context, system string, conversation []Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		msgs := make([]openai.ChatCompletionMessage, 0, len(conversation)+1)
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
		for _, m := range conversation {
			msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
		}

		stream, err := c.api.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
			Model:    c.chatModel,
			Messages: msgs,
			Stream:   true,
		})
		if err != nil {
			yield("", fmt.Errorf("starting chat completion stream: %w", err))
			return
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", fmt.Errorf("reading chat completion stream: %w", err))
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			if !yield(delta, nil) {
				return
			}
		}
	}
}
