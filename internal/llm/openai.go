package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/anicolao/morpheum/internal/buildinfo"
	"github.com/anicolao/morpheum/internal/httpkit"
)

// OpenAIClient streams chat completions from OpenAI or any endpoint that
// speaks the same protocol.
type OpenAIClient struct {
	api    openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAIClient creates a client for model. A nil httpClient gets a
// streaming-safe default; an empty baseURL uses the library default.
func NewOpenAIClient(apiKey, model, baseURL string, httpClient *http.Client, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	if httpClient == nil {
		httpClient = httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithUserAgent(buildinfo.ServiceUserAgent("openai")),
			httpkit.WithRetry(2, time.Second),
			httpkit.WithLogger(logger),
		)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(apiKey)),
		option.WithHTTPClient(httpClient),
	}
	if b := strings.TrimSpace(baseURL); b != "" {
		opts = append(opts, option.WithBaseURL(b))
	}

	return &OpenAIClient{
		api:    openai.NewClient(opts...),
		model:  model,
		logger: logger.With("provider", "openai"),
	}
}

// Model returns the configured model name.
func (c *OpenAIClient) Model() string { return c.model }

// SendStreaming sends prompt as a single user message.
func (c *OpenAIClient) SendStreaming(ctx context.Context, prompt string, onChunk StreamCallback) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
	}

	c.logger.Log(ctx, LevelTrace, "openai request", "model", c.model, "prompt", prompt)
	start := time.Now()

	stream := c.api.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var out strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		out.WriteString(delta)
		if onChunk != nil {
			onChunk(TextChunk(delta))
		}
	}
	if err := stream.Err(); err != nil {
		return "", fmt.Errorf("openai stream: %w", err)
	}

	c.logger.Debug("openai response complete",
		"model", c.model,
		"chars", out.Len(),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return out.String(), nil
}
