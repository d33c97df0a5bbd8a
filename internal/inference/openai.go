package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/flow23flow23/artistrm-360-sub002/internal/domain"
	"github.com/sashabaranov/go-openai"
)

// DefaultSystemPrompt frames the model as the artist-management assistant.
const DefaultSystemPrompt = "You are Zeus, the assistant of an artist-management platform. " +
	"Answer briefly and in the language the user writes in."

// OpenAIConfig configures the chat-completions client.
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	SystemPrompt   string
	MaxTokens      int
	Temperature    float32
	HistoryLimit   int
	RequestTimeout time.Duration
}

// OpenAIClient generates replies with an OpenAI-compatible chat endpoint.
type OpenAIClient struct {
	client *openai.Client
	cfg    OpenAIConfig
	logger *slog.Logger
}

// NewOpenAIClient creates a client. It performs no network I/O.
func NewOpenAIClient(cfg OpenAIConfig, logger *slog.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai API key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(oc),
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Generate sends the bounded history plus the prompt as one completion.
func (c *OpenAIClient) Generate(ctx context.Context, req Request) (Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	messages := []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: c.cfg.SystemPrompt}}
	for _, t := range BoundHistory(req.History, c.cfg.HistoryLimit) {
		role := openai.ChatMessageRoleUser
		if t.Role == domain.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: t.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		User:        req.UserID,
	})
	if err != nil {
		mapped := mapOpenAIError(err)
		c.logger.Warn("Inference request failed",
			"request_id", req.RequestID,
			"session_id", req.SessionID,
			"model", c.cfg.Model,
			"error", err,
		)
		return Reply{}, mapped
	}

	if len(resp.Choices) == 0 {
		return Reply{}, fmt.Errorf("%w: no choices returned", ErrRemote)
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return Reply{}, fmt.Errorf("%w: empty response", ErrRemote)
	}
	return Reply{MessageID: resp.ID, Text: text}, nil
}

func mapOpenAIError(err error) error {
	if mapped := classifyContext(err); mapped != nil {
		return fmt.Errorf("%w: %w", mapped, err)
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %w", ErrAuth, err)
		case http.StatusGatewayTimeout, http.StatusRequestTimeout:
			return fmt.Errorf("%w: %w", ErrTimeout, err)
		}
	}
	return fmt.Errorf("%w: %w", ErrRemote, err)
}

var _ Client = (*OpenAIClient)(nil)
