// Package llm wraps the chat completion vendor: tool routing for a question
// and streamed answers, both retried on transient failures.
package llm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/omniplex-ai/omniplex/internal/app/domain/chat"
	"github.com/omniplex-ai/omniplex/internal/logging"
	"github.com/omniplex-ai/omniplex/internal/metrics"
	"github.com/omniplex-ai/omniplex/internal/resilience"
)

// DefaultToolModel is the model used to pick a tool for a question.
const DefaultToolModel = "gpt-3.5-turbo-0125"

// ImageModel answers chats in image mode.
const ImageModel = "gpt-4o"

// Config configures the vendor client.
type Config struct {
	APIKey     string
	BaseURL    string
	ToolModel  string
	HTTPClient *http.Client
	// Retry overrides resilience.StreamRetryConfig.
	Retry *resilience.RetryConfig
}

// Client talks to an OpenAI-compatible chat completion API.
type Client struct {
	api       *openai.Client
	toolModel string
	retry     resilience.RetryConfig
	logger    *logging.Logger
}

// New creates a client. It returns nil when no API key is configured so
// callers can answer "not configured" without a round trip.
func New(cfg Config, logger *logging.Logger) *Client {
	if cfg.APIKey == "" {
		return nil
	}
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		apiCfg.HTTPClient = cfg.HTTPClient
	}
	if cfg.ToolModel == "" {
		cfg.ToolModel = DefaultToolModel
	}
	retry := resilience.StreamRetryConfig()
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &Client{
		api:       openai.NewClientWithConfig(apiCfg),
		toolModel: cfg.ToolModel,
		retry:     retry,
		logger:    logger,
	}
}

// Route is the tool picked for a question. Arg is the raw JSON arguments of
// the tool call, empty for plain chat.
type Route struct {
	Mode string `json:"mode"`
	Arg  string `json:"arg"`
}

// Route asks the model which tool, if any, answers the conversation.
func (c *Client) Route(ctx context.Context, messages []chat.Message) (Route, error) {
	start := time.Now()
	req := openai.ChatCompletionRequest{
		Model:      c.toolModel,
		Messages:   toVendor(messages),
		Tools:      Tools(),
		ToolChoice: "auto",
	}

	var resp openai.ChatCompletionResponse
	err := resilience.Retry(ctx, c.retry, func(ctx context.Context) error {
		var err error
		resp, err = c.api.CreateChatCompletion(ctx, req)
		return c.classify(ctx, "route", err)
	})
	if err != nil {
		metrics.RecordLLMRequest("route", "error", time.Since(start))
		return Route{}, err
	}
	metrics.RecordLLMRequest("route", "ok", time.Since(start))

	if len(resp.Choices) == 0 || len(resp.Choices[0].Message.ToolCalls) == 0 {
		return Route{Mode: chat.ModeChat}, nil
	}
	call := resp.Choices[0].Message.ToolCalls[0].Function
	return Route{Mode: call.Name, Arg: call.Arguments}, nil
}

// CompletionRequest is the body of a streamed completion, in the vendor's
// field names.
type CompletionRequest struct {
	Messages         []chat.Message `json:"messages"`
	Model            string         `json:"model"`
	Temperature      float32        `json:"temperature"`
	MaxTokens        int            `json:"max_tokens"`
	TopP             float32        `json:"top_p"`
	FrequencyPenalty float32        `json:"frequency_penalty"`
	PresencePenalty  float32        `json:"presence_penalty"`
}

// DeltaFunc receives each streamed content fragment. Returning an error
// stops the stream.
type DeltaFunc func(delta string) error

// Stream runs a streamed completion and calls onDelta per fragment. Only
// establishing the stream is retried; once deltas flow a failure ends the
// call. The accumulated answer is returned even on error so callers can
// keep a partial answer.
func (c *Client) Stream(ctx context.Context, req CompletionRequest, onDelta DeltaFunc) (string, error) {
	start := time.Now()
	vendorReq := openai.ChatCompletionRequest{
		Model:            req.Model,
		Messages:         toVendor(req.Messages),
		Temperature:      req.Temperature,
		MaxTokens:        req.MaxTokens,
		TopP:             req.TopP,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
		Stream:           true,
	}

	var stream *openai.ChatCompletionStream
	err := resilience.Retry(ctx, c.retry, func(ctx context.Context) error {
		var err error
		stream, err = c.api.CreateChatCompletionStream(ctx, vendorReq)
		return c.classify(ctx, "stream", err)
	})
	if err != nil {
		metrics.RecordLLMRequest("stream", "error", time.Since(start))
		return "", err
	}
	defer stream.Close()

	var answer strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			outcome := "error"
			if ctx.Err() != nil {
				outcome = "canceled"
				err = ctx.Err()
			}
			metrics.RecordLLMRequest("stream", outcome, time.Since(start))
			return answer.String(), err
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		answer.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				metrics.RecordLLMRequest("stream", "canceled", time.Since(start))
				return answer.String(), err
			}
		}
	}

	metrics.RecordLLMRequest("stream", "ok", time.Since(start))
	return answer.String(), nil
}

// classify marks errors that must not be retried.
func (c *Client) classify(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return resilience.Permanent(err)
	}
	status := StatusCode(err)
	if status != 0 && !c.retry.IsRetryableStatus(status) {
		return resilience.Permanent(err)
	}
	c.logger.WithContext(ctx).WithError(err).WithField("operation", op).Warn("LLM request failed, retrying")
	return err
}

// StatusCode extracts the vendor HTTP status from err, or 0.
func StatusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// ErrorMessage returns the vendor's message for API errors and fallback
// otherwise.
func ErrorMessage(err error, fallback string) string {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}

func toVendor(messages []chat.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		out[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	return out
}
