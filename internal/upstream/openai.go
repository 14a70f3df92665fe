package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/pagesage/pagesage/internal/status"
)

const maxRetries = 8

type openaiOptions struct {
	apiKey    string
	baseURL   string
	model     string
	maxTokens int64
}

type OpenAIOption func(*openaiOptions)

func WithAPIKey(apiKey string) OpenAIOption {
	return func(o *openaiOptions) { o.apiKey = apiKey }
}

func WithBaseURL(baseURL string) OpenAIOption {
	return func(o *openaiOptions) { o.baseURL = baseURL }
}

func WithModel(model string) OpenAIOption {
	return func(o *openaiOptions) { o.model = model }
}

func WithMaxTokens(maxTokens int64) OpenAIOption {
	return func(o *openaiOptions) { o.maxTokens = maxTokens }
}

type openaiGenerator struct {
	options openaiOptions
	client  openai.Client
}

// NewOpenAIGenerator builds a Generator backed by an OpenAI-compatible chat
// completion endpoint.
func NewOpenAIGenerator(opts ...OpenAIOption) Generator {
	options := openaiOptions{
		model:     "gpt-4o-mini",
		maxTokens: 4096,
	}
	for _, o := range opts {
		o(&options)
	}

	clientOptions := []option.RequestOption{}
	if options.apiKey != "" {
		clientOptions = append(clientOptions, option.WithAPIKey(options.apiKey))
	}
	if options.baseURL != "" {
		clientOptions = append(clientOptions, option.WithBaseURL(options.baseURL))
	}

	return &openaiGenerator{
		options: options,
		client:  openai.NewClient(clientOptions...),
	}
}

func (g *openaiGenerator) convertRequest(req Request) []openai.ChatCompletionMessageParamUnion {
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(systemPrompt(req)),
	}

	switch req.Task {
	case TaskAsk:
		if req.InitialContext != "" {
			messages = append(messages, openai.UserMessage(
				fmt.Sprintf("Content of the current %s:\n\n%s", contextLabel(req.ContextType), req.InitialContext),
			))
		}
		for _, turn := range req.ChatHistory {
			if turn.Role == "assistant" {
				messages = append(messages, openai.AssistantMessage(turn.Content))
			} else {
				messages = append(messages, openai.UserMessage(turn.Content))
			}
		}
		messages = append(messages, openai.UserMessage(req.Question))
	default:
		messages = append(messages, openai.UserMessage(
			fmt.Sprintf("Content of the current %s:\n\n%s", contextLabel(req.ContextType), req.Text),
		))
	}

	return messages
}

func contextLabel(contextType string) string {
	if contextType == "" {
		return "page"
	}
	return contextType
}

func (g *openaiGenerator) StreamGeneration(ctx context.Context, req Request) <-chan Event {
	params := openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(g.options.model),
		Messages:  g.convertRequest(req),
		MaxTokens: openai.Int(g.options.maxTokens),
	}

	events := make(chan Event)
	attempts := 0

	go func() {
		defer close(events)
		for {
			attempts++
			stream := g.client.Chat.Completions.NewStreaming(ctx, params)

			accumulated := ""
			for stream.Next() {
				chunk := stream.Current()
				for _, choice := range chunk.Choices {
					if choice.Delta.Content == "" {
						continue
					}
					accumulated += choice.Delta.Content
					select {
					case events <- Event{
						Type:        EventChunk,
						Delta:       choice.Delta.Content,
						Accumulated: accumulated,
					}:
					case <-ctx.Done():
						return
					}
				}
			}

			err := stream.Err()
			if err == nil || errors.Is(err, io.EOF) {
				clean, questions := ExtractSuggestions(accumulated)
				select {
				case events <- Event{
					Type:               EventComplete,
					FinalText:          clean,
					SuggestedQuestions: questions,
				}:
				case <-ctx.Done():
				}
				return
			}

			if ctx.Err() != nil {
				// Cancellation is resolved by the caller, not reported here.
				return
			}

			if isAuthError(err) {
				events <- Event{Type: EventLoginRequired, Error: ErrLoginRequired}
				return
			}

			retry, after, classified := g.shouldRetry(attempts, err)
			if retry {
				if accumulated != "" {
					// A restarted stream regenerates from scratch, so the
					// accumulated text delivered to the caller could shrink.
					// Output that already streamed wins over the retry.
					events <- Event{Type: EventError, Error: partialStreamError(err)}
					return
				}
				duration := time.Duration(after) * time.Millisecond
				status.Warn(fmt.Sprintf("Rate limited, retrying... attempt %d of %d", attempts, maxRetries), status.WithDuration(duration))
				select {
				case <-ctx.Done():
					return
				case <-time.After(duration):
					continue
				}
			}

			events <- Event{Type: EventError, Error: classified}
			return
		}
	}()

	return events
}

// partialStreamError classifies a retryable failure that arrived after
// output already streamed. The accumulated text grows monotonically for the
// life of a generation, so the failure is terminal rather than retried.
func partialStreamError(err error) error {
	return &UpstreamError{
		Code:    "interrupted",
		Message: fmt.Sprintf("generation interrupted after partial output: %v", err),
	}
}

func isAuthError(err error) bool {
	var apierr *openai.Error
	return errors.As(err, &apierr) && apierr.StatusCode == 401
}

// shouldRetry mirrors the transport's own backoff contract: 429 and 500 are
// retryable with Retry-After honoured, everything else surfaces immediately.
func (g *openaiGenerator) shouldRetry(attempts int, err error) (bool, int64, error) {
	var apierr *openai.Error
	if !errors.As(err, &apierr) {
		return false, 0, &NetworkError{Err: err}
	}

	if apierr.StatusCode != 429 && apierr.StatusCode != 500 {
		return false, 0, &UpstreamError{
			Code:    fmt.Sprintf("%d", apierr.StatusCode),
			Message: apierr.Message,
		}
	}

	if attempts > maxRetries {
		return false, 0, &UpstreamError{
			Code:    "rate_limited",
			Message: fmt.Sprintf("maximum retry attempts reached: %d retries", maxRetries),
		}
	}

	backoffMs := 2000 * (1 << (attempts - 1))
	jitterMs := int(float64(backoffMs) * 0.2)
	retryMs := backoffMs + jitterMs
	if values := apierr.Response.Header.Values("Retry-After"); len(values) > 0 {
		if _, scanErr := fmt.Sscanf(values[0], "%d", &retryMs); scanErr == nil {
			retryMs = retryMs * 1000
		}
	}
	slog.Debug("upstream retry scheduled", "attempt", attempts, "delay_ms", retryMs)
	return true, int64(retryMs), nil
}
