package llmservice

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"textbook-rag/internal/apperr"
	"textbook-rag/internal/config"
)

// Fragment is one piece of a streamed completion. A fragment with Err set is
// the last one sent.
type Fragment struct {
	Text string
	Err  error
}

// Client is a text completion client with a per-call deadline.
type Client struct {
	model   llms.Model
	timeout time.Duration
}

func New(model llms.Model, timeout time.Duration) *Client {
	return &Client{model: model, timeout: timeout}
}

// NewFromConfig creates the model named by cfg.Provider.
func NewFromConfig(cfg config.LLMConfig) (*Client, error) {
	log.Debug().Str("provider", cfg.Provider).Str("base_url", cfg.BaseURL).Str("model", cfg.Model).Msg("Creating LLM client")

	var (
		model llms.Model
		err   error
	)
	switch cfg.Provider {
	case "openai":
		model, err = openai.New(
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithModel(cfg.Model),
		)
	case "ollama":
		model, err = ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize llm: %w", err)
	}
	return New(model, cfg.Timeout), nil
}

// Complete returns the full answer to prompt.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	out, err := llms.GenerateFromSinglePrompt(ctx, c.model, prompt)
	if err != nil {
		return "", apperr.Upstream("llm complete", err)
	}
	return out, nil
}

// CompleteJSON asks the model for a JSON object.
func (c *Client) CompleteJSON(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	out, err := llms.GenerateFromSinglePrompt(ctx, c.model, prompt, llms.WithJSONMode())
	if err != nil {
		return "", apperr.Upstream("llm complete json", err)
	}
	return out, nil
}

// Stream emits the answer as it is generated. The channel is closed when the
// model finishes, fails or ctx is done.
func (c *Client) Stream(ctx context.Context, prompt string) <-chan Fragment {
	out := make(chan Fragment)
	go func() {
		defer close(out)
		parent := ctx
		ctx, cancel := c.withTimeout(parent)
		defer cancel()

		_, err := llms.GenerateFromSinglePrompt(ctx, c.model, prompt,
			llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
				if len(chunk) == 0 {
					return nil
				}
				select {
				case out <- Fragment{Text: string(chunk)}:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			}),
		)
		if err == nil || parent.Err() != nil {
			return
		}
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		select {
		case out <- Fragment{Err: apperr.Upstream("llm stream", err)}:
		case <-parent.Done():
		}
	}()
	return out
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}
