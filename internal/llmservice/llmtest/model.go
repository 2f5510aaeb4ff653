// Package llmtest provides a scripted llms.Model for tests.
package llmtest

import (
	"context"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms"
)

// Model answers prompts with Respond and records every prompt it sees.
// Streaming callers receive the answer split after each space.
type Model struct {
	Respond func(prompt string, jsonMode bool) (string, error)

	mu      sync.Mutex
	prompts []string
}

// Static returns a model that always answers text.
func Static(text string) *Model {
	return &Model{Respond: func(string, bool) (string, error) { return text, nil }}
}

func (m *Model) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

func (m *Model) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{}
	for _, o := range options {
		o(&opts)
	}

	var prompt strings.Builder
	for _, msg := range messages {
		for _, part := range msg.Parts {
			if tc, ok := part.(llms.TextContent); ok {
				prompt.WriteString(tc.Text)
			}
		}
	}
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt.String())
	m.mu.Unlock()

	answer, err := m.Respond(prompt.String(), opts.JSONMode)
	if err != nil {
		return nil, err
	}
	if opts.StreamingFunc != nil {
		for _, tok := range splitTokens(answer) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := opts.StreamingFunc(ctx, []byte(tok)); err != nil {
				return nil, err
			}
		}
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: answer}}}, nil
}

func (m *Model) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func splitTokens(s string) []string {
	var toks []string
	for len(s) > 0 {
		i := strings.IndexByte(s, ' ')
		if i < 0 {
			toks = append(toks, s)
			break
		}
		toks = append(toks, s[:i+1])
		s = s[i+1:]
	}
	return toks
}
