package ai

import (
	"context"
	"time"

	"codepolish/internal/domain/ports/adapter"
)

var _ adapter.AIServiceAdapter = (*NoopAIAdapter)(nil)

// NoopAIAdapter answers every call with a fixed reply. Useful for local runs
// of the llm polisher without provider keys.
type NoopAIAdapter struct {
	Reply string
	Delay time.Duration
}

func NewNoopAIAdapter(reply string) *NoopAIAdapter {
	return &NoopAIAdapter{Reply: reply, Delay: 100 * time.Millisecond}
}

func (a *NoopAIAdapter) Name() string { return "noop" }

func (a *NoopAIAdapter) CountTokens(ctx context.Context, model string, messages []adapter.Message) (int, error) {
	n := 0
	for _, m := range messages {
		n += len(m.Content)/4 + 1
	}
	return n, nil
}

func (a *NoopAIAdapter) ChatWithUsage(ctx context.Context, model string, messages []adapter.Message, opts adapter.ChatOptions) (string, adapter.Usage, error) {
	select {
	case <-time.After(a.Delay):
	case <-ctx.Done():
		return "", adapter.Usage{}, ctx.Err()
	}
	in, _ := a.CountTokens(ctx, model, messages)
	out := len(a.Reply)/4 + 1
	return a.Reply, adapter.Usage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out}, nil
}
