// Package polisher holds the implementations of the analysis and rewrite step.
package polisher

import (
	"fmt"

	"github.com/rs/zerolog"

	"codepolish/internal/config"
	"codepolish/internal/domain/ports/adapter"
)

// New picks the polisher configured in cfg. ai may be nil for the heuristic mode.
func New(cfg config.AIConfig, ai adapter.AIServiceAdapter, log *zerolog.Logger) (adapter.Polisher, error) {
	switch cfg.Polisher {
	case "", "heuristic":
		return NewHeuristic(), nil
	case "llm":
		if ai == nil {
			return nil, fmt.Errorf("llm polisher needs an ai provider")
		}
		return NewLLM(ai, cfg.DefaultModel, cfg.MaxPromptTokens, log), nil
	}
	return nil, fmt.Errorf("unknown polisher %q", cfg.Polisher)
}
