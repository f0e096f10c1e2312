package adapter

import (
	"context"

	"codepolish/internal/domain/model"
)

// Transformation is the output of the polishing step.
type Transformation struct {
	Code    string
	Summary model.ImprovementSummary
	// ScoreAfter is set when the polisher scored its own output. When nil the
	// pipeline re-analyzes Code.
	ScoreAfter *int
}

// Polisher analyzes and rewrites UI component source.
type Polisher interface {
	Name() string
	Analyze(ctx context.Context, code string, fw model.Framework, rules model.Rules) (score int, issues []model.Issue, err error)
	Transform(ctx context.Context, code string, fw model.Framework, preset model.Preset, rules model.Rules, issues []model.Issue) (Transformation, error)
}
