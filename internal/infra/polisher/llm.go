package polisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"codepolish/internal/domain"
	"codepolish/internal/domain/model"
	"codepolish/internal/domain/ports/adapter"
	"codepolish/internal/infra/logging"
	"codepolish/internal/infra/metrics"
)

var _ adapter.Polisher = (*LLM)(nil)

var (
	ErrMalformedResponse = errors.New("malformed model response")
	ErrPromptTooLarge    = errors.New("prompt exceeds token budget")
)

// LLM delegates both pipeline steps to a chat model that answers in JSON.
type LLM struct {
	ai        adapter.AIServiceAdapter
	model     string
	maxTokens int
	log       *zerolog.Logger
}

func NewLLM(ai adapter.AIServiceAdapter, model string, maxPromptTokens int, log *zerolog.Logger) *LLM {
	l := log.With().Str("component", "polisher.llm").Logger()
	return &LLM{ai: ai, model: model, maxTokens: maxPromptTokens, log: &l}
}

func (p *LLM) Name() string { return "llm:" + p.ai.Name() }

type analyzeReply struct {
	QualityScoreBefore *int       `json:"qualityScoreBefore"`
	IssuesFound        []llmIssue `json:"issuesFound"`
}

type llmIssue struct {
	Type        string `json:"type"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	Message     string `json:"message"`
	Line        *int   `json:"line"`
	Suggestion  string `json:"suggestion"`
}

type transformReply struct {
	PolishedCode        *string                   `json:"polishedCode"`
	QualityScoreAfter   *int                      `json:"qualityScoreAfter"`
	ImprovementsSummary *model.ImprovementSummary `json:"improvementsSummary"`
}

func (p *LLM) Analyze(ctx context.Context, code string, fw model.Framework, rules model.Rules) (int, []model.Issue, error) {
	defer logging.TraceDuration(p.log, "LLMPolisher.Analyze")()

	var r analyzeReply
	if err := p.ask(ctx, analyzeInstruction, analyzePrompt(code, fw, rules), &r); err != nil {
		return 0, nil, err
	}
	if r.QualityScoreBefore == nil {
		return 0, nil, fmt.Errorf("%w: qualityScoreBefore missing", ErrMalformedResponse)
	}
	issues := make([]model.Issue, 0, len(r.IssuesFound))
	for _, li := range r.IssuesFound {
		is := li.toIssue()
		if rules.Allows(is.Type) {
			issues = append(issues, is)
		}
	}
	return model.ClampScore(*r.QualityScoreBefore), issues, nil
}

func (p *LLM) Transform(ctx context.Context, code string, fw model.Framework, preset model.Preset, rules model.Rules, issues []model.Issue) (adapter.Transformation, error) {
	defer logging.TraceDuration(p.log, "LLMPolisher.Transform")()

	var r transformReply
	if err := p.ask(ctx, transformInstruction, transformPrompt(code, fw, preset, rules, issues), &r); err != nil {
		return adapter.Transformation{}, err
	}
	if r.PolishedCode == nil || strings.TrimSpace(*r.PolishedCode) == "" {
		return adapter.Transformation{}, fmt.Errorf("%w: polishedCode missing", ErrMalformedResponse)
	}
	t := adapter.Transformation{Code: *r.PolishedCode}
	if r.ImprovementsSummary != nil {
		t.Summary = *r.ImprovementsSummary
	}
	if r.QualityScoreAfter != nil {
		s := model.ClampScore(*r.QualityScoreAfter)
		t.ScoreAfter = &s
	}
	return t, nil
}

func (p *LLM) ask(ctx context.Context, instruction, prompt string, out any) error {
	msgs := []adapter.Message{
		{Role: "system", Content: instruction},
		{Role: "user", Content: prompt},
	}
	if p.maxTokens > 0 {
		n, err := p.ai.CountTokens(ctx, p.model, msgs)
		if err != nil {
			p.log.Warn().Err(err).Msg("token count failed; sending anyway")
		} else if n > p.maxTokens {
			metrics.PromptBlocked(p.ai.Name(), p.model)
			return fmt.Errorf("%w: %d > %d", ErrPromptTooLarge, n, p.maxTokens)
		}
	}

	temp := float32(0.2)
	text, usage, err := p.ai.ChatWithUsage(ctx, p.model, msgs, adapter.ChatOptions{JSON: true, Temperature: &temp})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPolishFailed, err)
	}
	p.log.Debug().Int("prompt_tokens", usage.PromptTokens).Int("completion_tokens", usage.CompletionTokens).Msg("model replied")

	if err := json.Unmarshal([]byte(stripFence(text)), out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

// stripFence removes a ```json ... ``` wrapper some models add despite JSON mode.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func (li llmIssue) toIssue() model.Issue {
	msg := li.Message
	if msg == "" {
		msg = li.Description
	}
	t := model.IssueType(strings.ToLower(li.Type))
	switch t {
	case model.IssueSecurity, model.IssuePerformance, model.IssueAccessibility, model.IssueMaintainability, model.IssueStyle:
	default:
		t = model.IssueMaintainability
	}
	sev := model.Severity(strings.ToLower(li.Severity))
	switch sev {
	case model.SeverityLow, model.SeverityMedium, model.SeverityHigh, model.SeverityCritical:
	default:
		sev = model.SeverityMedium
	}
	return model.Issue{Type: t, Severity: sev, Message: msg, Line: li.Line, Suggestion: li.Suggestion}
}
