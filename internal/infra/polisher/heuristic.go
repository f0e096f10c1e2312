package polisher

import (
	"context"
	"regexp"
	"strings"

	"codepolish/internal/domain/model"
	"codepolish/internal/domain/ports/adapter"
)

var _ adapter.Polisher = (*Heuristic)(nil)

var (
	magicNumberRe   = regexp.MustCompile(`\b\d{2,}\b`)
	defaultExportRe = regexp.MustCompile(`export default function (\w+)\(\)`)
)

const (
	baseScore          = 50
	signalBonus        = 10
	inlineStylePenalty = 10
	magicNumberPenalty = 5
	magicNumberLimit   = 5
)

// Heuristic scores and rewrites code using substring checks only. It never
// calls out of process and never fails on valid input.
type Heuristic struct{}

func NewHeuristic() *Heuristic { return &Heuristic{} }

func (h *Heuristic) Name() string { return "heuristic" }

func (h *Heuristic) Analyze(ctx context.Context, code string, fw model.Framework, rules model.Rules) (int, []model.Issue, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}
	return Score(code), filterIssues(findIssues(code), rules), nil
}

// Score rates code on 0..100 starting from a neutral 50.
func Score(code string) int {
	score := baseScore
	if containsAny(code, ": string", ": number", "interface ", "type ") {
		score += signalBonus
	}
	if containsAny(code, "/**", "@param", "@returns") {
		score += signalBonus
	}
	if containsAny(code, "aria-", "role=") {
		score += signalBonus
	}
	if containsAny(code, "try {", "catch (", ".catch(") {
		score += signalBonus
	}
	if hasInlineStyle(code) {
		score -= inlineStylePenalty
	}
	if len(magicNumberRe.FindAllString(code, -1)) > magicNumberLimit {
		score -= magicNumberPenalty
	}
	return model.ClampScore(score)
}

func findIssues(code string) []model.Issue {
	var issues []model.Issue
	if hasInlineStyle(code) {
		issues = append(issues, model.Issue{
			Type:       model.IssueMaintainability,
			Severity:   model.SeverityMedium,
			Message:    "Inline styles detected - consider using CSS classes or styled components",
			Suggestion: "Extract styles to a separate stylesheet or use CSS-in-JS solution",
		})
	}
	if strings.Contains(code, "<img") && !strings.Contains(code, "alt=") {
		issues = append(issues, model.Issue{
			Type:       model.IssueAccessibility,
			Severity:   model.SeverityHigh,
			Message:    "Images missing alt text",
			Suggestion: "Add descriptive alt text to all images",
		})
	}
	if strings.Contains(code, "console.log") {
		issues = append(issues, model.Issue{
			Type:       model.IssueMaintainability,
			Severity:   model.SeverityLow,
			Message:    "console.log statements found",
			Suggestion: "Remove debug statements before production",
		})
	}
	if containsAny(code, ": any", "<any>") {
		issues = append(issues, model.Issue{
			Type:       model.IssueMaintainability,
			Severity:   model.SeverityMedium,
			Message:    "TypeScript 'any' type usage detected",
			Suggestion: "Replace 'any' with specific types for better type safety",
		})
	}
	if strings.Contains(code, "innerHTML") {
		// also matches dangerouslySetInnerHTML
		issues = append(issues, model.Issue{
			Type:       model.IssueSecurity,
			Severity:   model.SeverityCritical,
			Message:    "Potential XSS vulnerability - innerHTML usage detected",
			Suggestion: "Sanitize content or use safe alternatives",
		})
	}
	if containsAny(code, "async ", ".then(") && !strings.Contains(code, "catch") {
		issues = append(issues, model.Issue{
			Type:       model.IssueMaintainability,
			Severity:   model.SeverityMedium,
			Message:    "Async operations without error handling",
			Suggestion: "Add try-catch blocks or .catch() handlers",
		})
	}
	return issues
}

func (h *Heuristic) Transform(ctx context.Context, code string, fw model.Framework, preset model.Preset, rules model.Rules, issues []model.Issue) (adapter.Transformation, error) {
	if err := ctx.Err(); err != nil {
		return adapter.Transformation{}, err
	}
	out := StripConsoleLog(code)
	if fw == model.FrameworkReact && !strings.Contains(out, ": React.FC") {
		if loc := defaultExportRe.FindStringSubmatchIndex(out); loc != nil {
			out = out[:loc[1]] + ": JSX.Element" + out[loc[1]:]
		}
	}

	sum := model.ImprovementSummary{DocumentationAdded: !strings.Contains(code, "/**")}
	if strings.Contains(code, ": any") {
		sum.TypesAdded = 3
	}
	for _, is := range issues {
		switch is.Type {
		case model.IssueAccessibility:
			sum.AccessibilityFixes++
		case model.IssueSecurity:
			sum.SecurityFixes++
		}
	}
	return adapter.Transformation{Code: out, Summary: sum}, nil
}

const consoleLog = "console.log"

// StripConsoleLog removes console.log(...) statements including nested
// parentheses and string arguments. A bare console.log reference that is not
// called is replaced with a no-op function so the result never mentions it.
// Removing a call can join its neighbours into a new console.log, so passes
// repeat until one finds nothing. Every pass shortens the input.
func StripConsoleLog(code string) string {
	for strings.Contains(code, consoleLog) {
		code = stripConsoleLogPass(code)
	}
	return code
}

func stripConsoleLogPass(code string) string {
	var b strings.Builder
	b.Grow(len(code))
	for {
		i := strings.Index(code, consoleLog)
		if i < 0 {
			b.WriteString(code)
			return b.String()
		}
		head := code[:i]
		rest := code[i+len(consoleLog):]

		j := 0
		for j < len(rest) && (rest[j] == ' ' || rest[j] == '\t') {
			j++
		}
		if j >= len(rest) || rest[j] != '(' {
			b.WriteString(head)
			b.WriteString("(() => {})")
			code = rest
			continue
		}
		end := matchParen(rest, j)
		rest = rest[end:]
		if strings.HasPrefix(rest, ";") {
			rest = rest[1:]
		}

		// drop the whole line when the call was the only thing on it
		lineStart := strings.LastIndexByte(head, '\n') + 1
		if strings.TrimSpace(head[lineStart:]) == "" {
			trail := strings.TrimLeft(rest, " \t")
			if strings.HasPrefix(trail, "\n") || trail == "" {
				head = head[:lineStart]
				rest = strings.TrimPrefix(trail, "\n")
			}
		}
		b.WriteString(head)
		code = rest
	}
}

// matchParen returns the index just past the parenthesis that closes s[open].
// Quoted strings and template literals are skipped. An unbalanced call runs
// to the end of the input.
func matchParen(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch c := s[i]; c {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i + 1
			}
		case '"', '\'', '`':
			for i++; i < len(s) && s[i] != c; i++ {
				if s[i] == '\\' {
					i++
				}
			}
		}
	}
	return len(s)
}

func filterIssues(issues []model.Issue, rules model.Rules) []model.Issue {
	out := make([]model.Issue, 0, len(issues))
	for _, is := range issues {
		if rules.Allows(is.Type) {
			out = append(out, is)
		}
	}
	return out
}

func hasInlineStyle(code string) bool {
	return containsAny(code, "style={{", `style="`)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
