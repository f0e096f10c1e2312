package polisher

import (
	"fmt"
	"strings"

	"codepolish/internal/domain/model"
)

const analyzeInstruction = `You are a senior front-end reviewer. Rate the quality of the component you are given
and list concrete problems. Respond with a single JSON object and nothing else:
{"qualityScoreBefore": <integer 0-100>,
 "issuesFound": [{"type": "security|performance|accessibility|maintainability|style",
                  "severity": "low|medium|high|critical",
                  "description": "<what is wrong>",
                  "line": <optional line number>,
                  "suggestion": "<how to fix it>"}]}`

const transformInstruction = `You are a senior front-end engineer. Rewrite the component you are given so that it
fixes the listed issues while keeping its behaviour and public props unchanged. Respond with a single JSON object and
nothing else:
{"polishedCode": "<the full rewritten source>",
 "qualityScoreAfter": <integer 0-100>,
 "improvementsSummary": {"tokensExtracted": 0, "componentsCreated": 0, "typesAdded": 0,
                         "accessibilityFixes": 0, "securityFixes": 0, "performanceImprovements": 0,
                         "documentationAdded": false, "testsGenerated": false}}`

var presetFocus = map[model.Preset]string{
	model.PresetQuick:       "Make only small, safe fixes.",
	model.PresetStandard:    "Balance readability, typing and accessibility.",
	model.PresetThorough:    "Apply every improvement you can justify, including splitting large components.",
	model.PresetSecurity:    "Prioritise security findings such as XSS and unsafe HTML.",
	model.PresetPerformance: "Prioritise rendering performance and memoisation.",
}

func rulesLine(r model.Rules) string {
	var on []string
	add := func(ok bool, name string) {
		if ok {
			on = append(on, name)
		}
	}
	add(r.Accessibility, "accessibility")
	add(r.Security, "security")
	add(r.Performance, "performance")
	add(r.Documentation, "documentation")
	add(r.Testing, "testing")
	add(r.ComponentSplitting, "component splitting")
	add(r.TypeAnnotations, "type annotations")
	add(r.ErrorHandling, "error handling")
	add(r.CodeStyle, "code style")
	if len(on) == 0 {
		return "Focus areas: none selected, report only critical problems."
	}
	return "Focus areas: " + strings.Join(on, ", ") + "."
}

func analyzePrompt(code string, fw model.Framework, rules model.Rules) string {
	return fmt.Sprintf("Framework: %s\n%s\n\n```\n%s\n```", fw, rulesLine(rules), code)
}

func transformPrompt(code string, fw model.Framework, preset model.Preset, rules model.Rules, issues []model.Issue) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Framework: %s\n%s\n%s\n", fw, presetFocus[preset], rulesLine(rules))
	if len(issues) > 0 {
		b.WriteString("Issues to fix:\n")
		for _, is := range issues {
			fmt.Fprintf(&b, "- [%s/%s] %s\n", is.Type, is.Severity, is.Message)
		}
	}
	fmt.Fprintf(&b, "\n```\n%s\n```", code)
	return b.String()
}
