package model

import (
	"strings"
	"time"
	"unicode/utf8"

	"codepolish/internal/domain"
)

const (
	MaxPolishNameLen = 255
	MaxPolishCodeLen = 500000

	// CreditsPerPolish is the ledger amount taken for a single job.
	CreditsPerPolish = 1
)

type Framework string

const (
	FrameworkReact  Framework = "react"
	FrameworkVue    Framework = "vue"
	FrameworkSvelte Framework = "svelte"
)

func (f Framework) Valid() bool {
	switch f {
	case FrameworkReact, FrameworkVue, FrameworkSvelte:
		return true
	}
	return false
}

type PolishStatus string

const (
	PolishStatusPending   PolishStatus = "pending"
	PolishStatusAnalyzing PolishStatus = "analyzing"
	PolishStatusPolishing PolishStatus = "polishing"
	PolishStatusCompleted PolishStatus = "completed"
	PolishStatusFailed    PolishStatus = "failed"
)

func (s PolishStatus) Valid() bool {
	switch s {
	case PolishStatusPending, PolishStatusAnalyzing, PolishStatusPolishing, PolishStatusCompleted, PolishStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no pipeline step may move the job any further.
func (s PolishStatus) Terminal() bool {
	return s == PolishStatusCompleted || s == PolishStatusFailed
}

// InFlight lists the states a running pipeline may leave a job in.
var InFlight = []PolishStatus{PolishStatusPending, PolishStatusAnalyzing, PolishStatusPolishing}

var AllPolishStatuses = append(append([]PolishStatus{}, InFlight...), PolishStatusCompleted, PolishStatusFailed)

type Preset string

const (
	PresetQuick       Preset = "quick"
	PresetStandard    Preset = "standard"
	PresetThorough    Preset = "thorough"
	PresetSecurity    Preset = "security"
	PresetPerformance Preset = "performance"
)

func (p Preset) Valid() bool {
	switch p {
	case PresetQuick, PresetStandard, PresetThorough, PresetSecurity, PresetPerformance:
		return true
	}
	return false
}

type IssueType string

const (
	IssueSecurity        IssueType = "security"
	IssuePerformance     IssueType = "performance"
	IssueAccessibility   IssueType = "accessibility"
	IssueMaintainability IssueType = "maintainability"
	IssueStyle           IssueType = "style"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Issue is one finding produced by the analysis step.
type Issue struct {
	Type       IssueType `json:"type"`
	Severity   Severity  `json:"severity"`
	Message    string    `json:"message"`
	Line       *int      `json:"line,omitempty"`
	Suggestion string    `json:"suggestion,omitempty"`
}

// ImprovementSummary holds the fixed counters reported after a transformation.
type ImprovementSummary struct {
	TokensExtracted         int  `json:"tokensExtracted"`
	ComponentsCreated       int  `json:"componentsCreated"`
	TypesAdded              int  `json:"typesAdded"`
	AccessibilityFixes      int  `json:"accessibilityFixes"`
	SecurityFixes           int  `json:"securityFixes"`
	PerformanceImprovements int  `json:"performanceImprovements"`
	DocumentationAdded      bool `json:"documentationAdded"`
	TestsGenerated          bool `json:"testsGenerated"`
}

// Rules toggles the categories a polish run should care about.
type Rules struct {
	Accessibility      bool `json:"accessibility"`
	Security           bool `json:"security"`
	Performance        bool `json:"performance"`
	Documentation      bool `json:"documentation"`
	Testing            bool `json:"testing"`
	ComponentSplitting bool `json:"componentSplitting"`
	TypeAnnotations    bool `json:"typeAnnotations"`
	ErrorHandling      bool `json:"errorHandling"`
	CodeStyle          bool `json:"codeStyle"`
}

func DefaultRules() Rules {
	return Rules{
		Accessibility:   true,
		Security:        true,
		Performance:     true,
		Documentation:   true,
		TypeAnnotations: true,
		ErrorHandling:   true,
		CodeStyle:       true,
	}
}

// Allows reports whether issues of type t should be surfaced under these rules.
func (r Rules) Allows(t IssueType) bool {
	switch t {
	case IssueSecurity:
		return r.Security
	case IssuePerformance:
		return r.Performance
	case IssueAccessibility:
		return r.Accessibility
	case IssueStyle:
		return r.CodeStyle
	case IssueMaintainability:
		return r.CodeStyle || r.TypeAnnotations || r.ErrorHandling || r.Documentation
	}
	return true
}

// Polish is a single code polish job.
type Polish struct {
	ID                  int64               `json:"id"`
	UserID              int64               `json:"userId"`
	Name                string              `json:"name"`
	Framework           Framework           `json:"framework"`
	Preset              Preset              `json:"preset"`
	Rules               Rules               `json:"rules"`
	OriginalCode        string              `json:"originalCode"`
	PolishedCode        *string             `json:"polishedCode"`
	QualityScoreBefore  *int                `json:"qualityScoreBefore"`
	QualityScoreAfter   *int                `json:"qualityScoreAfter"`
	IssuesFound         []Issue             `json:"issuesFound"`
	ImprovementsSummary *ImprovementSummary `json:"improvementsSummary"`
	Status              PolishStatus        `json:"status"`
	ErrorMessage        *string             `json:"errorMessage"`
	ProcessingTimeMs    *int64              `json:"processingTime"`
	CreditsUsed         int                 `json:"creditsUsed"`
	Refunded            bool                `json:"-"`
	CreatedAt           time.Time           `json:"createdAt"`
	UpdatedAt           time.Time           `json:"updatedAt"`
}

// storableText reports whether s fits a Postgres text column.
func storableText(s string) bool {
	return utf8.ValidString(s) && !strings.ContainsRune(s, 0)
}

// NewPolish validates submission input and returns a pending job.
func NewPolish(userID int64, name string, framework Framework, code string, preset Preset, rules *Rules) (*Polish, error) {
	if userID <= 0 {
		return nil, domain.Invalid("user id is required")
	}
	if n := utf8.RuneCountInString(name); n < 1 || n > MaxPolishNameLen {
		return nil, domain.Invalid("name must be between 1 and %d characters", MaxPolishNameLen)
	}
	if !storableText(name) {
		return nil, domain.Invalid("name must be valid UTF-8 without NUL characters")
	}
	if !framework.Valid() {
		return nil, domain.Invalid("framework must be one of react, vue, svelte")
	}
	if n := utf8.RuneCountInString(code); n < 1 || n > MaxPolishCodeLen {
		return nil, domain.Invalid("originalCode must be between 1 and %d characters", MaxPolishCodeLen)
	}
	if !storableText(code) {
		return nil, domain.Invalid("originalCode must be valid UTF-8 without NUL characters")
	}
	if preset == "" {
		preset = PresetStandard
	}
	if !preset.Valid() {
		return nil, domain.Invalid("unknown preset %q", preset)
	}
	r := DefaultRules()
	if rules != nil {
		r = *rules
	}
	now := time.Now()
	return &Polish{
		UserID:       userID,
		Name:         name,
		Framework:    framework,
		Preset:       preset,
		Rules:        r,
		OriginalCode: code,
		Status:       PolishStatusPending,
		CreditsUsed:  CreditsPerPolish,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func (p *Polish) IsZero() bool { return p == nil || p.ID == 0 }

func (p *Polish) OwnedBy(userID int64) bool { return p != nil && p.UserID == userID }

// PolishResult is everything persisted together with the flip to completed.
type PolishResult struct {
	PolishedCode      string
	QualityScoreAfter int
	Summary           ImprovementSummary
	ProcessingTime    time.Duration
}

// PolishFilter narrows a history listing.
type PolishFilter struct {
	UserID int64
	Status PolishStatus
	Since  *time.Time
	Limit  int
	Offset int
}

// ClampScore keeps a quality score within 0..100.
func ClampScore(s int) int {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
