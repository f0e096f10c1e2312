package model

import (
	"time"

	"codepolish/internal/domain"
)

type PlanID string

const (
	PlanFree       PlanID = "free"
	PlanPro        PlanID = "pro"
	PlanTeam       PlanID = "team"
	PlanEnterprise PlanID = "enterprise"
)

const (
	BillingPeriod = 30 * 24 * time.Hour

	// UnlimitedCredits stands in for the enterprise tier's unbounded allotment.
	UnlimitedCredits = 999999
)

func (p PlanID) Valid() bool {
	_, ok := planCatalog[p]
	return ok
}

// Plan is an entry of the pricing catalog.
type Plan struct {
	ID        PlanID   `json:"id"`
	Name      string   `json:"name"`
	Price     *int     `json:"price"`
	Credits   int      `json:"credits"`
	Unlimited bool     `json:"unlimited"`
	Features  []string `json:"features"`
	Popular   bool     `json:"popular"`
}

// SelfServe reports whether the plan can be bought through checkout.
func (p Plan) SelfServe() bool {
	return p.ID != PlanFree && p.ID != PlanEnterprise
}

func price(v int) *int { return &v }

var planOrder = []PlanID{PlanFree, PlanPro, PlanTeam, PlanEnterprise}

var planCatalog = map[PlanID]Plan{
	PlanFree: {
		ID:      PlanFree,
		Name:    "Free",
		Price:   price(0),
		Credits: 5,
		Features: []string{
			"5 code polishes per month",
			"Basic refactoring",
			"Quality score analysis",
			"Download as ZIP",
		},
	},
	PlanPro: {
		ID:      PlanPro,
		Name:    "Pro",
		Price:   price(19),
		Credits: 100,
		Popular: true,
		Features: []string{
			"100 code polishes per month",
			"All refactoring features",
			"Test generation",
			"Documentation generation",
			"GitHub integration",
			"Priority processing",
		},
	},
	PlanTeam: {
		ID:      PlanTeam,
		Name:    "Team",
		Price:   price(49),
		Credits: 500,
		Features: []string{
			"500 code polishes per month",
			"All Pro features",
			"Team workspace",
			"Shared component library",
			"Custom refactoring rules",
			"API access",
		},
	},
	PlanEnterprise: {
		ID:        PlanEnterprise,
		Name:      "Enterprise",
		Credits:   UnlimitedCredits,
		Unlimited: true,
		Features: []string{
			"Unlimited polishes",
			"On-premise deployment",
			"Custom integrations",
			"Dedicated support",
			"SLA guarantees",
		},
	},
}

// Plans returns the catalog in display order.
func Plans() []Plan {
	out := make([]Plan, 0, len(planOrder))
	for _, id := range planOrder {
		out = append(out, planCatalog[id])
	}
	return out
}

func LookupPlan(id PlanID) (Plan, error) {
	p, ok := planCatalog[id]
	if !ok {
		return Plan{}, domain.Invalid("unknown plan %q", id)
	}
	return p, nil
}

// MustPlan is for ids that come from our own storage.
func MustPlan(id PlanID) Plan {
	p, ok := planCatalog[id]
	if !ok {
		return planCatalog[PlanFree]
	}
	return p
}
