package credits

import "strings"

// Module identifiers granted by the plan catalog
const (
	ModuleCore       = "core"
	ModuleItinerary  = "itinerary"
	ModulePhrasebook = "phrasebook"
	ModuleGastronomy = "gastronomy"
	ModuleCulture    = "culture"
)

// PlanSpec is the entitlement a plan confers: the credit grant, the feature
// modules it unlocks and how long the plan lasts. DurationDays of zero means
// the plan never expires (free tier).
type PlanSpec struct {
	Plan         Plan
	CreditGrant  int
	Modules      []string
	DurationDays int
}

// Catalog maps plan identifiers to their entitlements. Lookups are pure;
// the catalog holds no state and performs no I/O.
type Catalog struct {
	plans   map[Plan]PlanSpec
	aliases map[string]Plan
}

// DefaultCatalog returns the canonical TravelMundo plan catalog, including
// aliases for the legacy plan names still present in old webhook payloads.
func DefaultCatalog() Catalog {
	return NewCatalog(
		[]PlanSpec{
			{Plan: PlanFree, CreditGrant: 2, Modules: []string{ModuleCore}, DurationDays: 0},
			{Plan: PlanExplorer, CreditGrant: 10, Modules: []string{ModuleCore}, DurationDays: 30},
			{Plan: PlanCreator, CreditGrant: 25, Modules: []string{ModuleCore, ModuleItinerary, ModulePhrasebook}, DurationDays: 30},
			{Plan: PlanMaster, CreditGrant: 40, Modules: []string{ModuleCore, ModuleItinerary, ModulePhrasebook, ModuleGastronomy, ModuleCulture}, DurationDays: 30},
		},
		map[string]Plan{
			"pro":     PlanCreator,
			"premium": PlanMaster,
		},
	)
}

// NewCatalog builds a catalog from plan specs and legacy-name aliases
func NewCatalog(specs []PlanSpec, aliases map[string]Plan) Catalog {
	c := Catalog{
		plans:   make(map[Plan]PlanSpec, len(specs)),
		aliases: make(map[string]Plan, len(aliases)),
	}
	for _, spec := range specs {
		c.plans[spec.Plan] = spec
	}
	for name, plan := range aliases {
		c.aliases[strings.ToLower(name)] = plan
	}
	return c
}

// Resolve maps a plan identifier (canonical or legacy alias,
// case-insensitive) to its canonical Plan. Fails with ErrUnknownPlan for
// unrecognized identifiers; callers must reject rather than default.
func (c Catalog) Resolve(name string) (Plan, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return "", ErrUnknownPlan
	}
	if _, ok := c.plans[Plan(key)]; ok {
		return Plan(key), nil
	}
	if plan, ok := c.aliases[key]; ok {
		return plan, nil
	}
	return "", ErrUnknownPlan
}

// Lookup returns the entitlement for a plan
func (c Catalog) Lookup(plan Plan) (PlanSpec, error) {
	spec, ok := c.plans[plan]
	if !ok {
		return PlanSpec{}, ErrUnknownPlan
	}
	return spec, nil
}

// Allows reports whether the plan's entitlement includes the module
func (c Catalog) Allows(plan Plan, module string) bool {
	spec, ok := c.plans[plan]
	if !ok {
		return false
	}
	for _, m := range spec.Modules {
		if m == module {
			return true
		}
	}
	return false
}
