// Package catalog holds the static definition of the registration pipeline:
// the ordered step list and the automated-setup sub-step dependency graph.
// A catalog is validated once at load time and never mutated afterwards.
package catalog

import (
	"fmt"
	"strings"

	"github.com/kursadbilgin/onboard-engine/internal/domain"
)

// Step names of the default pipeline.
const (
	StepAccountCreation    = "account_creation"
	StepRestaurantCreation = "restaurant_creation"
	StepCompanyResolution  = "company_resolution"
	StepCompanySelection   = "company_selection"
	StepBulkConfiguration  = "bulk_configuration"
	StepAutomatedSetup     = "automated_setup"
)

// StepDefinition describes one pipeline step.
type StepDefinition struct {
	Number      int
	Name        string
	Description string
	Type        domain.StepType
	// RequiresCompany marks steps that exist solely to act on a resolved
	// company. A manual-entry skip fast-forwards past all of them.
	RequiresCompany bool
}

// SubStepDefinition describes one automated-setup sub-step and its
// prerequisite sub-step keys.
type SubStepDefinition struct {
	Key       string
	Name      string
	DependsOn []string
}

// Catalog is the immutable pipeline definition injected into the services.
type Catalog struct {
	steps      []StepDefinition
	subSteps   []SubStepDefinition
	subStepIdx map[string]int
	dependents map[string][]string
}

// New validates the step list and sub-step graph and returns a catalog.
// The graph must be acyclic; checking it here keeps cycle detection off the
// transition hot path.
func New(steps []StepDefinition, subSteps []SubStepDefinition) (*Catalog, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: catalog requires at least one step", domain.ErrValidation)
	}
	for i, step := range steps {
		if step.Number != i+1 {
			return nil, fmt.Errorf("%w: step %q has number %d, want %d", domain.ErrValidation, step.Name, step.Number, i+1)
		}
		if strings.TrimSpace(step.Name) == "" {
			return nil, fmt.Errorf("%w: step %d has no name", domain.ErrValidation, step.Number)
		}
		if !step.Type.IsValid() {
			return nil, fmt.Errorf("%w: step %q has invalid type %q", domain.ErrValidation, step.Name, step.Type)
		}
	}

	idx := make(map[string]int, len(subSteps))
	for i, sub := range subSteps {
		key := strings.TrimSpace(sub.Key)
		if key == "" {
			return nil, fmt.Errorf("%w: sub-step at position %d has no key", domain.ErrValidation, i)
		}
		if _, exists := idx[key]; exists {
			return nil, fmt.Errorf("%w: duplicate sub-step key %q", domain.ErrValidation, key)
		}
		idx[key] = i
	}

	dependents := make(map[string][]string, len(subSteps))
	for _, sub := range subSteps {
		for _, dep := range sub.DependsOn {
			if _, ok := idx[dep]; !ok {
				return nil, fmt.Errorf("%w: sub-step %q depends on unknown key %q", domain.ErrValidation, sub.Key, dep)
			}
			dependents[dep] = append(dependents[dep], sub.Key)
		}
	}

	c := &Catalog{
		steps:      steps,
		subSteps:   subSteps,
		subStepIdx: idx,
		dependents: dependents,
	}
	if err := c.checkAcyclic(); err != nil {
		return nil, err
	}
	return c, nil
}

// Default returns the standard six-step registration pipeline.
func Default() *Catalog {
	c, err := New(defaultSteps(), defaultSubSteps())
	if err != nil {
		// The default catalog is a compile-time constant; a validation
		// failure here is a programming error.
		panic(fmt.Sprintf("default catalog is invalid: %v", err))
	}
	return c
}

func defaultSteps() []StepDefinition {
	return []StepDefinition{
		{Number: 1, Name: StepAccountCreation, Description: "Create the platform account", Type: domain.StepTypeAutomatic},
		{Number: 2, Name: StepRestaurantCreation, Description: "Create the restaurant entity", Type: domain.StepTypeAutomatic},
		{Number: 3, Name: StepCompanyResolution, Description: "Resolve the restaurant to a registered company", Type: domain.StepTypeActionRequired, RequiresCompany: true},
		{Number: 4, Name: StepCompanySelection, Description: "Confirm the matched company record", Type: domain.StepTypeActionRequired, RequiresCompany: true},
		{Number: 5, Name: StepBulkConfiguration, Description: "Assemble the setup configuration", Type: domain.StepTypeActionRequired},
		{Number: 6, Name: StepAutomatedSetup, Description: "Execute the automated setup run", Type: domain.StepTypeAutomatic},
	}
}

func defaultSubSteps() []SubStepDefinition {
	return []SubStepDefinition{
		{Key: "create_account", Name: "Create account"},
		{Key: "create_restaurant", Name: "Create restaurant", DependsOn: []string{"create_account"}},
		{Key: "upload_menu", Name: "Upload menu", DependsOn: []string{"create_restaurant"}},
		{Key: "configure_website", Name: "Configure website", DependsOn: []string{"create_restaurant"}},
		{Key: "configure_payments", Name: "Configure payments", DependsOn: []string{"create_account"}},
		{Key: "publish", Name: "Publish restaurant", DependsOn: []string{"upload_menu", "configure_website", "configure_payments"}},
	}
}

// TotalSteps returns the pipeline length.
func (c *Catalog) TotalSteps() int { return len(c.steps) }

// Steps returns a copy of the step definitions.
func (c *Catalog) Steps() []StepDefinition {
	return append([]StepDefinition(nil), c.steps...)
}

// Step returns the definition for a 1-based step number.
func (c *Catalog) Step(number int) (StepDefinition, error) {
	if number < 1 || number > len(c.steps) {
		return StepDefinition{}, fmt.Errorf("%w: step %d", domain.ErrNotFound, number)
	}
	return c.steps[number-1], nil
}

// SubSteps returns a copy of the sub-step definitions in catalog order,
// which is a valid topological order (validated in New).
func (c *Catalog) SubSteps() []SubStepDefinition {
	out := make([]SubStepDefinition, len(c.subSteps))
	for i, sub := range c.subSteps {
		out[i] = sub
		out[i].DependsOn = append([]string(nil), sub.DependsOn...)
	}
	return out
}

// SubStep returns the definition for a sub-step key.
func (c *Catalog) SubStep(key string) (SubStepDefinition, error) {
	i, ok := c.subStepIdx[key]
	if !ok {
		return SubStepDefinition{}, fmt.Errorf("%w: sub-step %q", domain.ErrNotFound, key)
	}
	sub := c.subSteps[i]
	sub.DependsOn = append([]string(nil), c.subSteps[i].DependsOn...)
	return sub, nil
}

// DirectDependents returns the sub-steps that list key as a dependency.
func (c *Catalog) DirectDependents(key string) []string {
	return append([]string(nil), c.dependents[key]...)
}

// TransitiveDependents returns every sub-step whose dependency chain
// includes key, in catalog order.
func (c *Catalog) TransitiveDependents(key string) []string {
	seen := make(map[string]bool)
	var visit func(k string)
	visit = func(k string) {
		for _, dep := range c.dependents[k] {
			if !seen[dep] {
				seen[dep] = true
				visit(dep)
			}
		}
	}
	visit(key)

	out := make([]string, 0, len(seen))
	for _, sub := range c.subSteps {
		if seen[sub.Key] {
			out = append(out, sub.Key)
		}
	}
	return out
}

// NextStepWithoutCompany returns the first step after from that does not
// require a resolved company, or 0 if none remains.
func (c *Catalog) NextStepWithoutCompany(from int) int {
	for i := from; i < len(c.steps); i++ {
		if !c.steps[i].RequiresCompany {
			return c.steps[i].Number
		}
	}
	return 0
}

func (c *Catalog) checkAcyclic() error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(c.subSteps))

	var visit func(key string) error
	visit = func(key string) error {
		switch state[key] {
		case visiting:
			return fmt.Errorf("%w: sub-step dependency cycle through %q", domain.ErrValidation, key)
		case done:
			return nil
		}
		state[key] = visiting
		sub := c.subSteps[c.subStepIdx[key]]
		for _, dep := range sub.DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[key] = done
		return nil
	}

	for _, sub := range c.subSteps {
		if err := visit(sub.Key); err != nil {
			return err
		}
	}

	// Catalog order must also be a topological order so executors can walk
	// sub-steps front to back.
	seen := make(map[string]bool, len(c.subSteps))
	for _, sub := range c.subSteps {
		for _, dep := range sub.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("%w: sub-step %q listed before its dependency %q", domain.ErrValidation, sub.Key, dep)
			}
		}
		seen[sub.Key] = true
	}
	return nil
}
