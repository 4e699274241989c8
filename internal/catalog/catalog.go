// Package catalog holds the named coordination patterns a workflow can be
// bound to. The catalog is read-only once constructed.
package catalog

import (
	"fmt"
	"sort"

	"github.com/vtkrishna/kypseli/internal/config"
)

// Coordination selects the strategy a workflow runs under. The set is
// closed; executors dispatch over exactly these six kinds.
type Coordination string

const (
	Linear       Coordination = "linear"
	Parallel     Coordination = "parallel"
	Hierarchical Coordination = "hierarchical"
	Mesh         Coordination = "mesh"
	Adaptive     Coordination = "adaptive"
	Swarm        Coordination = "swarm"
)

func (c Coordination) Valid() bool {
	switch c {
	case Linear, Parallel, Hierarchical, Mesh, Adaptive, Swarm:
		return true
	}
	return false
}

// Pattern is an immutable strategy descriptor.
type Pattern struct {
	Name         string       `json:"name"`
	Description  string       `json:"description"`
	Stages       []string     `json:"stages"`
	Coordination Coordination `json:"coordination"`
}

type Catalog struct {
	patterns map[string]Pattern
}

func builtins() []Pattern {
	return []Pattern{
		{
			Name:         "pipeline",
			Description:  "Staged pipeline; each stage sees every earlier stage's output",
			Stages:       []string{"plan", "execute", "review"},
			Coordination: Linear,
		},
		{
			Name:         "fanout",
			Description:  "Independent perspectives gathered concurrently over the same input",
			Stages:       []string{"feasibility", "risks", "approach"},
			Coordination: Parallel,
		},
		{
			Name:         "delegation",
			Description:  "Queen-planned assignment of stages to the best-suited workers",
			Stages:       []string{"design", "implement", "test", "review"},
			Coordination: Hierarchical,
		},
		{
			Name:         "consensus",
			Description:  "All agents weigh in on the whole task; agreement by aggregation",
			Stages:       []string{"deliberate"},
			Coordination: Mesh,
		},
		{
			Name:         "self-tuning",
			Description:  "Bounded strategy search until quality and efficiency converge",
			Stages:       []string{"analyze", "implement", "verify"},
			Coordination: Adaptive,
		},
		{
			Name:         "explore-exploit",
			Description:  "A minority explores diverse approaches, the rest refine the best",
			Stages:       []string{"explore", "refine", "converge"},
			Coordination: Swarm,
		},
	}
}

// New builds the catalog from the built-in patterns plus config extras.
// Extras must carry unique names, a known coordination kind, and at least
// one stage.
func New(extras []config.PatternConfig) (*Catalog, error) {
	c := &Catalog{patterns: make(map[string]Pattern)}
	for _, p := range builtins() {
		c.patterns[p.Name] = p
	}

	for _, e := range extras {
		if e.Name == "" {
			return nil, fmt.Errorf("pattern with empty name")
		}
		if _, exists := c.patterns[e.Name]; exists {
			return nil, fmt.Errorf("duplicate pattern %q", e.Name)
		}
		kind := Coordination(e.Coordination)
		if !kind.Valid() {
			return nil, fmt.Errorf("pattern %q: unknown coordination %q", e.Name, e.Coordination)
		}
		if len(e.Stages) == 0 {
			return nil, fmt.Errorf("pattern %q: no stages", e.Name)
		}
		c.patterns[e.Name] = Pattern{
			Name:         e.Name,
			Description:  e.Description,
			Stages:       append([]string(nil), e.Stages...),
			Coordination: kind,
		}
	}
	return c, nil
}

// Get returns the named pattern. The stage list is copied so callers
// cannot mutate the catalog.
func (c *Catalog) Get(name string) (Pattern, bool) {
	p, ok := c.patterns[name]
	if !ok {
		return Pattern{}, false
	}
	p.Stages = append([]string(nil), p.Stages...)
	return p, true
}

func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.patterns))
	for name := range c.patterns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns all patterns ordered by name.
func (c *Catalog) List() []Pattern {
	out := make([]Pattern, 0, len(c.patterns))
	for _, name := range c.Names() {
		p, _ := c.Get(name)
		out = append(out, p)
	}
	return out
}
