package media

import (
	"fmt"
	"sort"
	"strings"
)

// Registry holds clip generators by model id.
type Registry struct {
	byModel      map[string]ClipGenerator
	defaultModel string
}

func NewRegistry(defaultModel string) *Registry {
	return &Registry{byModel: make(map[string]ClipGenerator), defaultModel: strings.TrimSpace(defaultModel)}
}

func (r *Registry) Add(model string, g ClipGenerator) {
	r.byModel[strings.TrimSpace(model)] = g
}

func (r *Registry) Get(model string) (ClipGenerator, bool) {
	g, ok := r.byModel[strings.TrimSpace(model)]
	return g, ok
}

// DefaultModel is the model id used when a job carries no usable override.
func (r *Registry) DefaultModel() string {
	return r.defaultModel
}

// Resolve picks the generator for a job's model override. An empty or unknown override
// resolves to the default model; fellBack reports the unknown case.
func (r *Registry) Resolve(override string) (g ClipGenerator, model string, fellBack bool, err error) {
	override = strings.TrimSpace(override)
	if override != "" {
		if g, ok := r.byModel[override]; ok {
			return g, override, false, nil
		}
		fellBack = true
	}
	g, ok := r.byModel[r.defaultModel]
	if !ok {
		return nil, "", fellBack, fmt.Errorf("no clip generator registered for default model %q", r.defaultModel)
	}
	return g, r.defaultModel, fellBack, nil
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.byModel))
	for k := range r.byModel {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
