package runner

import (
	"github.com/rotisserie/eris"

	"github.com/k1p1l0/tendhunt-sub005/internal/model"
	"github.com/k1p1l0/tendhunt-sub005/internal/stage"
)

// Registry maps stage names to their implementations.
type Registry struct {
	items map[model.Stage]stage.Stage
	paged map[model.Stage]stage.Paged
	order []model.Stage // insertion order for deterministic iteration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		items: make(map[model.Stage]stage.Stage),
		paged: make(map[model.Stage]stage.Paged),
	}
}

// Register adds a buyer-cursor stage.
func (r *Registry) Register(s stage.Stage) {
	name := s.Name()
	if _, ok := r.items[name]; !ok {
		r.order = append(r.order, name)
	}
	r.items[name] = s
}

// RegisterPaged adds a page-token stage.
func (r *Registry) RegisterPaged(p stage.Paged) {
	name := p.Name()
	if _, ok := r.paged[name]; !ok {
		r.order = append(r.order, name)
	}
	r.paged[name] = p
}

// Item returns a buyer-cursor stage by name.
func (r *Registry) Item(name model.Stage) (stage.Stage, bool) {
	s, ok := r.items[name]
	return s, ok
}

// Paged returns a page-token stage by name.
func (r *Registry) Paged(name model.Stage) (stage.Paged, bool) {
	p, ok := r.paged[name]
	return p, ok
}

// checkConfig runs the config check of whichever stage is registered under name.
func (r *Registry) checkConfig(name model.Stage) error {
	if s, ok := r.items[name]; ok {
		return s.CheckConfig()
	}
	if p, ok := r.paged[name]; ok {
		return p.CheckConfig()
	}
	return eris.Errorf("runner: no implementation registered for stage %q", name)
}

// Names returns registered stage names in insertion order.
func (r *Registry) Names() []model.Stage {
	return append([]model.Stage(nil), r.order...)
}
