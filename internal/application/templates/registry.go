package templates

import (
	"fmt"
	"sync"

	"github.com/aescanero/fulfillment/pkg/domain"
)

// Builder collects templates during startup. Build freezes it into a Registry.
type Builder struct {
	validator *Validator

	mu        sync.Mutex
	templates map[string]domain.WorkflowTemplate
	order     []string
	frozen    bool
}

// NewBuilder creates an empty registry builder
func NewBuilder() *Builder {
	return &Builder{
		validator: NewValidator(),
		templates: make(map[string]domain.WorkflowTemplate),
	}
}

// Register validates and adds a template. Templates are copied, so later
// changes to t do not leak into the registry.
func (b *Builder) Register(t domain.WorkflowTemplate) error {
	if err := b.validator.Validate(&t); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frozen {
		return fmt.Errorf("registry already built, cannot register %s", t.ID)
	}
	if _, exists := b.templates[t.ID]; exists {
		return fmt.Errorf("%w: duplicate template ID: %s", domain.ErrInvalidTemplate, t.ID)
	}

	b.templates[t.ID] = t.Clone()
	b.order = append(b.order, t.ID)
	return nil
}

// Build freezes the builder and returns the immutable registry
func (b *Builder) Build() *Registry {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.frozen = true
	templates := make(map[string]domain.WorkflowTemplate, len(b.templates))
	for id, t := range b.templates {
		templates[id] = t
	}
	return &Registry{
		templates: templates,
		order:     append([]string(nil), b.order...),
	}
}

// Registry is a frozen set of templates. It is never mutated after Build,
// so concurrent reads need no locking.
type Registry struct {
	templates map[string]domain.WorkflowTemplate
	order     []string
}

// Get returns a copy of the template with the given id
func (r *Registry) Get(id string) (domain.WorkflowTemplate, error) {
	t, ok := r.templates[id]
	if !ok {
		return domain.WorkflowTemplate{}, fmt.Errorf("template %s: %w", id, domain.ErrNotFound)
	}
	return t.Clone(), nil
}

// List returns copies of every template in registration order
func (r *Registry) List() []domain.WorkflowTemplate {
	out := make([]domain.WorkflowTemplate, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.templates[id].Clone())
	}
	return out
}

// Len returns the number of registered templates
func (r *Registry) Len() int {
	return len(r.order)
}
