// Package faceid holds the value types shared by the face identity pipeline:
// model variants, face embeddings, similarity math and the error taxonomy.
package faceid

import "strings"

// Variant names a model variant (e.g. "dlib", "arcface").
type Variant string

// Runner selects how a worker process computes embeddings for a variant.
type Runner string

const (
	// RunnerNative re-executes the rollcall binary, which embeds through dlib.
	RunnerNative Runner = "native"
	// RunnerPython launches the embedded Python script.
	RunnerPython Runner = "python"
)

// VariantSpec describes one entry of the model dispatch table.
type VariantSpec struct {
	Name        Variant           `yaml:"name" json:"name"`
	Dimension   int               `yaml:"dimension" json:"dimension"`
	Runner      Runner            `yaml:"runner" json:"runner"`
	Model       string            `yaml:"model" json:"model"`
	Description string            `yaml:"description" json:"description,omitempty"`
	Params      map[string]string `yaml:"params" json:"params,omitempty"`
}

// Registry is the closed set of supported model variants.
type Registry struct {
	specs       map[Variant]VariantSpec
	order       []Variant
	defaultName Variant
}

// NewRegistry builds a registry from specs. The first spec is the default unless
// defaultName names another one.
func NewRegistry(specs []VariantSpec, defaultName Variant) (*Registry, error) {
	if len(specs) == 0 {
		return nil, ValidationErrorf("model table is empty")
	}

	r := &Registry{specs: make(map[Variant]VariantSpec, len(specs))}
	for _, spec := range specs {
		spec.Name = Variant(strings.TrimSpace(string(spec.Name)))
		if spec.Name == "" {
			return nil, ValidationErrorf("model variant without a name")
		}
		if spec.Dimension <= 0 {
			return nil, ValidationErrorf("model variant %q: dimension must be positive, got %d", spec.Name, spec.Dimension)
		}
		switch spec.Runner {
		case RunnerNative, RunnerPython:
		case "":
			spec.Runner = RunnerNative
		default:
			return nil, ValidationErrorf("model variant %q: unknown runner %q", spec.Name, spec.Runner)
		}
		if _, dup := r.specs[spec.Name]; dup {
			return nil, ValidationErrorf("model variant %q declared twice", spec.Name)
		}
		r.specs[spec.Name] = spec
		r.order = append(r.order, spec.Name)
	}

	r.defaultName = specs[0].Name
	if defaultName != "" {
		if _, ok := r.specs[defaultName]; !ok {
			return nil, UnsupportedModelError(string(defaultName))
		}
		r.defaultName = defaultName
	}
	return r, nil
}

// Lookup returns the spec for a variant. An empty name resolves to the default.
func (r *Registry) Lookup(name Variant) (VariantSpec, error) {
	if name == "" {
		name = r.defaultName
	}
	spec, ok := r.specs[name]
	if !ok {
		return VariantSpec{}, UnsupportedModelError(string(name))
	}
	return spec, nil
}

// Default returns the default variant.
func (r *Registry) Default() Variant {
	return r.defaultName
}

// Specs returns all specs in table order.
func (r *Registry) Specs() []VariantSpec {
	out := make([]VariantSpec, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.specs[name])
	}
	return out
}
