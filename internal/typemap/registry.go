package typemap

import "fmt"

// Constructor builds a TypeMapper for a native field. Registered under the
// selector string used by the group-configuration `+type` key (§6).
type Constructor func(field *NativeField) (TypeMapper, error)

// Registry maps a `+type` selector to a mapper Constructor. The default
// registry covers "scalar", "array", and "enum"; callers may register
// additional selectors for native kinds this package does not know about.
type Registry struct {
	constructors map[string]Constructor
}

// NewRegistry returns a Registry pre-populated with the built-in
// "scalar", "array", and "enum" selectors.
func NewRegistry() *Registry {
	r := &Registry{constructors: make(map[string]Constructor)}
	r.Register("scalar", func(f *NativeField) (TypeMapper, error) {
		return NewScalarMapper(f)
	})
	r.Register("array", func(f *NativeField) (TypeMapper, error) {
		return NewScalarMapper(f)
	})
	r.Register("enum", func(f *NativeField) (TypeMapper, error) {
		return NewEnumMapper(f)
	})
	return r
}

// Register adds or overwrites a named mapper constructor.
func (r *Registry) Register(name string, c Constructor) {
	r.constructors[name] = c
}

// Build constructs the TypeMapper named selector for field. An unknown
// selector is an ErrUnsupportedType, matching Describe's own error kind.
func (r *Registry) Build(selector string, field *NativeField) (TypeMapper, error) {
	c, ok := r.constructors[selector]
	if !ok {
		return nil, &ErrUnsupportedType{Kind: fmt.Sprintf("selector %q", selector)}
	}
	return c(field)
}
