package fieldtype

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gridbase/gridbase/internal/errors"
)

// Registry maps type tags to field types.
type Registry struct {
	mu    sync.RWMutex
	types map[string]FieldType
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]FieldType)}
}

// Register adds a field type. Registering a tag twice fails.
func (r *Registry) Register(ft FieldType) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.types[ft.Type()]; ok {
		return errors.NewValidationError(errors.CodeTypeAlreadyRegistered, "",
			fmt.Sprintf("field type %q is already registered", ft.Type()))
	}
	r.types[ft.Type()] = ft
	return nil
}

// MustRegister is Register for startup code; it panics on duplicates.
func (r *Registry) MustRegister(ft FieldType) {
	if err := r.Register(ft); err != nil {
		panic(err)
	}
}

// Get returns the field type of a tag.
func (r *Registry) Get(tag string) (FieldType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ft, ok := r.types[tag]
	if !ok {
		return nil, errors.NewNotFoundError(errors.CodeFieldTypeDoesNotExist,
			fmt.Sprintf("field type %q does not exist", tag))
	}
	return ft, nil
}

// Types returns the registered tags in lexical order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.types))
	for tag := range r.types {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

var (
	defaultRegistry *Registry
	defaultOnce     sync.Once
)

// Default returns the process wide registry holding the built-in types.
// It is built once and not mutated afterwards.
func Default() *Registry {
	defaultOnce.Do(func() {
		r := NewRegistry()
		RegisterBuiltins(r)
		defaultRegistry = r
	})
	return defaultRegistry
}

// RegisterBuiltins registers every built-in field type.
func RegisterBuiltins(r *Registry) {
	r.MustRegister(TextType{})
	r.MustRegister(LongTextType{})
	r.MustRegister(NumberType{})
	r.MustRegister(BooleanType{})
	r.MustRegister(DateType{})
	r.MustRegister(LinkRowType{})
	r.MustRegister(FileType{})
	r.MustRegister(SingleSelectType{})
	r.MustRegister(MultipleSelectType{})
	r.MustRegister(FormulaType{})
	r.MustRegister(CreatedOnType{})
	r.MustRegister(LastModifiedType{})
}
