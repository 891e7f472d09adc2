// Package datasync keeps tables synchronized with an external source. A
// sync type lists the properties the source offers and returns all of its
// rows; the handler maps visible properties onto read-only fields and
// reconciles the table with the source on every sync.
package datasync

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gridbase/gridbase/internal/catalog"
	"github.com/gridbase/gridbase/internal/errors"
	"github.com/gridbase/gridbase/internal/row"
	"github.com/gridbase/gridbase/pkg/types"
)

// Property is one column offered by a source.
type Property struct {
	// Key never changes for the lifetime of the source.
	Key  string
	Name string
	// UniquePrimary properties identify a row. At least one is required
	// and they are always visible.
	UniquePrimary bool
	// Field is the template of the field created for the property. Name,
	// ID and TableID are ignored.
	Field types.Field
}

// Source gives a sync type read access to the local database.
type Source struct {
	Store *catalog.Store
	Rows  *row.Store
}

// Type is implemented once per data sync type.
type Type interface {
	// Type returns the tag, e.g. "local_table".
	Type() string

	// Properties lists every property the source offers.
	Properties(ctx context.Context, src Source, ds *types.DataSync) ([]Property, error)

	// AllRows returns every row of the source keyed by property key.
	AllRows(ctx context.Context, src Source, ds *types.DataSync) ([]map[string]any, error)
}

// Registry maps type tags to data sync types.
type Registry struct {
	mu    sync.RWMutex
	types map[string]Type
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]Type)}
}

// Default returns a registry holding the built-in types.
func Default() *Registry {
	r := NewRegistry()
	r.MustRegister(LocalTableType{})
	return r
}

// Register adds a type. Registering a tag twice fails.
func (r *Registry) Register(t Type) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.types[t.Type()]; ok {
		return errors.NewValidationError(errors.CodeTypeAlreadyRegistered, "",
			fmt.Sprintf("data sync type %q is already registered", t.Type()))
	}
	r.types[t.Type()] = t
	return nil
}

// MustRegister is Register for startup code; it panics on duplicates.
func (r *Registry) MustRegister(t Type) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Get returns the type of a tag.
func (r *Registry) Get(tag string) (Type, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.types[tag]
	if !ok {
		return nil, errors.NewNotFoundError(errors.CodeDataSyncTypeDoesNotExist,
			fmt.Sprintf("data sync type %q does not exist", tag))
	}
	return t, nil
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

func uniqueKeys(props []Property) []string {
	var keys []string
	for _, p := range props {
		if p.UniquePrimary {
			keys = append(keys, p.Key)
		}
	}
	return keys
}
