package trash

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gridbase/gridbase/internal/catalog"
	"github.com/gridbase/gridbase/internal/errors"
	"github.com/gridbase/gridbase/pkg/types"
)

// Item is a trashable item as seen by the engine.
type Item struct {
	Type string
	ID   int64

	// ParentID is the id of the parent item of ParentType, nil for
	// workspaces.
	ParentID *int64

	Name       string
	ParentName string
	Trashed    bool

	WorkspaceID   int64
	ApplicationID *int64
}

// TrashableType is implemented once per kind of trashable item.
type TrashableType interface {
	// Type is the trash item type tag, e.g. "field".
	Type() string

	// ParentType is the type of the containing item, "" for workspaces.
	ParentType() string

	// RequiresParentID reports whether item ids are only unique within
	// their parent, as row ids are within their table.
	RequiresParentID() bool

	// Lookup loads an item including trashed ones. parentID is only used
	// by types that require it.
	Lookup(ctx context.Context, tx *catalog.Tx, id int64, parentID *int64) (*Item, error)

	// Trash flags the item and returns the items trashed along with it.
	Trash(ctx context.Context, tx *catalog.Tx, user types.UserID, item *Item) ([]types.TrashItemRef, error)

	// Restore clears the trashed flag of the item.
	Restore(ctx context.Context, tx *catalog.Tx, user types.UserID, item *Item) error

	// PermanentlyDelete removes the item and its storage.
	PermanentlyDelete(ctx context.Context, tx *catalog.Tx, item *Item) error
}

// Registry holds the trashable types.
type Registry struct {
	mu    sync.RWMutex
	types map[string]TrashableType
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]TrashableType)}
}

// Register adds a type. Registering a tag twice fails.
func (r *Registry) Register(t TrashableType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[t.Type()]; ok {
		return errors.NewValidationError(errors.CodeTypeAlreadyRegistered, "",
			fmt.Sprintf("trash type %q is already registered", t.Type()))
	}
	r.types[t.Type()] = t
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(t TrashableType) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Get returns the type registered under tag.
func (r *Registry) Get(tag string) (TrashableType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[tag]
	if !ok {
		return nil, errors.NewNotFoundError(errors.CodeTrashTypeDoesNotExist,
			fmt.Sprintf("trash item type %q does not exist", tag))
	}
	return t, nil
}

// Types returns the registered tags in sorted order.
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

// ChildTypes returns the tags whose parent type is tag.
func (r *Registry) ChildTypes(tag string) []string {
	var out []string
	for _, t := range r.Types() {
		if child, _ := r.Get(t); child != nil && child.ParentType() == tag {
			out = append(out, t)
		}
	}
	return out
}

// Depth returns the distance of tag from the root of the hierarchy.
// Unknown tags sort as the deepest.
func (r *Registry) Depth(tag string) int {
	depth := 0
	for seen := 0; seen <= len(r.types); seen++ {
		t, err := r.Get(tag)
		if err != nil {
			return len(r.types)
		}
		if t.ParentType() == "" {
			return depth
		}
		tag = t.ParentType()
		depth++
	}
	return depth
}
