// Package ledger resolves dotted data paths against registered data
// providers. The first path segment names the provider; the remaining
// segments are handed to it verbatim.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gridbase/gridbase/internal/errors"
)

// Provider supplies one namespace of data.
type Provider interface {
	// Type is the first path segment routed to this provider.
	Type() string

	// DataChunk returns the value at path inside the provider's namespace.
	// The ledger is passed so providers can resolve other paths.
	DataChunk(ctx context.Context, l *Ledger, path []string) (any, error)
}

// Registry holds the providers available to every ledger.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry returns an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider. Registering a name twice fails.
func (r *Registry) Register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.providers[p.Type()]; ok {
		return errors.NewValidationError(errors.CodeTypeAlreadyRegistered, "",
			fmt.Sprintf("data provider %q is already registered", p.Type()))
	}
	r.providers[p.Type()] = p
	return nil
}

// Get returns a registered provider.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Ledger resolves paths for one evaluation. Scoped providers shadow the
// registry's providers of the same name. Nothing is cached.
type Ledger struct {
	registry *Registry
	scoped   map[string]Provider
}

// New returns a ledger over registry and the given scoped providers. A nil
// registry is treated as empty.
func New(registry *Registry, scoped ...Provider) *Ledger {
	l := &Ledger{registry: registry, scoped: make(map[string]Provider, len(scoped))}
	for _, p := range scoped {
		l.scoped[p.Type()] = p
	}
	return l
}

// Resolve returns the value at a dotted path such as "row.Price" or
// "page_parameter.id". A literal dot inside a segment is written "\.".
func (l *Ledger) Resolve(ctx context.Context, path string) (any, error) {
	parts := SplitPath(path)
	if len(parts) == 0 || parts[0] == "" {
		return nil, errors.NewValidationError(errors.CodeInvalidFormula, "", "empty data path")
	}
	p, ok := l.provider(parts[0])
	if !ok {
		return nil, errors.NewNotFoundError(errors.CodeDataProviderDoesNotExist,
			fmt.Sprintf("data provider %q does not exist", parts[0]))
	}
	return p.DataChunk(ctx, l, parts[1:])
}

func (l *Ledger) provider(name string) (Provider, bool) {
	if p, ok := l.scoped[name]; ok {
		return p, true
	}
	if l.registry == nil {
		return nil, false
	}
	return l.registry.Get(name)
}

// SplitPath splits a dotted path. "\." is a literal dot and "\\" a literal
// backslash.
func SplitPath(path string) []string {
	var (
		parts []string
		cur   strings.Builder
	)
	for i := 0; i < len(path); i++ {
		c := path[i]
		switch {
		case c == '\\' && i+1 < len(path) && (path[i+1] == '.' || path[i+1] == '\\'):
			cur.WriteByte(path[i+1])
			i++
		case c == '.':
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	return append(parts, cur.String())
}

// EscapeSegment escapes a segment for use inside a dotted path.
func EscapeSegment(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, ".", `\.`)
}
