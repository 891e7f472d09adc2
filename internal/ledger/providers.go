package ledger

import (
	"context"
	"strconv"
)

// MapProvider serves a nested map, e.g. page parameters or the outputs of
// earlier workflow nodes. Missing keys resolve to nil.
type MapProvider struct {
	name string
	data map[string]any
}

// NewMapProvider returns a provider named name over data.
func NewMapProvider(name string, data map[string]any) *MapProvider {
	return &MapProvider{name: name, data: data}
}

// Type implements Provider.
func (p *MapProvider) Type() string { return p.name }

// DataChunk walks maps by key and slices by index.
func (p *MapProvider) DataChunk(_ context.Context, _ *Ledger, path []string) (any, error) {
	var cur any = p.data
	for _, seg := range path {
		switch node := cur.(type) {
		case map[string]any:
			cur = node[seg]
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, nil
			}
			cur = node[i]
		default:
			return nil, nil
		}
	}
	return cur, nil
}

// RowProviderName is the namespace of the row being written.
const RowProviderName = "row"

// NewRowProvider exposes the values of one row keyed by field name.
func NewRowProvider(values map[string]any) *MapProvider {
	return NewMapProvider(RowProviderName, values)
}
