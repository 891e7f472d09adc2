package trash

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridbase/gridbase/internal/catalog"
	"github.com/gridbase/gridbase/internal/errors"
	"github.com/gridbase/gridbase/pkg/types"
)

type stubType struct {
	tag, parent string
}

func (s stubType) Type() string           { return s.tag }
func (s stubType) ParentType() string     { return s.parent }
func (s stubType) RequiresParentID() bool { return false }

func (stubType) Lookup(context.Context, *catalog.Tx, int64, *int64) (*Item, error) {
	return nil, errors.ErrTrashItemDoesNotExist
}

func (stubType) Trash(context.Context, *catalog.Tx, types.UserID, *Item) ([]types.TrashItemRef, error) {
	return nil, nil
}

func (stubType) Restore(context.Context, *catalog.Tx, types.UserID, *Item) error { return nil }

func (stubType) PermanentlyDelete(context.Context, *catalog.Tx, *Item) error { return nil }

var childOf = map[string]string{
	types.TrashTypeWorkspace:   types.TrashTypeApplication,
	types.TrashTypeApplication: types.TrashTypeTable,
	types.TrashTypeTable:       types.TrashTypeField,
}

func stubRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(stubType{types.TrashTypeWorkspace, ""})
	r.MustRegister(stubType{types.TrashTypeApplication, types.TrashTypeWorkspace})
	r.MustRegister(stubType{types.TrashTypeTable, types.TrashTypeApplication})
	r.MustRegister(stubType{types.TrashTypeField, types.TrashTypeTable})
	r.MustRegister(stubType{types.TrashTypeRow, types.TrashTypeTable})
	return r
}

func TestRegistry_DepthAndChildren(t *testing.T) {
	r := stubRegistry()
	assert.Equal(t, 0, r.Depth(types.TrashTypeWorkspace))
	assert.Equal(t, 2, r.Depth(types.TrashTypeTable))
	assert.Equal(t, 3, r.Depth(types.TrashTypeRow))
	assert.Equal(t, []string{types.TrashTypeField, types.TrashTypeRow}, r.ChildTypes(types.TrashTypeTable))

	err := r.Register(stubType{types.TrashTypeRow, types.TrashTypeTable})
	assert.Equal(t, errors.CodeTypeAlreadyRegistered, errors.GetCode(err))

	_, err = r.Get("bookmark")
	assert.Equal(t, errors.CodeTrashTypeDoesNotExist, errors.GetCode(err))
}

func TestDeletionOrder_ChildrenBeforeParents(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	tableID, fieldID := int64(10), int64(20)
	entries := []*types.TrashEntry{
		{ID: 1, ItemType: types.TrashTypeTable, ItemID: tableID, TrashedAt: base},
		{ID: 2, ItemType: types.TrashTypeRow, ItemID: 5, ParentItemID: &tableID, TrashedAt: base.Add(time.Minute)},
		{ID: 3, ItemType: types.TrashTypeField, ItemID: fieldID, ParentItemID: &tableID, TrashedAt: base.Add(-time.Minute)},
		{ID: 4, ItemType: types.TrashTypeWorkspace, ItemID: 1, TrashedAt: base},
	}

	got := deletionOrder(entries, stubRegistry())
	ids := make([]int64, len(got))
	for i, e := range got {
		ids[i] = e.ID
	}
	assert.Equal(t, []int64{3, 2, 1, 4}, ids)
}

func TestProperty_DeletionOrderRespectsParents(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)
	registry := stubRegistry()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	properties.Property("every entry precedes the entry of its parent", prop.ForAll(
		func(seeds []int) bool {
			entries := make([]*types.TrashEntry, len(seeds))
			parentOf := make(map[int64]int64)
			for i, seed := range seeds {
				e := &types.TrashEntry{
					ID:        int64(i + 1),
					ItemType:  types.TrashTypeWorkspace,
					ItemID:    int64(i + 100),
					TrashedAt: base.Add(time.Duration(seed%50) * time.Minute),
				}
				if i > 0 && seed%4 != 0 {
					p := entries[seed%i]
					if child, ok := childOf[p.ItemType]; ok {
						e.ItemType = child
						itemID := p.ItemID
						e.ParentItemID = &itemID
						if seed%2 == 0 {
							entryID := p.ID
							e.ParentEntryID = &entryID
						}
						parentOf[e.ID] = p.ID
					}
				}
				entries[i] = e
			}

			got := deletionOrder(entries, registry)
			if len(got) != len(entries) {
				return false
			}
			pos := make(map[int64]int, len(got))
			for i, e := range got {
				if _, dup := pos[e.ID]; dup {
					return false
				}
				pos[e.ID] = i
			}
			for child, parent := range parentOf {
				if pos[child] > pos[parent] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 1000)),
	))

	properties.TestingRun(t)
}

func TestDeletionOrder_Empty(t *testing.T) {
	require.Empty(t, deletionOrder(nil, stubRegistry()))
}
