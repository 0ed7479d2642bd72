package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDoc() Doc {
	d := NewDoc("list-1")
	d.ListName = "Groceries"
	d.ListNameUpdatedAt = 10
	d.Items["1"] = Item{ID: "1", Text: "milk", UpdatedAt: 100, UpdatedBy: "alice"}
	d.Items["2"] = Item{ID: "2", Text: "bread", Checked: true, UpdatedAt: 120, UpdatedBy: "bob"}
	d.Tombstones["3"] = 90
	d.UpdatedAt = 120
	return d
}

func TestDocClone_Independent(t *testing.T) {
	d := sampleDoc()
	c := d.Clone()
	require.True(t, d.Equal(c))

	c.Items["4"] = Item{ID: "4", Text: "eggs", UpdatedAt: 200}
	c.Tombstones["1"] = 500

	assert.NotContains(t, d.Items, "4")
	assert.NotContains(t, d.Tombstones, "1")
}

func TestDocClone_NilMaps(t *testing.T) {
	var d Doc
	c := d.Clone()
	assert.NotNil(t, c.Items)
	assert.NotNil(t, c.Tombstones)
}

func TestDocEqual(t *testing.T) {
	a := sampleDoc()
	b := sampleDoc()
	assert.True(t, a.Equal(b))

	b.Items["1"] = Item{ID: "1", Text: "oat milk", UpdatedAt: 100, UpdatedBy: "alice"}
	assert.False(t, a.Equal(b))

	c := sampleDoc()
	c.Tombstones["3"] = 91
	assert.False(t, a.Equal(c))

	e := sampleDoc()
	e.ListName = "Other"
	assert.False(t, a.Equal(e))

	assert.True(t, Doc{ListID: "x"}.Equal(NewDoc("x")), "nil and empty maps compare equal")
}

func TestDocValidate(t *testing.T) {
	assert.NoError(t, sampleDoc().Validate())

	shadowed := sampleDoc()
	shadowed.Tombstones["1"] = 100
	assert.Error(t, shadowed.Validate())

	miskeyed := sampleDoc()
	miskeyed.Items["x"] = Item{ID: "y", UpdatedAt: 1}
	assert.Error(t, miskeyed.Validate())
}

func TestDocSortedItems(t *testing.T) {
	d := NewDoc("l")
	d.Items["a"] = Item{ID: "a", Checked: true, UpdatedAt: 500}
	d.Items["b"] = Item{ID: "b", UpdatedAt: 100}
	d.Items["c"] = Item{ID: "c", UpdatedAt: 300}
	d.Items["d"] = Item{ID: "d", UpdatedAt: 300}

	var ids []string
	for _, item := range d.SortedItems() {
		ids = append(ids, item.ID)
	}
	assert.Equal(t, []string{"c", "d", "b", "a"}, ids)
}

func TestDocJSONShape(t *testing.T) {
	data, err := json.Marshal(sampleDoc())
	require.NoError(t, err)

	var back Doc
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, sampleDoc().Equal(back))
	assert.Contains(t, string(data), `"list_name_updated_at":10`)
}

func TestSessionValid(t *testing.T) {
	assert.False(t, Session{}.Valid())
	assert.True(t, Session{ActorID: "a", ListID: "l", InviteCode: "C"}.Valid())
}

func TestPendingOpValidate(t *testing.T) {
	valid := []PendingOp{
		{Type: PendingAdd, Text: "milk"},
		{Type: PendingToggle, ItemID: "1", Checked: true},
		{Type: PendingEdit, ItemID: "1", Text: "oat milk"},
		{Type: PendingRemove, ItemID: "1"},
		{Type: PendingRename, Name: "Weekend"},
	}
	for _, p := range valid {
		assert.NoError(t, p.Validate(), "%+v", p)
	}

	invalid := []PendingOp{
		{Type: PendingAdd},
		{Type: PendingToggle},
		{Type: PendingEdit, ItemID: "1"},
		{Type: PendingRemove},
		{Type: PendingRename},
		{Type: "explode"},
	}
	for _, p := range invalid {
		assert.Error(t, p.Validate(), "%+v", p)
	}
}
