package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDependencyResolver_Expand(t *testing.T) {
	r, err := NewDependencyResolver(DefaultDependencies())
	require.NoError(t, err)

	tests := []struct {
		action Action
		want   []Action
	}{
		{ActionView, []Action{ActionView}},
		{ActionUpdate, []Action{ActionUpdate, ActionView}},
		{ActionDeleteAny, []Action{ActionDelete, ActionDeleteAny, ActionView, ActionViewAny}},
		{ActionBulkDelete, []Action{ActionBulkDelete, ActionDelete, ActionDeleteAny, ActionView, ActionViewAny}},
		{ActionManage, []Action{ActionCreate, ActionDelete, ActionManage, ActionUpdate, ActionView, ActionViewAny}},
		{Action("Custom"), []Action{Action("Custom")}},
	}

	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			assert.ElementsMatch(t, tt.want, r.Expand(tt.action).Sorted())
		})
	}
}

func TestDependencyResolver_ExpandReturnsCopy(t *testing.T) {
	r, err := NewDependencyResolver(DefaultDependencies())
	require.NoError(t, err)

	set := r.Expand(ActionUpdate)
	set[ActionManage] = struct{}{}
	assert.False(t, r.Expand(ActionUpdate).Has(ActionManage))
}

func TestDependencyResolver_Cycle(t *testing.T) {
	_, err := NewDependencyResolver(DependencyTable{
		ActionView:   {ActionUpdate},
		ActionUpdate: {ActionView},
	})
	require.ErrorIs(t, err, ErrCycleInDependencyConfig)
	assert.Contains(t, err.Error(), "Update -> View -> Update")

	_, err = NewDependencyResolver(DependencyTable{ActionManage: {ActionManage}})
	assert.ErrorIs(t, err, ErrCycleInDependencyConfig)
}

func TestDependencyResolver_ValidatePermissions(t *testing.T) {
	r, err := NewDependencyResolver(DefaultDependencies())
	require.NoError(t, err)

	warnings := r.ValidatePermissions([]Permission{
		{Resource: ResourceDocument, Action: ActionUpdate},
		{Resource: ResourceReport, Action: ActionView},
		{Resource: ResourceReport, Action: ActionUpdate},
		{Resource: ResourceDocument, Action: ActionUpdate},
	})
	require.Len(t, warnings, 1)
	assert.Equal(t, Permission{Resource: ResourceDocument, Action: ActionUpdate}, warnings[0].Permission)
	assert.Equal(t, []Action{ActionView}, warnings[0].Missing)
	assert.Equal(t, "Document:Update is granted without View", warnings[0].String())

	// Dependencies are satisfied per resource only
	warnings = r.ValidatePermissions([]Permission{
		{Resource: ResourceDocument, Action: ActionView},
		{Resource: ResourceReport, Action: ActionUpdate},
	})
	require.Len(t, warnings, 1)
	assert.Equal(t, ResourceReport, warnings[0].Permission.Resource)

	assert.Empty(t, r.ValidatePermissions(nil))
	assert.NoError(t, r.CheckStrict([]Permission{{Resource: ResourceDocument, Action: ActionView}}))
	assert.ErrorIs(t, r.CheckStrict([]Permission{{Resource: ResourceDocument, Action: ActionExport}}), ErrIncompleteDependencies)
}

func TestDependencyResolver_ConsistentActions(t *testing.T) {
	r, err := NewDependencyResolver(DefaultDependencies())
	require.NoError(t, err)

	got := r.ConsistentActions(NewActionSet(ActionView, ActionUpdate, ActionDelete, ActionExport))
	assert.Equal(t, []Action{ActionDelete, ActionUpdate, ActionView}, got.Sorted())

	got = r.ConsistentActions(NewActionSet(ActionUpdate))
	assert.Empty(t, got)

	// Narrowing never adds an action
	granted := NewActionSet(ActionManage, ActionView, ActionViewAny, ActionCreate, ActionUpdate, ActionDelete)
	got = r.ConsistentActions(granted)
	assert.Equal(t, granted.Sorted(), got.Sorted())
}
