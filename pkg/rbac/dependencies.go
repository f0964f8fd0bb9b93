package rbac

import (
	"fmt"
	"sort"
	"strings"
)

// DependencyTable maps an action to the actions it functionally requires.
// "Update: [View]" reads "Update depends on View": anything that allows
// Update should also allow View. The table never grants access.
type DependencyTable map[Action][]Action

// DefaultDependencies returns the built-in dependency table
func DefaultDependencies() DependencyTable {
	return DependencyTable{
		ActionViewAny:    {ActionView},
		ActionCreate:     {ActionView},
		ActionUpdate:     {ActionView},
		ActionDelete:     {ActionView},
		ActionDeleteAny:  {ActionDelete, ActionViewAny},
		ActionRestore:    {ActionView},
		ActionReplicate:  {ActionView, ActionCreate},
		ActionExport:     {ActionViewAny},
		ActionImport:     {ActionCreate},
		ActionBulkEdit:   {ActionUpdate, ActionViewAny},
		ActionBulkDelete: {ActionDeleteAny},
		ActionManage:     {ActionView, ActionViewAny, ActionCreate, ActionUpdate, ActionDelete},
	}
}

// ActionSet is an unordered set of actions
type ActionSet map[Action]struct{}

// NewActionSet builds a set from actions
func NewActionSet(actions ...Action) ActionSet {
	s := make(ActionSet, len(actions))
	for _, a := range actions {
		s[a] = struct{}{}
	}
	return s
}

// Has reports membership
func (s ActionSet) Has(a Action) bool {
	_, ok := s[a]
	return ok
}

// Sorted returns the members in lexical order
func (s ActionSet) Sorted() []Action {
	out := make([]Action, 0, len(s))
	for a := range s {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ConfigWarning flags a permission granted without the actions it depends on
type ConfigWarning struct {
	Permission Permission `json:"permission"`
	Missing    []Action   `json:"missing"`
}

func (w ConfigWarning) String() string {
	missing := make([]string, len(w.Missing))
	for i, a := range w.Missing {
		missing[i] = string(a)
	}
	return fmt.Sprintf("%s is granted without %s", w.Permission, strings.Join(missing, ", "))
}

// DependencyResolver answers closure queries over a static dependency table.
// Closures are computed once; the resolver is safe for concurrent use.
type DependencyResolver struct {
	closures map[Action]ActionSet
}

// NewDependencyResolver validates the table and precomputes every closure.
// A cycle anywhere in the table is a fatal configuration error.
func NewDependencyResolver(table DependencyTable) (*DependencyResolver, error) {
	const (
		unvisited = iota
		visiting
		done
	)

	state := make(map[Action]int)
	closures := make(map[Action]ActionSet)
	var path []Action

	var visit func(a Action) error
	visit = func(a Action) error {
		switch state[a] {
		case done:
			return nil
		case visiting:
			start := 0
			for i, p := range path {
				if p == a {
					start = i
					break
				}
			}
			cycle := make([]string, 0, len(path)-start+1)
			for _, p := range path[start:] {
				cycle = append(cycle, string(p))
			}
			cycle = append(cycle, string(a))
			return fmt.Errorf("%w: %s", ErrCycleInDependencyConfig, strings.Join(cycle, " -> "))
		}

		state[a] = visiting
		path = append(path, a)

		closure := NewActionSet(a)
		for _, dep := range table[a] {
			if err := visit(dep); err != nil {
				return err
			}
			for d := range closures[dep] {
				closure[d] = struct{}{}
			}
		}

		path = path[:len(path)-1]
		state[a] = done
		closures[a] = closure
		return nil
	}

	// Visit in a fixed order so a reported cycle is reproducible
	roots := make([]Action, 0, len(table))
	for a := range table {
		roots = append(roots, a)
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })

	for _, a := range roots {
		if err := visit(a); err != nil {
			return nil, err
		}
	}

	return &DependencyResolver{closures: closures}, nil
}

// Expand returns the action together with every action it transitively requires
func (r *DependencyResolver) Expand(a Action) ActionSet {
	closure, ok := r.closures[a]
	if !ok {
		return NewActionSet(a)
	}
	out := make(ActionSet, len(closure))
	for d := range closure {
		out[d] = struct{}{}
	}
	return out
}

// ValidatePermissions reports every permission whose dependencies on the
// same resource are not also in perms
func (r *DependencyResolver) ValidatePermissions(perms []Permission) []ConfigWarning {
	granted := make(map[Resource]ActionSet)
	for _, p := range perms {
		if granted[p.Resource] == nil {
			granted[p.Resource] = NewActionSet()
		}
		granted[p.Resource][p.Action] = struct{}{}
	}

	sorted := append([]Permission(nil), perms...)
	SortPermissions(sorted)

	var warnings []ConfigWarning
	seen := make(map[Permission]bool)
	for _, p := range sorted {
		if seen[p] {
			continue
		}
		seen[p] = true

		var missing []Action
		for _, dep := range r.Expand(p.Action).Sorted() {
			if !granted[p.Resource].Has(dep) {
				missing = append(missing, dep)
			}
		}
		if len(missing) > 0 {
			warnings = append(warnings, ConfigWarning{Permission: p, Missing: missing})
		}
	}
	return warnings
}

// CheckStrict turns configuration warnings into an error
func (r *DependencyResolver) CheckStrict(perms []Permission) error {
	warnings := r.ValidatePermissions(perms)
	if len(warnings) == 0 {
		return nil
	}
	msgs := make([]string, len(warnings))
	for i, w := range warnings {
		msgs[i] = w.String()
	}
	return fmt.Errorf("%w: %s", ErrIncompleteDependencies, strings.Join(msgs, "; "))
}

// ConsistentActions returns the granted actions whose whole closure is also
// granted. UIs use it to avoid showing, say, an edit control without a view.
// It narrows; it never adds an action that was not granted.
func (r *DependencyResolver) ConsistentActions(granted ActionSet) ActionSet {
	out := NewActionSet()
	for a := range granted {
		complete := true
		for dep := range r.Expand(a) {
			if !granted.Has(dep) {
				complete = false
				break
			}
		}
		if complete {
			out[a] = struct{}{}
		}
	}
	return out
}
