package rbac

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Policy is the static authorization configuration loaded once at startup:
// which permissions exist, how actions depend on each other, which
// permissions are ownership-gated and which operations may cross tenants.
type Policy struct {
	// Resources maps each resource type to its actions. An empty list means
	// every action in the taxonomy.
	Resources map[Resource][]Action `yaml:"resources"`

	// Dependencies maps an action to the actions it functionally requires
	Dependencies DependencyTable `yaml:"dependencies"`

	// OwnershipGated lists "Resource:Action" pairs that require the caller to
	// be the resource creator when a concrete resource id is checked.
	// "Resource:*" gates every action on the resource.
	OwnershipGated []string `yaml:"ownership_gated"`

	// CrossTenantOperations lists the operation types system roles may be
	// granted. Empty means any non-empty operation is accepted.
	CrossTenantOperations []OperationType `yaml:"cross_tenant_operations"`

	// StrictDependencies rejects role grants with missing dependencies
	StrictDependencies bool `yaml:"strict_dependencies"`
}

// DefaultPolicy returns the built-in policy
func DefaultPolicy() *Policy {
	return &Policy{
		Resources: map[Resource][]Action{
			ResourceUser:     nil,
			ResourceRole:     nil,
			ResourceTenant:   nil,
			ResourceDocument: nil,
			ResourceReport:   nil,
			ResourceInvoice:  nil,
			ResourceSettings: {ActionView, ActionUpdate, ActionManage},
		},
		Dependencies: DefaultDependencies(),
		OwnershipGated: []string{
			"Document:Update",
			"Document:Delete",
			"Report:Update",
			"Report:Delete",
		},
		CrossTenantOperations: []OperationType{
			OperationTenantSupport,
			OperationTenantProvisioning,
			OperationAuditReview,
		},
	}
}

// LoadPolicy reads a YAML policy file. Sections missing from the file
// take their values from DefaultPolicy.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy parses a YAML policy document
func ParsePolicy(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}

	defaults := DefaultPolicy()
	if p.Resources == nil {
		p.Resources = defaults.Resources
	}
	if p.Dependencies == nil {
		p.Dependencies = defaults.Dependencies
	}
	if p.OwnershipGated == nil {
		p.OwnershipGated = defaults.OwnershipGated
	}
	if p.CrossTenantOperations == nil {
		p.CrossTenantOperations = defaults.CrossTenantOperations
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks that every name in the policy belongs to the taxonomy
func (p *Policy) Validate() error {
	known := make(map[Action]bool)
	for _, a := range AllActions() {
		known[a] = true
	}

	if len(p.Resources) == 0 {
		return fmt.Errorf("%w: no resources defined", ErrInvalidPolicy)
	}
	for res, actions := range p.Resources {
		if res == "" {
			return fmt.Errorf("%w: empty resource name", ErrInvalidPolicy)
		}
		for _, a := range actions {
			if !known[a] {
				return fmt.Errorf("%w: resource %s has unknown action %q", ErrInvalidPolicy, res, a)
			}
		}
	}

	for from, deps := range p.Dependencies {
		if !known[from] {
			return fmt.Errorf("%w: dependency on unknown action %q", ErrInvalidPolicy, from)
		}
		for _, to := range deps {
			if !known[to] {
				return fmt.Errorf("%w: %s depends on unknown action %q", ErrInvalidPolicy, from, to)
			}
		}
	}

	for _, gated := range p.OwnershipGated {
		perm, ok := ParsePermission(gated)
		if !ok {
			return fmt.Errorf("%w: malformed ownership entry %q", ErrInvalidPolicy, gated)
		}
		if _, ok := p.Resources[perm.Resource]; !ok {
			return fmt.Errorf("%w: ownership entry %q names unknown resource", ErrInvalidPolicy, gated)
		}
		if perm.Action != "*" && !known[perm.Action] {
			return fmt.Errorf("%w: ownership entry %q names unknown action", ErrInvalidPolicy, gated)
		}
	}

	return nil
}

// Taxonomy builds the set of valid permissions
func (p *Policy) Taxonomy() *Taxonomy {
	t := &Taxonomy{perms: make(map[Permission]struct{})}
	for res, actions := range p.Resources {
		if len(actions) == 0 {
			actions = AllActions()
		}
		for _, a := range actions {
			t.perms[Permission{Resource: res, Action: a}] = struct{}{}
		}
	}
	return t
}

// IsOwnershipGated reports whether perm requires the caller to own the resource
func (p *Policy) IsOwnershipGated(perm Permission) bool {
	for _, gated := range p.OwnershipGated {
		g, ok := ParsePermission(gated)
		if !ok || g.Resource != perm.Resource {
			continue
		}
		if g.Action == "*" || g.Action == perm.Action {
			return true
		}
	}
	return false
}

// Taxonomy is the global set of permissions
type Taxonomy struct {
	perms map[Permission]struct{}
}

// Contains reports whether perm is defined
func (t *Taxonomy) Contains(perm Permission) bool {
	_, ok := t.perms[perm]
	return ok
}

// Permissions returns every defined permission in a stable order
func (t *Taxonomy) Permissions() []Permission {
	perms := make([]Permission, 0, len(t.perms))
	for p := range t.perms {
		perms = append(perms, p)
	}
	SortPermissions(perms)
	return perms
}

// Actions returns the defined actions for a resource in a stable order
func (t *Taxonomy) Actions(res Resource) []Action {
	var actions []Action
	for p := range t.perms {
		if p.Resource == res {
			actions = append(actions, p.Action)
		}
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i] < actions[j] })
	return actions
}
