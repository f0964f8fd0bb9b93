package cli

import (
	"context"
	"fmt"

	"github.com/platinummonkey/tenantauthz/pkg/rbac"
)

func newAssignRoleCommand() *Command {
	return &Command{
		Name:        "assign-role",
		Description: "Assign a role to a user (tenant 0 for system roles)",
		Flags:       newFlagSet("assign-role"),
		Run:         runAssignRole,
	}
}

type roleFlags struct {
	user   *int64
	tenant *int64
	role   *string
	actor  *int64
}

func parseRoleFlags(name string, args []string) (roleFlags, error) {
	flags := newFlagSet(name)
	rf := roleFlags{
		user:   flags.Int64("user", 0, "User ID"),
		tenant: flags.Int64("tenant", 0, "Tenant ID, 0 for a system role"),
		role:   flags.String("role", "", "Role name"),
		actor:  flags.Int64("actor", 0, "User performing the change"),
	}
	if err := flags.Parse(args); err != nil {
		return rf, err
	}
	if *rf.user <= 0 {
		return rf, fmt.Errorf("-user must be a positive user id")
	}
	if *rf.role == "" {
		return rf, fmt.Errorf("-role is required")
	}
	return rf, nil
}

func runAssignRole(args []string) error {
	rf, err := parseRoleFlags("assign-role", args)
	if err != nil {
		return err
	}

	return withRuntime(func(ctx context.Context, rt *runtime) error {
		ctx = withActor(ctx, *rf.actor)
		role, err := rt.manager.Store().GetRoleByName(ctx, *rf.role, *rf.tenant)
		if err != nil {
			return fmt.Errorf("role %s: %w", *rf.role, err)
		}

		var grantedBy *int64
		if *rf.actor != 0 {
			grantedBy = rf.actor
		}
		if err := rt.manager.Admin().AssignRole(ctx, *rf.user, role.ID, *rf.tenant, grantedBy); err != nil {
			return err
		}
		fmt.Fprintf(output, "Assigned %s to user %d in tenant %d\n", role.Name, *rf.user, *rf.tenant)
		return nil
	})
}

func newRevokeRoleCommand() *Command {
	return &Command{
		Name:        "revoke-role",
		Description: "Remove a role from a user",
		Flags:       newFlagSet("revoke-role"),
		Run:         runRevokeRole,
	}
}

func runRevokeRole(args []string) error {
	rf, err := parseRoleFlags("revoke-role", args)
	if err != nil {
		return err
	}

	return withRuntime(func(ctx context.Context, rt *runtime) error {
		ctx = withActor(ctx, *rf.actor)
		role, err := rt.manager.Store().GetRoleByName(ctx, *rf.role, *rf.tenant)
		if err != nil {
			return fmt.Errorf("role %s: %w", *rf.role, err)
		}
		if err := rt.manager.Admin().RevokeRole(ctx, *rf.user, role.ID, *rf.tenant); err != nil {
			return err
		}
		fmt.Fprintf(output, "Revoked %s from user %d in tenant %d\n", role.Name, *rf.user, *rf.tenant)
		return nil
	})
}

func parsePermissionFlag(s string) (rbac.Permission, error) {
	perm, ok := rbac.ParsePermission(s)
	if !ok {
		return rbac.Permission{}, fmt.Errorf("invalid permission %q (want Resource:Action)", s)
	}
	return perm, nil
}
