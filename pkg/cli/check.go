package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/platinummonkey/tenantauthz/pkg/rbac"
)

// ErrDenied is returned by the check command when access is denied
var ErrDenied = errors.New("permission denied")

func newCheckCommand() *Command {
	return &Command{
		Name:        "check",
		Description: "Evaluate a permission check and print the decision",
		Flags:       newFlagSet("check"),
		Run:         runCheck,
	}
}

func runCheck(args []string) error {
	flags := newFlagSet("check")
	user := flags.Int64("user", 0, "User ID")
	tenant := flags.Int64("tenant", 0, "Active tenant ID")
	target := flags.Int64("target-tenant", 0, "Tenant owning the resource (default: active tenant)")
	permission := flags.String("permission", "", "Permission as Resource:Action")
	resourceID := flags.String("resource-id", "", "Concrete resource ID")
	operation := flags.String("operation", "", "Cross-tenant operation type")

	if err := flags.Parse(args); err != nil {
		return err
	}
	perm, err := parsePermissionFlag(*permission)
	if err != nil {
		return err
	}

	return withRuntime(func(ctx context.Context, rt *runtime) error {
		result, checkErr := rt.manager.Engine().CheckPermission(ctx, rbac.PermissionCheck{
			UserID:         *user,
			TenantID:       *tenant,
			TargetTenantID: *target,
			Permission:     perm,
			ResourceID:     *resourceID,
			Operation:      rbac.OperationType(*operation),
		})
		if result != nil {
			if err := printJSON(result); err != nil {
				return err
			}
		}
		if checkErr != nil {
			return checkErr
		}
		if !result.Allowed {
			return ErrDenied
		}
		return nil
	})
}

func newPermissionsCommand() *Command {
	return &Command{
		Name:        "permissions",
		Description: "List a user's effective permissions in a tenant",
		Flags:       newFlagSet("permissions"),
		Run:         runPermissions,
	}
}

func runPermissions(args []string) error {
	flags := newFlagSet("permissions")
	user := flags.Int64("user", 0, "User ID")
	tenant := flags.Int64("tenant", 0, "Tenant ID")
	resource := flags.String("resource", "", "Also print the UI actions for this resource")

	if err := flags.Parse(args); err != nil {
		return err
	}

	return withRuntime(func(ctx context.Context, rt *runtime) error {
		engine := rt.manager.Engine()
		perms, err := engine.EffectivePermissions(ctx, *user, *tenant)
		if err != nil {
			return err
		}
		for _, perm := range perms {
			fmt.Fprintln(output, perm)
		}

		if *resource == "" {
			return nil
		}
		actions, err := engine.UIActions(ctx, *user, *tenant, rbac.Resource(*resource))
		if err != nil {
			return err
		}
		fmt.Fprintf(output, "UI actions for %s:", *resource)
		for _, a := range actions {
			fmt.Fprintf(output, " %s", a)
		}
		fmt.Fprintln(output)
		return nil
	})
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(output)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
