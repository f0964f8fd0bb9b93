package cli

import (
	"context"
	"fmt"

	"github.com/platinummonkey/tenantauthz/pkg/tenancy"
)

func newBootstrapTenantCommand() *Command {
	return &Command{
		Name:        "bootstrap-tenant",
		Description: "Register a tenant and create its template roles",
		Flags:       newFlagSet("bootstrap-tenant"),
		Run:         runBootstrapTenant,
	}
}

func runBootstrapTenant(args []string) error {
	flags := newFlagSet("bootstrap-tenant")
	id := flags.Int64("id", 0, "Tenant ID")
	name := flags.String("name", "", "Tenant name")
	actor := flags.Int64("actor", 0, "User performing the change")

	if err := flags.Parse(args); err != nil {
		return err
	}
	if *id <= 0 {
		return fmt.Errorf("-id must be a positive tenant id")
	}
	if *name == "" {
		return fmt.Errorf("-name is required")
	}

	return withRuntime(func(ctx context.Context, rt *runtime) error {
		ctx = withActor(ctx, *actor)
		tenant := &tenancy.Tenant{ID: *id, Name: *name, Status: tenancy.StatusActive}
		if err := rt.manager.Admin().BootstrapTenant(ctx, tenant); err != nil {
			return err
		}
		rt.log.WithField("tenant_id", *id).Info("Tenant bootstrapped")
		fmt.Fprintf(output, "Tenant %d (%s) is active\n", *id, *name)
		return nil
	})
}

func newTenantStatusCommand() *Command {
	return &Command{
		Name:        "tenant-status",
		Description: "Change a tenant's status (active, suspended, deleted)",
		Flags:       newFlagSet("tenant-status"),
		Run:         runTenantStatus,
	}
}

func runTenantStatus(args []string) error {
	flags := newFlagSet("tenant-status")
	id := flags.Int64("id", 0, "Tenant ID")
	status := flags.String("status", "", "New status")
	actor := flags.Int64("actor", 0, "User performing the change")

	if err := flags.Parse(args); err != nil {
		return err
	}
	if *id <= 0 {
		return fmt.Errorf("-id must be a positive tenant id")
	}
	if !tenancy.Status(*status).Valid() {
		return fmt.Errorf("invalid status %q", *status)
	}

	return withRuntime(func(ctx context.Context, rt *runtime) error {
		ctx = withActor(ctx, *actor)
		if err := rt.manager.Admin().SetTenantStatus(ctx, *id, tenancy.Status(*status)); err != nil {
			return err
		}
		fmt.Fprintf(output, "Tenant %d is %s\n", *id, *status)
		return nil
	})
}
