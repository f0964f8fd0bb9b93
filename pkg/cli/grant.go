package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/tenantauthz/pkg/rbac"
)

func newGrantCommand() *Command {
	return &Command{
		Name:        "grant",
		Description: "Grant a direct permission to a user",
		Flags:       newFlagSet("grant"),
		Run:         runGrant,
	}
}

func runGrant(args []string) error {
	flags := newFlagSet("grant")
	user := flags.Int64("user", 0, "User ID")
	tenant := flags.Int64("tenant", 0, "Tenant ID")
	permission := flags.String("permission", "", "Permission as Resource:Action")
	expires := flags.Duration("expires", 0, "Grant lifetime (0 never expires)")
	actor := flags.Int64("actor", 0, "User performing the change")

	if err := flags.Parse(args); err != nil {
		return err
	}
	if *user <= 0 || *tenant <= 0 {
		return fmt.Errorf("-user and -tenant must be positive ids")
	}
	perm, err := parsePermissionFlag(*permission)
	if err != nil {
		return err
	}

	return withRuntime(func(ctx context.Context, rt *runtime) error {
		ctx = withActor(ctx, *actor)
		dp := &rbac.DirectPermission{
			UserID:     *user,
			TenantID:   *tenant,
			Permission: perm,
		}
		if *expires > 0 {
			at := time.Now().Add(*expires).UTC()
			dp.ExpiresAt = &at
		}
		if *actor != 0 {
			dp.GrantedBy = actor
		}
		if err := rt.manager.Admin().GrantDirectPermission(ctx, dp); err != nil {
			return err
		}
		fmt.Fprintf(output, "Granted %s to user %d in tenant %d\n", perm, *user, *tenant)
		return nil
	})
}

func newRevokeCommand() *Command {
	return &Command{
		Name:        "revoke",
		Description: "Revoke a direct permission from a user",
		Flags:       newFlagSet("revoke"),
		Run:         runRevoke,
	}
}

func runRevoke(args []string) error {
	flags := newFlagSet("revoke")
	user := flags.Int64("user", 0, "User ID")
	tenant := flags.Int64("tenant", 0, "Tenant ID")
	permission := flags.String("permission", "", "Permission as Resource:Action")
	actor := flags.Int64("actor", 0, "User performing the change")

	if err := flags.Parse(args); err != nil {
		return err
	}
	perm, err := parsePermissionFlag(*permission)
	if err != nil {
		return err
	}

	return withRuntime(func(ctx context.Context, rt *runtime) error {
		ctx = withActor(ctx, *actor)
		if err := rt.manager.Admin().RevokeDirectPermission(ctx, *user, *tenant, perm); err != nil {
			return err
		}
		fmt.Fprintf(output, "Revoked %s from user %d in tenant %d\n", perm, *user, *tenant)
		return nil
	})
}

func newPurgeCommand() *Command {
	return &Command{
		Name:        "purge",
		Description: "Delete expired direct permissions, once or on a -schedule",
		Flags:       newFlagSet("purge"),
		Run:         runPurge,
	}
}

func runPurge(args []string) error {
	flags := newFlagSet("purge")
	schedule := flags.String("schedule", "", "Cron schedule, e.g. \"@every 10m\" (empty runs once)")

	if err := flags.Parse(args); err != nil {
		return err
	}

	if *schedule != "" {
		if _, err := cron.ParseStandard(*schedule); err != nil {
			return fmt.Errorf("invalid -schedule %q: %w", *schedule, err)
		}
	}

	return withRuntime(func(ctx context.Context, rt *runtime) error {
		purge := func() error {
			n, err := rt.manager.Admin().PurgeExpiredDirectPermissions(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(output, "Purged %d expired direct permissions\n", n)
			return nil
		}

		if *schedule == "" {
			return purge()
		}

		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		c := cron.New()
		if _, err := c.AddFunc(*schedule, func() {
			if err := purge(); err != nil {
				rt.log.WithError(err).Error("Purge failed")
			}
		}); err != nil {
			return fmt.Errorf("failed to schedule purge: %w", err)
		}

		rt.log.Infof("Purging expired direct permissions on schedule %q", *schedule)
		c.Start()
		<-ctx.Done()

		rt.log.Info("Stopping purge scheduler")
		<-c.Stop().Done()
		return nil
	})
}
