package cli

import (
	"context"
	"fmt"

	"github.com/platinummonkey/tenantauthz/pkg/observability"
)

func newHealthCommand() *Command {
	return &Command{
		Name:        "health",
		Description: "Probe the grant store and shared cache",
		Flags:       newFlagSet("health"),
		Run:         runHealth,
	}
}

func runHealth(args []string) error {
	flags := newFlagSet("health")
	if err := flags.Parse(args); err != nil {
		return err
	}

	return withRuntime(func(ctx context.Context, rt *runtime) error {
		checker := observability.NewHealthChecker()
		rt.manager.RegisterHealthChecks(checker)

		status := checker.Check(ctx)
		if err := printJSON(status); err != nil {
			return err
		}
		if status.Status == observability.StatusUnhealthy {
			return fmt.Errorf("grant store is unhealthy")
		}
		return nil
	})
}
