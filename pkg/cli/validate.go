package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fsnotify/fsnotify"

	"github.com/platinummonkey/tenantauthz/pkg/rbac"
)

func newValidateCommand() *Command {
	cmd := &Command{
		Name:        "validate",
		Description: "Validate a policy file",
		Flags:       newFlagSet("validate"),
		Run:         runValidate,
	}

	cmd.Flags.String("policy", "", "Policy file (default policy when empty)")
	cmd.Flags.Bool("list", false, "Print the permission taxonomy")
	cmd.Flags.Bool("watch", false, "Re-validate whenever the policy file changes")

	return cmd
}

func runValidate(args []string) error {
	flags := newFlagSet("validate")
	path := flags.String("policy", "", "Policy file (default policy when empty)")
	list := flags.Bool("list", false, "Print the permission taxonomy")
	watch := flags.Bool("watch", false, "Re-validate whenever the policy file changes")

	if err := flags.Parse(args); err != nil {
		return err
	}

	if !*watch {
		return validatePolicy(*path, *list)
	}
	if *path == "" {
		return fmt.Errorf("-watch requires -policy")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return watchPolicy(ctx, *path, *list)
}

func validatePolicy(path string, list bool) error {
	policy := rbac.DefaultPolicy()
	if path != "" {
		var err error
		if policy, err = rbac.LoadPolicy(path); err != nil {
			return err
		}
	}

	perms := policy.Taxonomy().Permissions()
	gated := 0
	for _, perm := range perms {
		if policy.IsOwnershipGated(perm) {
			gated++
		}
	}

	fmt.Fprintf(output, "Policy is valid: %d permissions, %d ownership-gated, %d cross-tenant operations\n",
		len(perms), gated, len(policy.CrossTenantOperations))

	if list {
		for _, perm := range perms {
			marker := ""
			if policy.IsOwnershipGated(perm) {
				marker = " (owner)"
			}
			fmt.Fprintf(output, "  %s%s\n", perm, marker)
		}
	}
	return nil
}

// watchPolicy validates path now and after every write until ctx is done.
// The directory is watched because editors often replace the file.
func watchPolicy(ctx context.Context, path string, list bool) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	report := func() {
		if err := validatePolicy(path, list); err != nil {
			fmt.Fprintf(output, "Policy is invalid: %v\n", err)
		}
	}
	report()

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) == target && event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				report()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watcher error: %w", err)
		}
	}
}
