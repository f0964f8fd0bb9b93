package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/platinummonkey/tenantauthz/pkg/cli"
)

func main() {
	rootCmd := cli.NewRootCommand()

	if err := rootCmd.Execute(os.Args[1:]); err != nil {
		if errors.Is(err, cli.ErrDenied) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
