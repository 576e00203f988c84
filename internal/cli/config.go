package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/concur/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Work with concur configuration files",
	}
	cmd.AddCommand(newConfigLintCmd())
	return cmd
}

func newConfigLintCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lint [PATH]",
		Short: "Validate a configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			explicit := ""
			if len(args) == 1 {
				explicit = args[0]
			}
			dir, err := os.Getwd()
			if err != nil {
				return fail(fmt.Errorf("resolve working directory: %w", err))
			}
			path, err := config.Locate(explicit, dir)
			if err != nil {
				return fail(err)
			}
			if path == "" {
				return fail(fmt.Errorf("no %s in %s", config.DefaultFile, dir))
			}

			doc, err := config.Load(path)
			if err != nil {
				return fail(err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: OK\n", doc.Path)
			return nil
		},
	}
	return cmd
}
