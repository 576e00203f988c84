package cli

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// version is set at link time with -ldflags "-X".
var version = "dev"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "concur %s\n", version)
			info, ok := debug.ReadBuildInfo()
			if !ok {
				return nil
			}
			fmt.Fprintf(out, "go: %s\n", info.GoVersion)
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs.revision", "vcs.time", "vcs.modified":
					fmt.Fprintf(out, "%s: %s\n", setting.Key, setting.Value)
				}
			}
			return nil
		},
	}
}
