package winebot

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/winebot/winebot/api/pkg/version"
)

func newVersionCommand() *cobra.Command {
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(*cobra.Command, []string) {
			fmt.Println(version.BuildVersion())
		},
	}
	return versionCmd
}
