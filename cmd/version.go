package cmd

import (
	"runtime"

	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("sumeria version:", version)
			cmd.Println("Go version:", runtime.Version())
			cmd.Println("Platform:", runtime.GOOS+"/"+runtime.GOARCH)
		},
	}
}
