package main

import (
	"os"

	"github.com/portablefn/fnharness/cmd"
	"github.com/portablefn/fnharness/cmd/push"
	"github.com/portablefn/fnharness/cmd/run"
)

func main() {
	rootCmd := cmd.NewRootCommand()

	runCmd := run.NewRunCommand()
	rootCmd.AddCommand(runCmd)

	pushCmd := push.NewPushCommand()
	rootCmd.AddCommand(pushCmd)

	versionCmd := cmd.NewVersionCommand()
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
