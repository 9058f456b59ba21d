package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{
		Use:           "deepresearch",
		Short:         "Guardrailed web research reports",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(serveCMD(), runCMD(), clarifyCMD(), migrateCMD(), pruneCMD(), tokenCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
