package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resetPurgeMirror bool

var resetCmd = &cobra.Command{
	Use:   "reset TARGET",
	Short: "Forget the processed revision of a target",
	Long: `Delete the processed revision of a target so the next deployment processes
every file again. With --purge-mirror the local mirror is removed too and the
next deployment clones the repository from scratch.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(settingsFile, targetsFile)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Runner.Reset(cmd.Context(), args[0], resetPurgeMirror); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Target '%s' reset\n", args[0])
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetPurgeMirror, "purge-mirror", false, "Also remove the local mirror")
}
