package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"gitdeployer/internal/deployment"
	"gitdeployer/internal/history"
	"gitdeployer/internal/runner"
)

var (
	deployDryRun       bool
	deployReprocessAll bool
	deployWait         bool
	deployJSON         bool
)

var deployCmd = &cobra.Command{
	Use:   "deploy TARGET",
	Short: "Run a target's pipeline now",
	Long: `Sync the target's mirror and run its pipeline over the files changed since
the last processed revision.

The lock is held by this process only; while "gitdeployer serve" is running,
trigger deployments through its HTTP API instead.

Example:
  gitdeployer deploy site1 --dry-run --reprocess-all`,
	Args: cobra.ExactArgs(1),
	RunE: runDeploy,
}

func init() {
	deployCmd.Flags().BoolVar(&deployDryRun, "dry-run", false, "Preview the run without pulling or executing anything")
	deployCmd.Flags().BoolVar(&deployReprocessAll, "reprocess-all", false, "Process every file of the tree, ignoring the processed revision")
	deployCmd.Flags().BoolVar(&deployWait, "wait", true, "Wait for a running deployment of the target instead of failing")
	deployCmd.Flags().BoolVar(&deployJSON, "json", false, "Print the deployment as JSON")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	a, err := newApp(settingsFile, targetsFile)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := a.Runner.Deploy(ctx, args[0], runner.Options{
		DryRun:       deployDryRun,
		ReprocessAll: deployReprocessAll,
		Wait:         deployWait,
		Trigger:      history.TriggerCLI,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if deployJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(d); err != nil {
			return err
		}
	} else {
		printDeployment(out, d)
	}

	if !d.Succeeded() {
		return fmt.Errorf("deployment %s failed: %s", d.ID, d.Error)
	}
	return nil
}

func printDeployment(w io.Writer, d *deployment.Deployment) {
	mode := ""
	if d.DryRun {
		mode = " (dry run)"
	}
	fmt.Fprintf(w, "Deployment %s of '%s'%s: %s in %s\n", d.ID, d.TargetID, mode, d.Status, d.Duration().Round(time.Millisecond))
	if d.ToRevision != "" {
		fmt.Fprintf(w, "  Revisions: %s..%s\n", orNone(d.FromRevision), d.ToRevision)
	}
	fmt.Fprintf(w, "  Changes:   %d created, %d updated, %d deleted\n",
		len(d.ChangeSet.Created()), len(d.ChangeSet.Updated()), len(d.ChangeSet.Deleted()))

	for _, e := range d.Executions {
		fmt.Fprintf(w, "  %-8s %s: %s\n", e.Status, e.Processor, e.Detail)
	}
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
