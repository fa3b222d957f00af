package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kiranshivaraju/physique/internal/config"
	"github.com/spf13/cobra"
)

const defaultResumeWait = 30 * time.Second

func newResumeCmd() *cobra.Command {
	var (
		format string
		wait   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Wait for analyses started by an earlier run",
		Long: `List the jobs this user left pending in the ledger and deliver any that
complete while the command is listening.

Completions are only observed live; a job that finished while nothing was
listening stays in the ledger until it is resubmitted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			cfg, err := config.LoadClient()
			if err != nil {
				return err
			}
			return runResume(cmd, cfg, format, wait)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format (text, json, yaml)")
	cmd.Flags().DurationVar(&wait, "wait", defaultResumeWait, "How long to listen for completions")

	return cmd
}

func runResume(cmd *cobra.Command, cfg *config.ClientConfig, format string, wait time.Duration) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	stderr := cmd.ErrOrStderr()

	c, err := startClient(ctx, cfg, "", stderr)
	if err != nil {
		return err
	}
	defer c.close()

	pending, err := c.coord.Pending(ctx)
	if err != nil {
		return fmt.Errorf("list pending jobs: %w", err)
	}
	if len(pending) == 0 {
		fmt.Fprintln(stderr, "No pending analyses.")
		return nil
	}
	fmt.Fprintf(stderr, "Waiting up to %s for %d pending analyses...\n", wait, len(pending))

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	remaining := make(map[string]string, len(pending))
	for _, j := range pending {
		remaining[j.JobID] = j.ImageRef
	}

	var failures int
	for len(remaining) > 0 {
		o, err := c.await(waitCtx)
		if errors.Is(err, context.DeadlineExceeded) {
			break
		}
		if err != nil {
			return err
		}
		if _, ok := remaining[o.JobID]; !ok {
			continue
		}
		delete(remaining, o.JobID)

		if o.Failed() {
			failures++
			fmt.Fprintf(stderr, "%s (job %s): %v\n", o.ImageRef, o.JobID, o.Err)
			continue
		}
		c.open(o)
		fmt.Fprintf(stderr, "%s (job %s):\n", o.ImageRef, o.JobID)
		if err := writeResult(cmd.OutOrStdout(), format, o.Result); err != nil {
			return err
		}
	}

	for jobID, ref := range remaining {
		fmt.Fprintf(stderr, "%s (job %s): still pending\n", ref, jobID)
	}
	if failures > 0 {
		return fmt.Errorf("%d resumed analyses failed", failures)
	}
	return nil
}
