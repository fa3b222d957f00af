package cli

import (
	"context"
	"fmt"

	"github.com/kiranshivaraju/physique/internal/config"
	"github.com/spf13/cobra"
)

func newAnalyzeCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "analyze IMAGE_REF",
		Short: "Analyze a physique photo and print the result",
		Long: `Submit one photo for analysis and wait for its result.

IMAGE_REF is a local path, a file://, http(s):// or s3://bucket/key reference.
The job is recorded in the local ledger before it is submitted, so if the
command is interrupted the result can still be picked up with "physique resume".`,
		Example: `  # Analyze a local photo
  physique analyze ./front.jpg

  # Analyze a photo stored in S3 and print YAML
  physique analyze s3://progress-photos/2026/front.jpg --format yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			cfg, err := config.LoadClient()
			if err != nil {
				return err
			}
			return runAnalyze(cmd, cfg, args[0], format)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format (text, json, yaml)")

	return cmd
}

func runAnalyze(cmd *cobra.Command, cfg *config.ClientConfig, imageRef, format string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	c, err := startClient(ctx, cfg, imageRef, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer c.close()

	jobID, err := c.coord.StartAnalysis(ctx, imageRef)
	if err != nil {
		return fmt.Errorf("start analysis: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Analyzing %s (job %s)...\n", imageRef, jobID)

	for {
		o, err := c.await(ctx)
		if err != nil {
			return fmt.Errorf("waiting for job %s: %w", jobID, err)
		}
		if o.JobID != jobID {
			continue
		}
		if o.Failed() {
			return o.Err
		}
		c.open(o)
		return writeResult(cmd.OutOrStdout(), format, o.Result)
	}
}
