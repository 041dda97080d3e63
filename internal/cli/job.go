package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewJobCmd создаёт группу команд для управления jobs.
func NewJobCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect and retry queue jobs",
	}

	cmd.AddCommand(
		newJobShowCmd(clientFn, outputFn),
		newJobRetryCmd(clientFn, outputFn),
	)

	return cmd
}

func newJobShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show QUEUE ID",
		Short: "Show a job (queue: extraction or ingestion)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			job, err := client.GetJob(args[0], args[1])
			if err != nil {
				return err
			}

			out.Print(
				[]string{"ID", "QUEUE", "STATUS", "ATTEMPTS", "ERROR"},
				[][]string{{job.ID, job.Queue, job.Status,
					fmt.Sprintf("%d/%d", job.Attempts, job.MaxAttempts), job.LastError}},
				job,
			)
			return nil
		},
	}
}

func newJobRetryCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "retry QUEUE ID",
		Short: "Retry a failed job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			job, err := client.RetryJob(args[0], args[1])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Job requeued: %s", job.ID))
			return nil
		},
	}
}
