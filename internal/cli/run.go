package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// terminalRunStatuses — статусы, после которых run уже не изменится.
var terminalRunStatuses = map[string]bool{
	"SUCCEEDED": true,
	"FAILED":    true,
	"CANCELLED": true,
}

// NewRunCmd создаёт группу команд для управления runs.
func NewRunCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Manage briefing runs",
	}

	cmd.AddCommand(
		newRunListCmd(clientFn, outputFn),
		newRunStartCmd(clientFn, outputFn),
		newRunShowCmd(clientFn, outputFn),
		newRunStatusCmd(clientFn, outputFn),
		newRunCancelCmd(clientFn, outputFn),
		newRunEventsCmd(clientFn, outputFn),
	)

	return cmd
}

func newRunListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list BRIEFING_ID",
		Short: "List runs of a briefing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			runs, err := client.ListRuns(args[0], limit)
			if err != nil {
				return err
			}

			headers := []string{"ID", "VERSION", "STATUS", "PERSONAS", "QUORUM", "CREATED"}
			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = []string{
					r.ID, strconv.Itoa(r.PlanVersion), r.Status,
					strconv.Itoa(r.TotalPersonas), strconv.Itoa(r.RequiredForSynthesis), r.CreatedAt,
				}
			}

			out.Print(headers, rows, runs)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newRunStartCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var trigger string

	cmd := &cobra.Command{
		Use:   "start BRIEFING_ID",
		Short: "Start a new briefing run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.CreateRun(args[0], CreateRunRequest{Trigger: trigger})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Run started: %s", run.ID))
			out.Print(
				[]string{"ID", "BRIEFING_ID", "VERSION", "STATUS", "CREATED"},
				[][]string{{run.ID, run.BriefingID, strconv.Itoa(run.PlanVersion), run.Status, run.CreatedAt}},
				run,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&trigger, "trigger", "", "Trigger label for duplicate-start detection")

	return cmd
}

func newRunShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show run details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.GetRun(args[0])
			if err != nil {
				return err
			}

			out.Print(
				[]string{"ID", "BRIEFING_ID", "VERSION", "STATUS", "ERROR", "CREATED"},
				[][]string{{run.ID, run.BriefingID, strconv.Itoa(run.PlanVersion), run.Status, run.Error, run.CreatedAt}},
				run,
			)
			return nil
		},
	}
}

func newRunStatusCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var showOutput bool

	cmd := &cobra.Command{
		Use:   "status ID",
		Short: "Show aggregated run status (subagents + synthesis)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			status, err := client.GetRunStatus(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Run %s: %s (synthesis: %s)",
				status.Run.ID, status.Run.Status, status.Synthesis.Status))

			headers := []string{"PERSONA", "STATUS", "ATTEMPT", "ERROR"}
			rows := make([][]string, len(status.Subagents))
			for i, s := range status.Subagents {
				rows[i] = []string{s.PersonaKey, s.Status, fmt.Sprintf("%d/%d", s.Attempt, s.MaxAttempts), s.Error}
			}

			out.Print(headers, rows, status)

			if showOutput && status.Synthesis.Output != "" {
				out.Text("")
				out.Text(status.Synthesis.Output)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showOutput, "output", false, "Print the synthesized dossier text")

	return cmd
}

func newRunCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Request cooperative cancellation of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.CancelRun(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Run %s: %s", run.ID, run.Status))
			return nil
		},
	}
}

func newRunEventsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var cursor string
	var limit int
	var follow bool

	cmd := &cobra.Command{
		Use:   "events RUN_ID",
		Short: "Show the run event log (keyset-paginated)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			runID := args[0]

			for {
				page, err := client.ListEvents(runID, cursor, limit)
				if err != nil {
					return err
				}

				if len(page.Events) > 0 {
					headers := []string{"SEQ", "OCCURRED", "TYPE", "MESSAGE"}
					rows := make([][]string, len(page.Events))
					for i, e := range page.Events {
						rows[i] = []string{strconv.FormatInt(e.SequenceID, 10), e.OccurredAt, e.Type, e.Message}
					}
					out.Print(headers, rows, page.Events)
				}

				if page.NextCursor != "" {
					cursor = page.NextCursor
				}

				if !follow {
					if page.NextCursor == "" {
						return nil
					}
					continue
				}

				// Follow-режим: дочитали хвост — проверяем терминальность
				if page.NextCursor == "" {
					run, err := client.GetRun(runID)
					if err != nil {
						return err
					}
					if terminalRunStatuses[run.Status] {
						out.Success(fmt.Sprintf("Run finished: %s", run.Status))
						return nil
					}
					time.Sleep(2 * time.Second)
				}
			}
		},
	}

	cmd.Flags().StringVar(&cursor, "cursor", "", "Resume from an opaque cursor")
	cmd.Flags().IntVar(&limit, "limit", 0, "Page size")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep polling until the run finishes")

	return cmd
}
