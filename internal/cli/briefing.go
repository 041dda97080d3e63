package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

// NewBriefingCmd создаёт группу команд для управления briefings.
func NewBriefingCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "briefing",
		Short: "Manage briefings",
	}

	cmd.AddCommand(
		newBriefingListCmd(clientFn, outputFn),
		newBriefingCreateCmd(clientFn, outputFn),
		newBriefingShowCmd(clientFn, outputFn),
		newBriefingUpdateCmd(clientFn, outputFn),
		newBriefingSourceCmd(clientFn, outputFn),
		newBriefingDocumentsCmd(clientFn, outputFn),
	)

	return cmd
}

func newBriefingListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List briefings",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			briefings, err := client.ListBriefings()
			if err != nil {
				return err
			}

			headers := []string{"ID", "NAME", "VERSION", "PERSONAS", "QUORUM", "ACTIVE"}
			rows := make([][]string, len(briefings))
			for i, b := range briefings {
				rows[i] = []string{
					b.ID, b.Name, strconv.Itoa(b.PlanVersion),
					strconv.Itoa(len(b.Personas)), strconv.Itoa(b.RequiredForSynthesis),
					strconv.FormatBool(b.IsActive),
				}
			}

			out.Print(headers, rows, briefings)
			return nil
		},
	}
}

func newBriefingCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var planFile string
	var quorum int

	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a briefing from a persona plan file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			personas, err := readPlanFile(planFile)
			if err != nil {
				return err
			}

			briefing, err := client.CreateBriefing(CreateBriefingRequest{
				Name:                 args[0],
				Personas:             personas,
				RequiredForSynthesis: quorum,
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Briefing created: %s", briefing.ID))
			out.Print(
				[]string{"ID", "NAME", "VERSION", "PERSONAS", "QUORUM"},
				[][]string{{briefing.ID, briefing.Name, strconv.Itoa(briefing.PlanVersion),
					strconv.Itoa(len(briefing.Personas)), strconv.Itoa(briefing.RequiredForSynthesis)}},
				briefing,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&planFile, "plan", "", "JSON file with persona specs (required)")
	cmd.Flags().IntVar(&quorum, "quorum", 0, "Success-like subagents required for synthesis (0 = all)")
	cmd.MarkFlagRequired("plan")

	return cmd
}

func newBriefingShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show briefing details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			briefing, err := client.GetBriefing(args[0])
			if err != nil {
				return err
			}

			headers := []string{"KEY", "NAME", "MODEL", "DISABLED"}
			rows := make([][]string, len(briefing.Personas))
			for i, p := range briefing.Personas {
				rows[i] = []string{p.Key, p.Name, p.Model, strconv.FormatBool(p.Disabled)}
			}

			out.Success(fmt.Sprintf("%s (v%d, quorum %d, active=%v)",
				briefing.Name, briefing.PlanVersion, briefing.RequiredForSynthesis, briefing.IsActive))
			out.Print(headers, rows, briefing)
			return nil
		},
	}
}

func newBriefingUpdateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var planFile string
	var quorum int
	var activate, deactivate bool

	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Update a briefing (new plan version when personas change)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if activate && deactivate {
				return fmt.Errorf("--activate and --deactivate are mutually exclusive")
			}

			req := UpdateBriefingRequest{}
			if planFile != "" {
				personas, err := readPlanFile(planFile)
				if err != nil {
					return err
				}
				req.Personas = &personas
			}
			if cmd.Flags().Changed("quorum") {
				req.RequiredForSynthesis = &quorum
			}
			if activate {
				t := true
				req.IsActive = &t
			}
			if deactivate {
				f := false
				req.IsActive = &f
			}

			briefing, err := client.UpdateBriefing(args[0], req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Briefing updated: %s (v%d)", briefing.ID, briefing.PlanVersion))
			return nil
		},
	}

	cmd.Flags().StringVar(&planFile, "plan", "", "JSON file with new persona specs")
	cmd.Flags().IntVar(&quorum, "quorum", 0, "New synthesis quorum")
	cmd.Flags().BoolVar(&activate, "activate", false, "Activate the briefing")
	cmd.Flags().BoolVar(&deactivate, "deactivate", false, "Deactivate the briefing")

	return cmd
}

func newBriefingSourceCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "add-source BRIEFING_ID URL",
		Short: "Enqueue an extraction job for a source URL",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			job, err := client.AddSource(args[0], args[1])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Extraction job enqueued: %s", job.ID))
			out.Print(
				[]string{"ID", "QUEUE", "STATUS", "ATTEMPTS"},
				[][]string{{job.ID, job.Queue, job.Status, fmt.Sprintf("%d/%d", job.Attempts, job.MaxAttempts)}},
				job,
			)
			return nil
		},
	}
}

func newBriefingDocumentsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "documents BRIEFING_ID",
		Short: "List extracted documents of a briefing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			docs, err := client.ListDocuments(args[0])
			if err != nil {
				return err
			}

			headers := []string{"ID", "URL", "TITLE", "FETCHED"}
			rows := make([][]string, len(docs))
			for i, d := range docs {
				rows[i] = []string{d.ID, d.URL, d.Title, d.FetchedAt}
			}

			out.Print(headers, rows, docs)
			return nil
		},
	}
}

// readPlanFile читает и разбирает JSON-файл с personas.
func readPlanFile(path string) ([]PersonaSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}

	var personas []PersonaSpec
	if err := json.Unmarshal(data, &personas); err != nil {
		return nil, fmt.Errorf("parse plan file: %w", err)
	}
	return personas, nil
}
