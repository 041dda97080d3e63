package coordinator

import (
	"fmt"
	"strings"

	"github.com/shaiso/Dossier/internal/domain"
)

// Сколько символов документа попадает в prompt.
const maxDocExcerpt = 4000

const synthesisSystemPrompt = "You are the editor of an intelligence dossier. " +
	"Merge the analyst contributions below into a single coherent briefing. " +
	"Resolve contradictions explicitly, drop duplicated points, keep attribution " +
	"to the contributing perspective where it matters."

// contribution — вклад одной persona, передаваемый в synthesis.
type contribution struct {
	PersonaKey string
	Output     string
}

// buildPersonaPrompt собирает prompt subagent'а из материалов briefing.
func buildPersonaPrompt(briefing *domain.Briefing, docs []domain.Document) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Briefing: %s\n\n", briefing.Name)

	if len(docs) == 0 {
		b.WriteString("No source material has been ingested for this briefing yet. " +
			"If you cannot contribute anything useful without sources, return an empty response.\n")
		return b.String()
	}

	b.WriteString("Source material:\n\n")
	for i := range docs {
		d := &docs[i]
		title := d.Title
		if title == "" {
			title = d.URL
		}
		excerpt := d.Content
		if len(excerpt) > maxDocExcerpt {
			excerpt = excerpt[:maxDocExcerpt] + "..."
		}
		fmt.Fprintf(&b, "--- %s (%s, fetched %s)\n%s\n\n",
			title, d.URL, d.FetchedAt.Format("2006-01-02"), excerpt)
	}

	b.WriteString("Write your contribution to the briefing from your assigned perspective. " +
		"Return an empty response if the material contains nothing relevant to you.\n")
	return b.String()
}

// buildSynthesisPrompt собирает prompt финального сведения из вкладов personas.
func buildSynthesisPrompt(briefing *domain.Briefing, contributions []contribution) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Briefing: %s\n", briefing.Name)
	fmt.Fprintf(&b, "Contributions: %d\n\n", len(contributions))

	if len(contributions) == 0 {
		b.WriteString("No analyst produced a contribution. " +
			"State explicitly that the briefing is empty for this period.\n")
		return b.String()
	}

	for _, contrib := range contributions {
		fmt.Fprintf(&b, "=== Perspective: %s\n%s\n\n", contrib.PersonaKey, contrib.Output)
	}

	b.WriteString("Assemble the final dossier.\n")
	return b.String()
}
