package reasoning

import (
	"fmt"
	"strings"
	"time"

	"github.com/northhollow/keel/pkg/types"
)

// TemplateKind selects one of the fixed prompt shapes. The set is closed:
// anything else is rejected before a single byte reaches the engine.
type TemplateKind string

const (
	TemplateStatusOverview TemplateKind = "status_overview"
	TemplatePrioritization TemplateKind = "prioritization"
	TemplateEmailAnalysis  TemplateKind = "email_analysis"
	TemplateChat           TemplateKind = "chat"
)

// KnownTemplate reports whether k is one of the fixed template kinds
func KnownTemplate(k TemplateKind) bool {
	switch k {
	case TemplateStatusOverview, TemplatePrioritization, TemplateEmailAnalysis, TemplateChat:
		return true
	}
	return false
}

const systemPrompt = `You are an assistant reasoning about personal goals, projects and tasks.
Analyze the provided context carefully, identify connections between goals and
tasks, and weigh wellbeing alongside productivity. Answer only in the exact
format requested.`

// Prompt is a rendered reasoning request
type Prompt struct {
	System string
	User   string
}

// Size returns the prompt's user-content size in runes, recorded in the
// audit log in place of the content itself.
func (p Prompt) Size() int {
	return len([]rune(p.User))
}

// Render turns a context bundle into the prompt for the given template kind.
// strict requests a terser, format-only re-prompt after a parse failure.
func Render(kind TemplateKind, bundle *types.ContextBundle, strict bool) (Prompt, error) {
	if !KnownTemplate(kind) {
		return Prompt{}, fmt.Errorf("unknown template kind %q", kind)
	}

	var b strings.Builder
	switch kind {
	case TemplateStatusOverview:
		renderGoalSection(&b, bundle)
		b.WriteString(`
Produce a status overview for the goal above. Respond with a single JSON object:
{
  "summary": "<2-4 sentence status summary>",
  "progress": <integer 0-100>,
  "obstacles": ["<obstacle>", ...],
  "subtasks": [{"name": "<actionable step>", "description": "<one sentence>"}, ...]
}
Only propose subtasks that are not already present in the task list.`)

	case TemplatePrioritization:
		renderGlobalSection(&b, bundle)
		b.WriteString(`
For every task above, estimate the impact of completing it on the user's
wellbeing. Respond with a single JSON object:
{
  "scores": [{"task_id": "<id>", "wellbeing": <number 0-10>, "reasoning": "<short>"}, ...]
}
Score 10 for tasks strongly supporting health, rest or relationships, 5 for
neutral tasks, low values for tasks likely to add stress.`)

	case TemplateEmailAnalysis:
		renderItemsSection(&b, bundle)
		b.WriteString(`
Summarize what in these messages is relevant to the user's goals. Respond with
a single JSON object:
{
  "summary": "<short summary>",
  "actions": ["<suggested follow-up>", ...]
}`)

	case TemplateChat:
		renderGoalSection(&b, bundle)
		renderItemsSection(&b, bundle)
		b.WriteString("\nAnswer the user's question using the context above.\n")
	}

	if strict {
		b.WriteString(`

Your previous reply could not be parsed. Respond with the JSON object ONLY:
no prose, no markdown fences, no commentary.`)
	}

	return Prompt{System: systemPrompt, User: b.String()}, nil
}

func renderGoalSection(b *strings.Builder, bundle *types.ContextBundle) {
	if bundle.Goal != nil {
		fmt.Fprintf(b, "# Goal: %s (%s, priority %.0f)\n%s\n\n",
			bundle.Goal.Name, bundle.Goal.Level, bundle.Goal.Priority, bundle.Goal.Description)
	}
	if bundle.Biography != "" {
		fmt.Fprintf(b, "# About the user\n%s\n\n", bundle.Biography)
	}
	if len(bundle.Tasks) > 0 {
		b.WriteString("# Open tasks\n")
		for _, t := range bundle.Tasks {
			fmt.Fprintf(b, "- [%s] %s%s\n", t.ID, t.Name, deadlineSuffix(t.Deadline))
		}
		b.WriteString("\n")
	}
	renderItemsSection(b, bundle)
}

func renderGlobalSection(b *strings.Builder, bundle *types.ContextBundle) {
	if len(bundle.Goals) > 0 {
		b.WriteString("# Goals\n")
		for _, g := range bundle.Goals {
			fmt.Fprintf(b, "- [%s] %s (%s, priority %.0f)\n", g.ID, g.Name, g.Level, g.Priority)
		}
		b.WriteString("\n")
	}
	if len(bundle.Tasks) > 0 {
		b.WriteString("# Open tasks\n")
		for _, t := range bundle.Tasks {
			goal := t.GoalID
			if goal == "" {
				goal = "unassigned"
			}
			fmt.Fprintf(b, "- [%s] %s (goal %s)%s\n", t.ID, t.Name, goal, deadlineSuffix(t.Deadline))
		}
		b.WriteString("\n")
	}
	if len(bundle.Overviews) > 0 {
		b.WriteString("# Latest goal overviews\n")
		for _, ov := range bundle.Overviews {
			fmt.Fprintf(b, "- goal %s (%d%%): %s\n", ov.GoalID, ov.Progress, ov.Summary)
		}
		b.WriteString("\n")
	}
	if bundle.Wellbeing != "" {
		fmt.Fprintf(b, "# Wellbeing priorities\n%s\n\n", bundle.Wellbeing)
	}
	renderItemsSection(b, bundle)
}

func renderItemsSection(b *strings.Builder, bundle *types.ContextBundle) {
	if len(bundle.Items) == 0 {
		return
	}
	b.WriteString("# Recent signals\n")
	for _, it := range bundle.Items {
		fmt.Fprintf(b, "- %s %s: %s\n", it.OccurredAt.Format("2006-01-02"), it.Source, it.Summary)
	}
	b.WriteString("\n")
}

func deadlineSuffix(d *time.Time) string {
	if d == nil {
		return ""
	}
	return fmt.Sprintf(" (due %s)", d.Format("2006-01-02"))
}
