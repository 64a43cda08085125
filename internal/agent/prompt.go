package agent

import (
	"fmt"
	"strings"

	"github.com/codeframe-dev/codeframe/pkg/models"
)

// baseRules is the system prompt's first layer: a fixed set of rules that
// apply to every task regardless of project or task specifics.
const baseRules = `You are CodeFRAME, an autonomous software engineering agent operating on a real repository. Follow these rules on every turn:
- Always read a file with read_file before editing or reasoning about its exact contents.
- Never rewrite a whole file to make a small change; use edit_file's search/replace edits.
- Use create_file only for files that do not yet exist; use edit_file for everything else.
- Never edit a file you have not read during this session.
- Run the test suite after completing a major feature or fix, before declaring the task done.
- Never leave trailing whitespace on a line.
- When re-raising an exception, chain it to the original (raise ... from err) rather than swallowing the cause.
- Keep imports at the top of the file, not inline.`

const fileTreeOverflowLimit = 50

// BuildSystemPrompt renders the 3-layer system prompt from a task context:
// fixed base rules, project-specific preferences/tech-stack/file
// tree, and task-specific title/description/PRD/clarifications, plus a
// plan-first instruction for complexity >= 4.
func BuildSystemPrompt(ctx models.TaskContext) string {
	var b strings.Builder

	b.WriteString(baseRules)
	b.WriteString("\n\n")
	b.WriteString(renderProjectLayer(ctx))
	b.WriteString("\n\n")
	b.WriteString(renderTaskLayer(ctx))

	return b.String()
}

func renderProjectLayer(ctx models.TaskContext) string {
	var b strings.Builder
	b.WriteString("## Project preferences\n")

	p := ctx.Preferences
	if len(p.AlwaysDo) > 0 {
		b.WriteString("Always do: " + strings.Join(p.AlwaysDo, "; ") + "\n")
	}
	if len(p.AskFirst) > 0 {
		b.WriteString("Ask first: " + strings.Join(p.AskFirst, "; ") + "\n")
	}
	if len(p.NeverDo) > 0 {
		b.WriteString("Never do: " + strings.Join(p.NeverDo, "; ") + "\n")
	}
	if len(p.Tooling) > 0 {
		tools := make([]string, 0, len(p.Tooling))
		for k, v := range p.Tooling {
			tools = append(tools, fmt.Sprintf("%s=%s", k, v))
		}
		b.WriteString("Tooling: " + strings.Join(tools, ", ") + "\n")
	}
	if len(p.TechStack) > 0 {
		b.WriteString("Tech stack: " + strings.Join(p.TechStack, ", ") + "\n")
	}

	if len(ctx.FileTree) > 0 {
		b.WriteString("\nFile tree (most relevant first")
		overflow := len(ctx.FileTree) - fileTreeOverflowLimit
		if overflow > 0 {
			b.WriteString(fmt.Sprintf(", %d more not shown", overflow))
		}
		b.WriteString("):\n")
		limit := len(ctx.FileTree)
		if limit > fileTreeOverflowLimit {
			limit = fileTreeOverflowLimit
		}
		for _, entry := range ctx.FileTree[:limit] {
			marker := ""
			if entry.IsDir {
				marker = "/"
			}
			b.WriteString("- " + entry.Path + marker + "\n")
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

const prdMaxChars = 5000

func renderTaskLayer(ctx models.TaskContext) string {
	var b strings.Builder
	b.WriteString("## Task\n")
	b.WriteString("Title: " + ctx.Task.Title + "\n")
	b.WriteString("Description: " + ctx.Task.Description + "\n")

	if ctx.RequirementsDoc != "" {
		prd := ctx.RequirementsDoc
		if len(prd) > prdMaxChars {
			prd = prd[:prdMaxChars] + "\n...[requirements document truncated]"
		}
		b.WriteString("\nRequirements document:\n" + prd + "\n")
	}

	if len(ctx.Clarifications) > 0 {
		b.WriteString("\nPreviously answered clarifications:\n")
		for _, c := range ctx.Clarifications {
			b.WriteString(fmt.Sprintf("- Q: %s\n  A: %s\n", c.Question, c.Answer))
		}
	}

	if ctx.Task.Complexity >= 4 {
		b.WriteString("\nThis task is high-complexity. Before making any edits, outline the files you intend to touch and your approach, then proceed.")
	}

	return strings.TrimRight(b.String(), "\n")
}
