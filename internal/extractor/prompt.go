package extractor

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"basegraph.app/coordinator/internal/model"
)

const promptTimeLayout = "2006-01-02 15:04"

const systemPrompt = `You are a coordination assistant analyzing Google Docs collaboration data.

Your task is to extract actionable coordination information to help teams work together effectively.

Extract THREE types of information:

1. **OPEN QUESTIONS** - Unresolved questions from comments
   - Must be explicit questions (ending with "?" or clearly interrogative)
   - NOT rhetorical or already answered
   - Include who asked and any quoted context
   - Assign priority based on impact on project progress

2. **DECISIONS** - Clear agreements or resolutions from discussions
   - Look for phrases like "agreed", "decided", "let's go with", "resolved"
   - Only include if there's clear resolution, not ongoing debate
   - Note who made/agreed to the decision

3. **NEXT STEPS** - Actionable tasks the team should do next
   - ALWAYS generate at least 1-2 next steps based on available data
   - Suggest steps to resolve any open questions
   - Suggest follow-ups if activity is low or one-sided
   - If comments mention tasks, deadlines, or responsibilities, extract them
   - Assign to specific people when mentioned
   - Prioritize by urgency and blocking nature
   - Provide brief rationale for each step

RULES:
- For QUESTIONS and DECISIONS: only extract items explicitly visible in the data
- For NEXT STEPS: infer reasonable action items from the context (open questions, activity patterns, stalled discussions)
- Be concise and actionable
- When uncertain about priority, default to "medium"`

// stricterInstruction is appended to the system prompt after a response that
// did not match the schema.
const stricterInstruction = `

IMPORTANT: your previous answer did not match the required JSON schema.
Respond with a single JSON object containing exactly the keys "questions", "decisions" and "next_steps", each an array.
Every priority must be one of "high", "medium" or "low".
Every decision date must be an empty string or a date in YYYY-MM-DD form.
Use an empty string for any optional field you cannot fill. Do not add other keys or any text outside the JSON object.`

type authorActivity struct {
	name     string
	count    int
	lastEdit time.Time
}

func buildUserPrompt(in Input) string {
	var sb strings.Builder

	title := model.UnknownDocumentTitle
	docID := in.DocumentID
	if in.Metadata != nil {
		title = in.Metadata.Title
		if in.Metadata.ID != "" {
			docID = in.Metadata.ID
		}
	}
	fmt.Fprintf(&sb, "## Document: %s\n", title)
	fmt.Fprintf(&sb, "Document ID: %s\n\n", docID)

	if len(in.Comments) > 0 {
		sb.WriteString("## UNRESOLVED COMMENTS\n\n")
		for i, c := range in.Comments {
			fmt.Fprintf(&sb, "### Comment %d\n", i+1)
			fmt.Fprintf(&sb, "**Author**: %s\n", c.Author.DisplayName)
			fmt.Fprintf(&sb, "**Posted**: %s\n", c.CreatedTime.UTC().Format(promptTimeLayout))
			if c.QuotedContent != "" {
				fmt.Fprintf(&sb, "**Quoted text**: %q\n", c.QuotedContent)
			}
			if c.ID != "" {
				fmt.Fprintf(&sb, "**Comment ID**: %s\n", c.ID)
			}
			fmt.Fprintf(&sb, "**Content**: %s\n", c.Content)
			if len(c.Replies) > 0 {
				fmt.Fprintf(&sb, "**Replies** (%d):\n", len(c.Replies))
				for _, r := range c.Replies {
					fmt.Fprintf(&sb, "  - %s: %s\n", r.Author.DisplayName, r.Content)
				}
			}
			sb.WriteString("\n")
		}
	} else {
		sb.WriteString("## COMMENTS: None found\n\n")
	}

	if len(in.Revisions) > 0 {
		fmt.Fprintf(&sb, "## RECENT ACTIVITY (%d revisions)\n\n", len(in.Revisions))
		for _, a := range activityByAuthor(in.Revisions) {
			fmt.Fprintf(&sb, "- **%s**: %d edits, last at %s\n",
				a.name, a.count, a.lastEdit.UTC().Format(promptTimeLayout))
		}
		sb.WriteString("\n")
	} else {
		sb.WriteString("## ACTIVITY: No recent revisions\n\n")
	}

	sb.WriteString("---\nBased on the above, extract questions, decisions, and next steps.")
	return sb.String()
}

// activityByAuthor groups attributed revisions by author, most active first.
// Ties are broken by name so the prompt is stable.
func activityByAuthor(revisions []model.Revision) []authorActivity {
	byName := make(map[string]*authorActivity)
	for _, r := range revisions {
		if r.Author == nil || r.Author.DisplayName == "" {
			continue
		}
		a, ok := byName[r.Author.DisplayName]
		if !ok {
			a = &authorActivity{name: r.Author.DisplayName, lastEdit: r.ModifiedTime}
			byName[a.name] = a
		}
		a.count++
		if r.ModifiedTime.After(a.lastEdit) {
			a.lastEdit = r.ModifiedTime
		}
	}

	out := make([]authorActivity, 0, len(byName))
	for _, a := range byName {
		out = append(out, *a)
	}
	slices.SortFunc(out, func(x, y authorActivity) int {
		if c := cmp.Compare(y.count, x.count); c != 0 {
			return c
		}
		return cmp.Compare(x.name, y.name)
	})
	return out
}
