package presenter

import (
	"fmt"
	"strings"

	"basegraph.app/coordinator/internal/model"
)

const (
	noQuestions = "*No open questions found*"
	noDecisions = "*No recent decisions found*"
	noNextSteps = "*No next steps generated*"
)

// Render returns the Markdown report for s. It reads nothing but s, so the
// same snapshot always renders to the same bytes.
func Render(s *model.CoordinationSnapshot) string {
	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}

	line("# Coordination Snapshot: %s", s.DocumentTitle)
	line("**Document ID**: `%s`", s.DocumentID)
	line("**Generated**: %s", s.GeneratedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	line("**Analysis Period**: Last %d hours", s.SinceHours)
	line("")

	dc := s.DataCompleteness
	line("## 📊 Data Status")
	line("%s Comments: %d unresolved", check(dc.CommentsFetched), s.RawCommentCount)
	line("%s Activity: %d revisions", check(dc.ActivityFetched), s.RawRevisionCount)
	line("%s Metadata: Retrieved", check(dc.MetadataFetched))
	aiStatus := "Failed"
	if dc.AIAnalysisCompleted {
		aiStatus = "Completed"
	}
	line("%s AI Analysis: %s", check(dc.AIAnalysisCompleted), aiStatus)
	if len(dc.Errors) > 0 {
		line("")
		line("**⚠️ Errors encountered:**")
		for _, e := range dc.Errors {
			line("- %s", e)
		}
	}
	line("")

	if len(s.Contributors) > 0 {
		line("## 👥 Contributors")
		for _, c := range s.Contributors {
			line("- %s", c)
		}
		line("")
	}

	line("## 📌 Open Questions (%d)", len(s.Questions))
	if len(s.Questions) == 0 {
		line(noQuestions)
	}
	for i, q := range s.Questions {
		line("")
		line("### %d. %s%s", i+1, q.Text, badge(q.Priority))
		line("**Asked by**: %s", q.Author)
		if q.Context != "" {
			line("**Context**: \"%s\"", q.Context)
		}
	}
	line("")

	line("## ✅ Recent Decisions (%d)", len(s.Decisions))
	if len(s.Decisions) == 0 {
		line(noDecisions)
	}
	for i, d := range s.Decisions {
		line("")
		line("### %d. %s", i+1, d.Summary)
		line("**Decided by**: %s", d.DecidedBy)
		if d.Date != nil {
			line("**When**: %s", d.Date.Format("2006-01-02"))
		}
		if d.Context != "" {
			line("**Context**: %s", d.Context)
		}
	}
	line("")

	line("## 🔜 Suggested Next Steps (%d)", len(s.NextSteps))
	if len(s.NextSteps) == 0 {
		line(noNextSteps)
	}
	for i, step := range s.NextSteps {
		assignee := " → *Unassigned*"
		if step.Assignee != "" {
			assignee = fmt.Sprintf(" → **%s**", step.Assignee)
		}
		line("")
		line("### %d. %s%s%s", i+1, step.Description, badge(step.Priority), assignee)
		if step.Rationale != "" {
			line("**Rationale**: %s", step.Rationale)
		}
	}

	return b.String()
}

func check(ok bool) string {
	if ok {
		return "✅"
	}
	return "❌"
}

func badge(p model.Priority) string {
	if b := p.Badge(); b != "" {
		return " " + b
	}
	return ""
}
