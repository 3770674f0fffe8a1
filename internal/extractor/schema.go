package extractor

import (
	"fmt"
	"strings"
	"time"

	"basegraph.app/coordinator/common/llm"
	"basegraph.app/coordinator/internal/model"
)

const decisionDateLayout = "2006-01-02"

// AnalysisResponse is the wire shape the model must return. Every field is
// required; optional values are sent as empty strings.
type AnalysisResponse struct {
	Questions []QuestionItem `json:"questions" jsonschema_description:"Open questions from unresolved comments, in order of importance"`
	Decisions []DecisionItem `json:"decisions" jsonschema_description:"Clear decisions reached in the discussion"`
	NextSteps []NextStepItem `json:"next_steps" jsonschema_description:"Actionable tasks the team should do next"`
}

type QuestionItem struct {
	Text      string `json:"text" jsonschema_description:"The question text"`
	Author    string `json:"author" jsonschema_description:"Who asked the question"`
	Priority  string `json:"priority" jsonschema:"enum=high,enum=medium,enum=low" jsonschema_description:"Impact on project progress"`
	Context   string `json:"context" jsonschema_description:"Quoted document text or surrounding context, empty if none"`
	CommentID string `json:"comment_id" jsonschema_description:"Source comment ID, empty if unknown"`
}

type DecisionItem struct {
	Summary   string `json:"summary" jsonschema_description:"What was decided"`
	DecidedBy string `json:"decided_by" jsonschema_description:"Who made or agreed to the decision"`
	Date      string `json:"date" jsonschema_description:"Decision date as YYYY-MM-DD, empty if unknown"`
	Context   string `json:"context" jsonschema_description:"Supporting context, empty if none"`
}

type NextStepItem struct {
	Description string `json:"description" jsonschema_description:"What needs to be done"`
	Assignee    string `json:"assignee" jsonschema_description:"Who should do it, empty if unassigned"`
	Priority    string `json:"priority" jsonschema:"enum=high,enum=medium,enum=low" jsonschema_description:"Urgency and blocking nature"`
	Rationale   string `json:"rationale" jsonschema_description:"Why this is important, empty if obvious"`
	Source      string `json:"source" jsonschema_description:"What triggered this suggestion, empty if none"`
}

var analysisSchema = llm.GenerateSchema[AnalysisResponse]()

// SchemaError reports a model response that decoded but broke the target
// schema's rules.
type SchemaError struct {
	Violations []string
}

func (e *SchemaError) Error() string {
	return "response failed schema validation: " + strings.Join(e.Violations, "; ")
}

// Result is the validated extraction output. Order is the order the model
// emitted; nothing is re-sorted.
type Result struct {
	Questions []model.Question
	Decisions []model.Decision
	NextSteps []model.NextStep
}

// validate converts a wire response into a Result, or returns a *SchemaError
// listing every violation found.
func validate(resp AnalysisResponse) (Result, error) {
	var violations []string
	violate := func(format string, args ...any) {
		violations = append(violations, fmt.Sprintf(format, args...))
	}

	if resp.Questions == nil {
		violate("questions: missing")
	}
	if resp.Decisions == nil {
		violate("decisions: missing")
	}
	if resp.NextSteps == nil {
		violate("next_steps: missing")
	}

	out := Result{
		Questions: make([]model.Question, 0, len(resp.Questions)),
		Decisions: make([]model.Decision, 0, len(resp.Decisions)),
		NextSteps: make([]model.NextStep, 0, len(resp.NextSteps)),
	}

	for i, q := range resp.Questions {
		if strings.TrimSpace(q.Text) == "" {
			violate("questions[%d].text: empty", i)
		}
		p := model.Priority(q.Priority)
		if !p.Valid() {
			violate("questions[%d].priority: %q is not high, medium or low", i, q.Priority)
		}
		out.Questions = append(out.Questions, model.Question{
			Text:      q.Text,
			Author:    q.Author,
			Priority:  p,
			Context:   q.Context,
			CommentID: q.CommentID,
		})
	}

	for i, d := range resp.Decisions {
		if strings.TrimSpace(d.Summary) == "" {
			violate("decisions[%d].summary: empty", i)
		}
		decision := model.Decision{
			Summary:   d.Summary,
			DecidedBy: d.DecidedBy,
			Context:   d.Context,
		}
		if d.Date != "" {
			t, err := time.Parse(decisionDateLayout, d.Date)
			if err != nil {
				violate("decisions[%d].date: %q is not YYYY-MM-DD", i, d.Date)
			} else {
				decision.Date = &t
			}
		}
		out.Decisions = append(out.Decisions, decision)
	}

	for i, s := range resp.NextSteps {
		if strings.TrimSpace(s.Description) == "" {
			violate("next_steps[%d].description: empty", i)
		}
		p := model.Priority(s.Priority)
		if !p.Valid() {
			violate("next_steps[%d].priority: %q is not high, medium or low", i, s.Priority)
		}
		out.NextSteps = append(out.NextSteps, model.NextStep{
			Description: s.Description,
			Assignee:    s.Assignee,
			Priority:    p,
			Rationale:   s.Rationale,
			Source:      s.Source,
		})
	}

	if len(violations) > 0 {
		return Result{}, &SchemaError{Violations: violations}
	}
	return out, nil
}
