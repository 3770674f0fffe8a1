package model

import (
	"slices"
	"time"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Badge maps a priority to its marker. Unknown values map to "".
func (p Priority) Badge() string {
	switch p {
	case PriorityHigh:
		return "🔴"
	case PriorityMedium:
		return "🟡"
	case PriorityLow:
		return "🟢"
	}
	return ""
}

type Question struct {
	Text      string   `json:"text"`
	Author    string   `json:"author"`
	Priority  Priority `json:"priority"`
	Context   string   `json:"context,omitempty"`
	CommentID string   `json:"comment_id,omitempty"`
}

type Decision struct {
	Summary   string     `json:"summary"`
	DecidedBy string     `json:"decided_by"`
	Date      *time.Time `json:"date,omitempty"`
	Context   string     `json:"context,omitempty"`
}

type NextStep struct {
	Description string   `json:"description"`
	Assignee    string   `json:"assignee,omitempty"`
	Priority    Priority `json:"priority"`
	Rationale   string   `json:"rationale,omitempty"`
	Source      string   `json:"source,omitempty"`
}

// DataCompleteness records which sources made it into a snapshot.
type DataCompleteness struct {
	CommentsFetched     bool     `json:"comments_fetched"`
	ActivityFetched     bool     `json:"activity_fetched"`
	MetadataFetched     bool     `json:"metadata_fetched"`
	AIAnalysisCompleted bool     `json:"ai_analysis_completed"`
	Errors              []string `json:"errors"`
}

// CoordinationSnapshot is the result of one analysis run. It is built once by
// the coordinator and never mutated afterwards; slices are non-nil so the JSON
// form always carries arrays.
type CoordinationSnapshot struct {
	SnapshotID       string           `json:"snapshot_id"`
	DocumentID       string           `json:"document_id"`
	DocumentTitle    string           `json:"document_title"`
	GeneratedAt      time.Time        `json:"generated_at"`
	SinceHours       int              `json:"since_hours"`
	Contributors     []string         `json:"contributors"`
	Questions        []Question       `json:"questions"`
	Decisions        []Decision       `json:"decisions"`
	NextSteps        []NextStep       `json:"next_steps"`
	DataCompleteness DataCompleteness `json:"data_completeness"`
	RawCommentCount  int              `json:"raw_comment_count"`
	RawRevisionCount int              `json:"raw_revision_count"`
}

// Contributors returns the sorted, de-duplicated display names of everyone who
// commented, replied or authored a revision.
func Contributors(comments []Comment, revisions []Revision) []string {
	seen := make(map[string]struct{})
	add := func(name string) {
		if name != "" {
			seen[name] = struct{}{}
		}
	}

	for _, c := range comments {
		add(c.Author.DisplayName)
		for _, r := range c.Replies {
			add(r.Author.DisplayName)
		}
	}
	for _, r := range revisions {
		if r.Author != nil {
			add(r.Author.DisplayName)
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
