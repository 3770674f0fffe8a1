package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"basegraph.app/coordinator/common/id"
	"basegraph.app/coordinator/common/logger"
	"basegraph.app/coordinator/core/config"
	"basegraph.app/coordinator/internal/auth"
	"basegraph.app/coordinator/internal/extractor"
	"basegraph.app/coordinator/internal/model"
)

type Phase string

const (
	PhaseFetching   Phase = "FETCHING"
	PhaseExtracting Phase = "EXTRACTING"
	PhaseAssembling Phase = "ASSEMBLING"
	PhaseDone       Phase = "DONE"
)

const errAnalysisSkipped = "analysis skipped: no comment or activity data available"

var ErrEmptyDocumentID = errors.New("document id is required")

// Fetcher is the remote side of a run. Failures of the three fetches are
// recoverable; a Preflight failure is not.
type Fetcher interface {
	Preflight(ctx context.Context) error
	FetchComments(ctx context.Context, docID string, forceRefresh bool) ([]model.Comment, error)
	FetchRevisions(ctx context.Context, docID string, sinceHours int, forceRefresh bool) ([]model.Revision, error)
	FetchMetadata(ctx context.Context, docID string, forceRefresh bool) (model.DocumentMetadata, error)
}

type Extractor interface {
	Extract(ctx context.Context, in extractor.Input) (extractor.Result, error)
}

type Request struct {
	DocumentID string
	// SinceHours is the look-back window. Nil means the configured default;
	// zero is a valid, empty window.
	SinceHours   *int
	ForceRefresh bool
}

type Options struct {
	DefaultSinceHours int
	Clock             clockwork.Clock
	// OnPhase, if set, is called on entry to every phase.
	OnPhase func(Phase)
}

// Coordinator runs one analysis per call: fetch, extract, assemble.
type Coordinator struct {
	fetcher   Fetcher
	extractor Extractor
	opts      Options
}

// New builds a Coordinator. A nil extractor means no model is configured;
// every Analyze call then fails with config.ErrMissingAPIKey.
func New(fetcher Fetcher, ext Extractor, opts Options) *Coordinator {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.DefaultSinceHours < 0 {
		opts.DefaultSinceHours = 0
	}
	return &Coordinator{fetcher: fetcher, extractor: ext, opts: opts}
}

// IsFatal reports whether err belongs to the setup class that aborts a run
// instead of being folded into the snapshot.
func IsFatal(err error) bool {
	return errors.Is(err, auth.ErrCredentials) || errors.Is(err, config.ErrMissingAPIKey)
}

type fetched struct {
	comments  []model.Comment
	revisions []model.Revision
	metadata  *model.DocumentMetadata

	commentsErr  error
	revisionsErr error
	metadataErr  error
}

// Analyze produces a snapshot for req. It returns an error only for an empty
// document id or a fatal setup failure; every other failure is recorded in
// the snapshot's DataCompleteness.
func (c *Coordinator) Analyze(ctx context.Context, req Request) (*model.CoordinationSnapshot, error) {
	if req.DocumentID == "" {
		return nil, ErrEmptyDocumentID
	}

	sinceHours := c.opts.DefaultSinceHours
	if req.SinceHours != nil {
		sinceHours = max(*req.SinceHours, 0)
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		DocID:     logger.Ptr(req.DocumentID),
		Component: "coordinator",
	})
	sc := logger.StartSpan(ctx, "coordinator.analyze")
	defer sc.End()
	ctx = sc.Context()

	if c.extractor == nil {
		err := fmt.Errorf("%w: no language model configured", config.ErrMissingAPIKey)
		sc.RecordError(err)
		return nil, err
	}
	if err := c.fetcher.Preflight(ctx); err != nil {
		slog.ErrorContext(ctx, "preflight failed", "error", err)
		sc.RecordError(err)
		return nil, err
	}

	start := c.opts.Clock.Now()
	slog.InfoContext(ctx, "generating snapshot",
		"since_hours", sinceHours,
		"force_refresh", req.ForceRefresh)

	data := c.fetch(c.enter(ctx, PhaseFetching), req.DocumentID, sinceHours, req.ForceRefresh)

	completeness := model.DataCompleteness{
		CommentsFetched: data.commentsErr == nil,
		ActivityFetched: data.revisionsErr == nil,
		MetadataFetched: data.metadataErr == nil,
		Errors:          []string{},
	}
	for _, err := range []error{data.commentsErr, data.revisionsErr, data.metadataErr} {
		if err != nil {
			completeness.Errors = append(completeness.Errors, err.Error())
		}
	}

	result := extractor.Result{
		Questions: []model.Question{},
		Decisions: []model.Decision{},
		NextSteps: []model.NextStep{},
	}
	if completeness.CommentsFetched || completeness.ActivityFetched {
		extracted, err := c.extract(c.enter(ctx, PhaseExtracting), req.DocumentID, data)
		if err != nil {
			completeness.Errors = append(completeness.Errors, fmt.Sprintf("AI analysis failed: %v", err))
		} else {
			result = extracted
			completeness.AIAnalysisCompleted = true
		}
	} else {
		slog.WarnContext(ctx, "skipping extraction, no source data")
		completeness.Errors = append(completeness.Errors, errAnalysisSkipped)
	}

	c.enter(ctx, PhaseAssembling)
	title := model.UnknownDocumentTitle
	if data.metadata != nil {
		title = data.metadata.Title
	}
	snapshot := &model.CoordinationSnapshot{
		SnapshotID:       id.NewString(),
		DocumentID:       req.DocumentID,
		DocumentTitle:    title,
		GeneratedAt:      c.opts.Clock.Now().UTC(),
		SinceHours:       sinceHours,
		Contributors:     model.Contributors(data.comments, data.revisions),
		Questions:        nonNil(result.Questions),
		Decisions:        nonNil(result.Decisions),
		NextSteps:        nonNil(result.NextSteps),
		DataCompleteness: completeness,
		RawCommentCount:  len(data.comments),
		RawRevisionCount: len(data.revisions),
	}

	c.enter(ctx, PhaseDone)
	slog.InfoContext(ctx, "snapshot generated",
		"snapshot_id", snapshot.SnapshotID,
		"title", snapshot.DocumentTitle,
		"contributors", len(snapshot.Contributors),
		"errors", len(completeness.Errors),
		"duration_ms", c.opts.Clock.Since(start).Milliseconds())

	return snapshot, nil
}

func (c *Coordinator) enter(ctx context.Context, phase Phase) context.Context {
	if c.opts.OnPhase != nil {
		c.opts.OnPhase(phase)
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{Phase: logger.Ptr(string(phase))})
	slog.DebugContext(ctx, "entering phase")
	return ctx
}

// fetch issues the three fetches concurrently and waits for all of them.
// Failures never cancel siblings.
func (c *Coordinator) fetch(ctx context.Context, docID string, sinceHours int, force bool) fetched {
	sc := logger.StartSpan(ctx, "coordinator.fetch")
	defer sc.End()
	ctx = sc.Context()

	var (
		mu  sync.Mutex
		out fetched
		g   errgroup.Group
	)

	g.Go(func() error {
		comments, err := c.fetcher.FetchComments(ctx, docID, force)
		mu.Lock()
		defer mu.Unlock()
		out.comments, out.commentsErr = comments, err
		return nil
	})
	g.Go(func() error {
		revisions, err := c.fetcher.FetchRevisions(ctx, docID, sinceHours, force)
		mu.Lock()
		defer mu.Unlock()
		out.revisions, out.revisionsErr = revisions, err
		return nil
	})
	g.Go(func() error {
		meta, err := c.fetcher.FetchMetadata(ctx, docID, force)
		mu.Lock()
		defer mu.Unlock()
		if err == nil {
			out.metadata = &meta
		}
		out.metadataErr = err
		return nil
	})
	_ = g.Wait()

	if out.commentsErr != nil {
		out.comments = nil
	}
	if out.revisionsErr != nil {
		out.revisions = nil
	}

	slog.InfoContext(ctx, "fetch phase complete",
		"comments", len(out.comments),
		"revisions", len(out.revisions),
		"metadata", out.metadata != nil)
	return out
}

func (c *Coordinator) extract(ctx context.Context, docID string, data fetched) (extractor.Result, error) {
	sc := logger.StartSpan(ctx, "coordinator.extract")
	defer sc.End()
	ctx = logger.WithLogFields(sc.Context(), logger.LogFields{Operation: logger.Ptr("extract")})

	result, err := c.extractor.Extract(ctx, extractor.Input{
		DocumentID: docID,
		Comments:   data.comments,
		Revisions:  data.revisions,
		Metadata:   data.metadata,
	})
	if err != nil {
		slog.ErrorContext(ctx, "extraction failed", "error", err)
		sc.RecordError(err)
		return extractor.Result{}, err
	}
	return result, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
