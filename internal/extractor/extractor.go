package extractor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jonboulle/clockwork"

	"basegraph.app/coordinator/common/llm"
	"basegraph.app/coordinator/common/logger"
	"basegraph.app/coordinator/internal/model"
)

const schemaName = "coordination_analysis"

// Input is whatever the fetch phase produced. Any of the fields may be empty.
type Input struct {
	DocumentID string
	Comments   []model.Comment
	Revisions  []model.Revision
	Metadata   *model.DocumentMetadata
}

type Options struct {
	// MaxAttempts bounds tries per model call on transient errors. Default: 3
	MaxAttempts int
	// InitialInterval is the first backoff wait. Default: 1s
	InitialInterval time.Duration
	// Timeout bounds each model call. Zero leaves it to the client.
	Timeout time.Duration
	Clock   clockwork.Clock
}

// Extractor turns fetched collaboration data into questions, decisions and
// next steps with a single structured-output model call.
type Extractor struct {
	llm  llm.Client
	opts Options
}

func New(client llm.Client, opts Options) *Extractor {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Extractor{llm: client, opts: opts}
}

// IsSchemaFailure reports whether err means the model answered with something
// that does not match the schema.
func IsSchemaFailure(err error) bool {
	var schemaErr *SchemaError
	return errors.As(err, &schemaErr) || errors.Is(err, llm.ErrMalformedResponse)
}

// Extract runs the model over in. A schema failure is retried once with a
// stricter instruction; a second one is returned as the error.
func (e *Extractor) Extract(ctx context.Context, in Input) (Result, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "extractor"})
	start := e.opts.Clock.Now()

	req := llm.Request{
		SystemPrompt: systemPrompt,
		UserPrompt:   buildUserPrompt(in),
		SchemaName:   schemaName,
		Schema:       analysisSchema,
		Temperature:  llm.Temp(0),
	}

	result, err := e.attempt(ctx, req)
	if err != nil && IsSchemaFailure(err) {
		slog.WarnContext(ctx, "model response failed schema validation, retrying with stricter instruction",
			"error", err)
		req.SystemPrompt = systemPrompt + stricterInstruction
		result, err = e.attempt(ctx, req)
	}
	if err != nil {
		return Result{}, err
	}

	slog.InfoContext(ctx, "extraction complete",
		"model", e.llm.Model(),
		"questions", len(result.Questions),
		"decisions", len(result.Decisions),
		"next_steps", len(result.NextSteps),
		"latency_ms", e.opts.Clock.Since(start).Milliseconds())

	return result, nil
}

func (e *Extractor) attempt(ctx context.Context, req llm.Request) (Result, error) {
	var resp AnalysisResponse
	usage, err := e.chat(ctx, req, &resp)
	if err != nil {
		return Result{}, err
	}
	if usage != nil {
		slog.DebugContext(ctx, "model call usage",
			"prompt_tokens", usage.PromptTokens,
			"completion_tokens", usage.CompletionTokens)
	}
	return validate(resp)
}

// chat retries transient provider errors with exponential backoff.
func (e *Extractor) chat(ctx context.Context, req llm.Request, out *AnalysisResponse) (*llm.Response, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.opts.InitialInterval
	b.Multiplier = 2

	attempt := 0
	return backoff.Retry(ctx, func() (*llm.Response, error) {
		attempt++
		*out = AnalysisResponse{}

		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if e.opts.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		}
		defer cancel()

		resp, err := e.llm.Chat(callCtx, req, out)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil || !llm.IsRetryable(ctx, err) {
			return nil, backoff.Permanent(fmt.Errorf("model call: %w", err))
		}
		return nil, fmt.Errorf("model call: %w", err)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(e.opts.MaxAttempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			slog.WarnContext(ctx, "model call failed, retrying",
				"attempt", attempt,
				"wait_ms", wait.Milliseconds(),
				"error", err)
		}),
	)
}
