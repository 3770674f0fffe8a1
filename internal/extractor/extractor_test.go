package extractor_test

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/coordinator/common/llm"
	"basegraph.app/coordinator/internal/extractor"
	"basegraph.app/coordinator/internal/model"
)

// mockLLMClient implements llm.Client for testing.
type mockLLMClient struct {
	chatFn    func(ctx context.Context, req llm.Request, result any) (*llm.Response, error)
	requests  []llm.Request
	callCount int
}

func (m *mockLLMClient) Chat(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
	m.callCount++
	m.requests = append(m.requests, req)
	if m.chatFn != nil {
		return m.chatFn(ctx, req, result)
	}
	return nil, errors.New("mock not configured")
}

func (m *mockLLMClient) Model() string {
	return "test-model"
}

// respondWith decodes body into the caller's result the way a provider does.
func respondWith(body string) func(context.Context, llm.Request, any) (*llm.Response, error) {
	return func(_ context.Context, _ llm.Request, result any) (*llm.Response, error) {
		if err := json.Unmarshal([]byte(body), result); err != nil {
			return nil, err
		}
		return &llm.Response{PromptTokens: 100, CompletionTokens: 50}, nil
	}
}

const validResponse = `{
	"questions": [
		{"text": "Who owns the rollout?", "author": "Ada", "priority": "high", "context": "Rollout plan", "comment_id": "c1"},
		{"text": "Is Friday realistic?", "author": "Grace", "priority": "low", "context": "", "comment_id": ""}
	],
	"decisions": [
		{"summary": "Ship behind a flag", "decided_by": "Ada", "date": "2026-02-27", "context": ""}
	],
	"next_steps": [
		{"description": "Assign a rollout owner", "assignee": "", "priority": "medium", "rationale": "Blocks launch", "source": "c1"}
	]
}`

const badPriorityResponse = `{
	"questions": [{"text": "Who owns it?", "author": "Ada", "priority": "urgent", "context": "", "comment_id": ""}],
	"decisions": [],
	"next_steps": []
}`

var _ = Describe("Extractor", func() {
	var (
		ctx    context.Context
		client *mockLLMClient
		ext    *extractor.Extractor
		input  extractor.Input
	)

	BeforeEach(func() {
		ctx = context.Background()
		client = &mockLLMClient{}
		ext = extractor.New(client, extractor.Options{InitialInterval: time.Millisecond})
		input = extractor.Input{
			DocumentID: "doc1",
			Comments: []model.Comment{{
				ID:      "c1",
				Author:  model.User{DisplayName: "Ada"},
				Content: "Who owns the rollout?",
			}},
			Metadata: &model.DocumentMetadata{ID: "doc1", Title: "Roadmap"},
		}
	})

	Context("when the model returns a valid response", func() {
		BeforeEach(func() {
			client.chatFn = respondWith(validResponse)
		})

		It("keeps the model's order and maps every field", func() {
			result, err := ext.Extract(ctx, input)
			Expect(err).NotTo(HaveOccurred())

			Expect(result.Questions).To(HaveLen(2))
			Expect(result.Questions[0].Text).To(Equal("Who owns the rollout?"))
			Expect(result.Questions[0].Priority).To(Equal(model.PriorityHigh))
			Expect(result.Questions[0].CommentID).To(Equal("c1"))
			Expect(result.Questions[1].Priority).To(Equal(model.PriorityLow))

			Expect(result.Decisions).To(HaveLen(1))
			Expect(result.Decisions[0].Date).NotTo(BeNil())
			Expect(result.Decisions[0].Date.Format("2006-01-02")).To(Equal("2026-02-27"))

			Expect(result.NextSteps).To(HaveLen(1))
			Expect(result.NextSteps[0].Assignee).To(BeEmpty())
			Expect(result.NextSteps[0].Priority).To(Equal(model.PriorityMedium))
		})

		It("sends a deterministic schema-bound request", func() {
			_, err := ext.Extract(ctx, input)
			Expect(err).NotTo(HaveOccurred())

			Expect(client.callCount).To(Equal(1))
			req := client.requests[0]
			Expect(req.SchemaName).To(Equal("coordination_analysis"))
			Expect(req.Schema).NotTo(BeNil())
			Expect(req.Temperature).NotTo(BeNil())
			Expect(*req.Temperature).To(BeZero())
			Expect(req.UserPrompt).To(ContainSubstring("## Document: Roadmap"))
		})
	})

	Context("when the first response breaks the schema", func() {
		It("retries once with a stricter instruction", func() {
			client.chatFn = func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
				if client.callCount == 1 {
					return respondWith(badPriorityResponse)(ctx, req, result)
				}
				return respondWith(validResponse)(ctx, req, result)
			}

			result, err := ext.Extract(ctx, input)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Questions).To(HaveLen(2))

			Expect(client.callCount).To(Equal(2))
			Expect(client.requests[0].SystemPrompt).NotTo(ContainSubstring("did not match the required JSON schema"))
			Expect(client.requests[1].SystemPrompt).To(ContainSubstring("did not match the required JSON schema"))
		})

		It("fails after the stricter retry also breaks the schema", func() {
			client.chatFn = respondWith(badPriorityResponse)

			_, err := ext.Extract(ctx, input)
			var schemaErr *extractor.SchemaError
			Expect(errors.As(err, &schemaErr)).To(BeTrue())
			Expect(schemaErr.Violations).To(ContainElement(ContainSubstring("questions[0].priority")))
			Expect(client.callCount).To(Equal(2))
		})

		It("treats an undecodable response as a schema failure", func() {
			client.chatFn = func(context.Context, llm.Request, any) (*llm.Response, error) {
				return nil, llm.ErrMalformedResponse
			}

			_, err := ext.Extract(ctx, input)
			Expect(extractor.IsSchemaFailure(err)).To(BeTrue())
			Expect(client.callCount).To(Equal(2))
		})

		It("rejects missing arrays and malformed dates", func() {
			client.chatFn = respondWith(`{"questions": [], "decisions": [{"summary": "x", "decided_by": "y", "date": "last week", "context": ""}]}`)

			_, err := ext.Extract(ctx, input)
			var schemaErr *extractor.SchemaError
			Expect(errors.As(err, &schemaErr)).To(BeTrue())
			Expect(schemaErr.Violations).To(ContainElements(
				"next_steps: missing",
				ContainSubstring("decisions[0].date"),
			))
		})
	})

	Context("when the provider fails", func() {
		It("retries transient errors and recovers", func() {
			client.chatFn = func(ctx context.Context, req llm.Request, result any) (*llm.Response, error) {
				if client.callCount < 3 {
					return nil, errors.New("connection reset by peer")
				}
				return respondWith(validResponse)(ctx, req, result)
			}

			result, err := ext.Extract(ctx, input)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.NextSteps).To(HaveLen(1))
			Expect(client.callCount).To(Equal(3))
		})

		It("gives up after the attempt limit", func() {
			client.chatFn = func(context.Context, llm.Request, any) (*llm.Response, error) {
				return nil, errors.New("connection reset by peer")
			}

			_, err := ext.Extract(ctx, input)
			Expect(err).To(HaveOccurred())
			Expect(extractor.IsSchemaFailure(err)).To(BeFalse())
			Expect(client.callCount).To(Equal(3))
		})

		It("does not retry errors that are not transient", func() {
			client.chatFn = func(context.Context, llm.Request, any) (*llm.Response, error) {
				return nil, context.Canceled
			}

			_, err := ext.Extract(ctx, input)
			Expect(err).To(MatchError(context.Canceled))
			Expect(client.callCount).To(Equal(1))
		})

		It("gives up on a model call that outlives its timeout", func() {
			client.chatFn = func(ctx context.Context, _ llm.Request, _ any) (*llm.Response, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			}
			ext = extractor.New(client, extractor.Options{
				InitialInterval: time.Millisecond,
				Timeout:         20 * time.Millisecond,
			})

			_, err := ext.Extract(ctx, input)
			Expect(err).To(MatchError(context.DeadlineExceeded))
			Expect(extractor.IsSchemaFailure(err)).To(BeFalse())
			Expect(client.callCount).To(Equal(1))
		})
	})
})
