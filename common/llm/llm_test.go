package llm_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/coordinator/common/llm"
)

type verdict struct {
	Answer string `json:"answer" jsonschema:"enum=yes,enum=no"`
	Reason string `json:"reason"`
}

func chatCompletion(content string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "gpt-4o-mini",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message": map[string]any{
				"role":    "assistant",
				"content": content,
			},
		}},
		"usage": map[string]any{"prompt_tokens": 11, "completion_tokens": 7, "total_tokens": 18},
	}
}

var _ = Describe("New", func() {
	It("requires an API key", func() {
		client, err := llm.New(llm.Config{})
		Expect(err).To(HaveOccurred())
		Expect(client).To(BeNil())
	})

	It("rejects unknown providers", func() {
		_, err := llm.New(llm.Config{APIKey: "k", Provider: "mystery"})
		Expect(err).To(MatchError(ContainSubstring("unsupported LLM provider")))
	})

	It("defaults to OpenAI with gpt-4o-mini", func() {
		client, err := llm.New(llm.Config{APIKey: "k"})
		Expect(err).NotTo(HaveOccurred())
		Expect(client.Model()).To(Equal("gpt-4o-mini"))
	})
})

var _ = Describe("GenerateSchema", func() {
	It("produces a closed object schema with enums", func() {
		raw, err := json.Marshal(llm.GenerateSchema[verdict]())
		Expect(err).NotTo(HaveOccurred())

		var schema map[string]any
		Expect(json.Unmarshal(raw, &schema)).To(Succeed())
		Expect(schema["additionalProperties"]).To(Equal(false))
		Expect(schema["required"]).To(ConsistOf("answer", "reason"))

		props := schema["properties"].(map[string]any)
		answer := props["answer"].(map[string]any)
		Expect(answer["enum"]).To(ConsistOf("yes", "no"))
	})
})

var _ = Describe("OpenAI client", func() {
	var (
		server  *httptest.Server
		handler http.HandlerFunc
		client  llm.Client
		ctx     context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handler(w, r)
		}))
		DeferCleanup(server.Close)

		var err error
		client, err = llm.New(llm.Config{APIKey: "k", BaseURL: server.URL + "/", Model: "gpt-test"})
		Expect(err).NotTo(HaveOccurred())
	})

	It("sends a strict json_schema request and decodes the content", func() {
		var body map[string]any
		handler = func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			Expect(r.URL.Path).To(HaveSuffix("/chat/completions"))
			raw, _ := io.ReadAll(r.Body)
			Expect(json.Unmarshal(raw, &body)).To(Succeed())
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(chatCompletion(`{"answer":"yes","reason":"because"}`))
		}

		var out verdict
		resp, err := client.Chat(ctx, llm.Request{
			SystemPrompt: "sys",
			UserPrompt:   "user",
			SchemaName:   "verdict",
			Schema:       llm.GenerateSchema[verdict](),
			Temperature:  llm.Temp(0),
		}, &out)

		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal(verdict{Answer: "yes", Reason: "because"}))
		Expect(resp.PromptTokens).To(Equal(11))
		Expect(resp.CompletionTokens).To(Equal(7))

		Expect(body["model"]).To(Equal("gpt-test"))
		Expect(body["temperature"]).To(BeNumerically("==", 0))
		format := body["response_format"].(map[string]any)
		Expect(format["type"]).To(Equal("json_schema"))
		Expect(format["json_schema"].(map[string]any)["strict"]).To(Equal(true))
	})

	It("flags non-JSON content as a malformed response", func() {
		handler = func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(chatCompletion("sorry, no JSON today"))
		}

		var out verdict
		_, err := client.Chat(ctx, llm.Request{SchemaName: "verdict", Schema: llm.GenerateSchema[verdict]()}, &out)
		Expect(errors.Is(err, llm.ErrMalformedResponse)).To(BeTrue())
		Expect(llm.IsRetryable(ctx, err)).To(BeFalse())
	})

	It("classifies rate limiting as retryable", func() {
		handler = func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
		}

		var out verdict
		_, err := client.Chat(ctx, llm.Request{SchemaName: "verdict", Schema: llm.GenerateSchema[verdict]()}, &out)
		Expect(err).To(HaveOccurred())
		Expect(llm.IsRetryable(ctx, err)).To(BeTrue())
	})

	It("classifies bad requests as permanent", func() {
		handler = func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"bad schema","type":"invalid_request_error"}}`))
		}

		var out verdict
		_, err := client.Chat(ctx, llm.Request{SchemaName: "verdict", Schema: llm.GenerateSchema[verdict]()}, &out)
		Expect(err).To(HaveOccurred())
		Expect(llm.IsRetryable(ctx, err)).To(BeFalse())
	})
})

var _ = Describe("Anthropic client", func() {
	It("forces the schema tool and decodes its input", func() {
		var body map[string]any
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			Expect(r.URL.Path).To(HaveSuffix("/v1/messages"))
			raw, _ := io.ReadAll(r.Body)
			Expect(json.Unmarshal(raw, &body)).To(Succeed())
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":          "msg_1",
				"type":        "message",
				"role":        "assistant",
				"model":       "claude-test",
				"stop_reason": "tool_use",
				"content": []map[string]any{{
					"type":  "tool_use",
					"id":    "toolu_1",
					"name":  "verdict",
					"input": map[string]any{"answer": "no", "reason": "nope"},
				}},
				"usage": map[string]any{"input_tokens": 5, "output_tokens": 3},
			})
		}))
		DeferCleanup(server.Close)

		client, err := llm.New(llm.Config{
			Provider: llm.ProviderAnthropic,
			APIKey:   "k",
			BaseURL:  server.URL + "/",
			Model:    "claude-test",
		})
		Expect(err).NotTo(HaveOccurred())

		var out verdict
		resp, err := client.Chat(context.Background(), llm.Request{
			SystemPrompt: "sys",
			UserPrompt:   "user",
			SchemaName:   "verdict",
			Schema:       llm.GenerateSchema[verdict](),
		}, &out)

		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal(verdict{Answer: "no", Reason: "nope"}))
		Expect(resp.PromptTokens).To(Equal(5))

		choice := body["tool_choice"].(map[string]any)
		Expect(choice["type"]).To(Equal("tool"))
		Expect(choice["name"]).To(Equal("verdict"))
	})
})
