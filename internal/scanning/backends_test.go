package scanning

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("OpenAI", func() {
	var (
		server  *ghttp.Server
		backend *OpenAI
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		var err error
		backend, err = NewOpenAI(server.URL()+"/v1/", "sk-test", "gpt-4o-mini", 5*time.Second)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	It("requires an API key", func() {
		_, err := NewOpenAI("", "", "", 0)
		Expect(err).To(HaveOccurred())
	})

	When("the API answers", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/v1/chat/completions"),
				ghttp.VerifyHeaderKV("Authorization", "Bearer sk-test"),
				func(w http.ResponseWriter, r *http.Request) {
					body, err := io.ReadAll(r.Body)
					Expect(err).NotTo(HaveOccurred())
					var req openAIRequest
					Expect(json.Unmarshal(body, &req)).To(Succeed())
					Expect(req.Model).To(Equal("gpt-4o-mini"))
					Expect(req.ResponseFormat).To(HaveKeyWithValue("type", "json_object"))
					Expect(req.Messages).To(HaveLen(2))
					Expect(string(body)).To(ContainSubstring("data:image/png;base64,"))
				},
				ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
					"choices": []map[string]any{
						{"message": map[string]any{"content": `{"total_amount": 1.00, "items": []}`}},
					},
				}),
			))
		})

		It("returns the first choice's content", func() {
			out, err := backend.GenerateJSON(context.Background(), testPNG())
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal(`{"total_amount": 1.00, "items": []}`))
		})
	})

	When("the API returns an error status", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusTooManyRequests, `{"error":"slow down"}`))
		})

		It("returns an error carrying the status", func() {
			_, err := backend.GenerateJSON(context.Background(), testPNG())
			Expect(err).To(MatchError(ContainSubstring("status 429")))
		})
	})

	When("the API returns no choices", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{"choices": []any{}}))
		})

		It("returns an error", func() {
			_, err := backend.GenerateJSON(context.Background(), testPNG())
			Expect(err).To(MatchError(ContainSubstring("no choices")))
		})
	})
})

var _ = Describe("Ollama", func() {
	var (
		server  *ghttp.Server
		backend *Ollama
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		var err error
		backend, err = NewOllama(server.URL(), "llava", 5*time.Second)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	When("the model transcribes the receipt", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/api/chat"),
				func(w http.ResponseWriter, r *http.Request) {
					var req ollamaChatRequest
					Expect(json.NewDecoder(r.Body).Decode(&req)).To(Succeed())
					Expect(req.Stream).To(BeFalse())
					Expect(req.Messages).To(HaveLen(2))
					Expect(req.Messages[1].Images).To(HaveLen(1))
				},
				ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
					"message": map[string]any{"role": "assistant", "content": "```\nCafe\nCoffee $3.50\n```"},
					"done":    true,
				}),
			))
		})

		It("returns the text without fences", func() {
			text, err := backend.RecognizeText(context.Background(), testPNG())
			Expect(err).NotTo(HaveOccurred())
			Expect(text).To(Equal("Cafe\nCoffee $3.50"))
		})

		It("feeds the heuristic parser through TextExtractor", func() {
			draft, err := NewTextExtractor(backend).Extract(context.Background(), testPNG(), "image/png")
			Expect(err).NotTo(HaveOccurred())
			Expect(draft.Description).To(Equal("Cafe"))
			Expect(draft.TotalAmount.StringFixed(2)).To(Equal("3.50"))
		})
	})

	When("the server fails", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, "model not loaded"))
		})

		It("returns an error with the body", func() {
			_, err := backend.RecognizeText(context.Background(), testPNG())
			Expect(err).To(MatchError(ContainSubstring("model not loaded")))
		})
	})
})
