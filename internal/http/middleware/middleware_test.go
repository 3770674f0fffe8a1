package middleware_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/coordinator/common/logger"
	"basegraph.app/coordinator/internal/http/middleware"
)

func serve(engine *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

var _ = Describe("Middleware", func() {
	var engine *gin.Engine

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		engine = gin.New()
	})

	Describe("Recovery", func() {
		BeforeEach(func() {
			engine.Use(middleware.Recovery(), middleware.RequestID())
		})

		It("answers a panic with a JSON 500", func() {
			engine.GET("/boom", func(*gin.Context) { panic("boom") })

			w := serve(engine, http.MethodGet, "/boom")
			Expect(w.Code).To(Equal(http.StatusInternalServerError))
			Expect(w.Body.String()).To(MatchJSON(`{"error":"internal server error"}`))
		})

		It("handles panics carrying an error value", func() {
			engine.GET("/boom", func(*gin.Context) { panic(errors.New("nil map write")) })

			w := serve(engine, http.MethodGet, "/boom")
			Expect(w.Code).To(Equal(http.StatusInternalServerError))
			Expect(w.Header().Get("X-Request-ID")).NotTo(BeEmpty())
		})

		It("re-raises an aborted handler", func() {
			engine.GET("/abort", func(*gin.Context) { panic(http.ErrAbortHandler) })

			Expect(func() { serve(engine, http.MethodGet, "/abort") }).To(PanicWith(http.ErrAbortHandler))
		})

		It("leaves healthy requests alone", func() {
			engine.GET("/ok", func(c *gin.Context) { c.Status(http.StatusNoContent) })

			Expect(serve(engine, http.MethodGet, "/ok").Code).To(Equal(http.StatusNoContent))
		})
	})

	Describe("RequestID", func() {
		It("generates an id and puts it in the log fields", func() {
			var fields logger.LogFields
			engine.Use(middleware.RequestID())
			engine.GET("/id", func(c *gin.Context) {
				fields = logger.GetLogFields(c.Request.Context())
				c.Status(http.StatusOK)
			})

			w := serve(engine, http.MethodGet, "/id")
			reqID := w.Header().Get("X-Request-ID")
			Expect(reqID).NotTo(BeEmpty())
			Expect(fields.RequestID).NotTo(BeNil())
			Expect(*fields.RequestID).To(Equal(reqID))
		})
	})

	Describe("Deadline", func() {
		It("bounds the request context", func() {
			var deadline time.Time
			var ok bool
			engine.Use(middleware.Deadline(time.Minute))
			engine.GET("/slow", func(c *gin.Context) {
				deadline, ok = c.Request.Context().Deadline()
				c.Status(http.StatusOK)
			})

			before := time.Now()
			serve(engine, http.MethodGet, "/slow")
			Expect(ok).To(BeTrue())
			Expect(deadline).To(BeTemporally("~", before.Add(time.Minute), 5*time.Second))
		})

		It("cancels work that overruns", func() {
			engine.Use(middleware.Deadline(20 * time.Millisecond))
			engine.GET("/slow", func(c *gin.Context) {
				<-c.Request.Context().Done()
				c.JSON(http.StatusOK, gin.H{"error": c.Request.Context().Err().Error()})
			})

			w := serve(engine, http.MethodGet, "/slow")
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(ContainSubstring("deadline exceeded"))
		})

		It("adds no bound for a zero duration", func() {
			var ok bool
			engine.Use(middleware.Deadline(0))
			engine.GET("/free", func(c *gin.Context) {
				_, ok = c.Request.Context().Deadline()
			})

			serve(engine, http.MethodGet, "/free")
			Expect(ok).To(BeFalse())
		})
	})

	Describe("Logger", func() {
		It("passes the handler's status through", func() {
			engine.Use(middleware.Logger())
			engine.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })

			Expect(serve(engine, http.MethodGet, "/missing").Code).To(Equal(http.StatusNotFound))
		})
	})
})
