package logger_test

import (
	"bytes"
	"context"
	"log/slog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/coordinator/common/logger"
	"basegraph.app/coordinator/core/config"
)

var _ = Describe("LogFields", func() {
	It("merges newer values over older ones", func() {
		ctx := logger.WithLogFields(context.Background(), logger.LogFields{
			DocID:     logger.Ptr("doc-1"),
			Component: "coordinator",
		})
		ctx = logger.WithLogFields(ctx, logger.LogFields{
			Operation: logger.Ptr("comments"),
			Component: "coordinator.docs",
		})

		fields := logger.GetLogFields(ctx)
		Expect(*fields.DocID).To(Equal("doc-1"))
		Expect(*fields.Operation).To(Equal("comments"))
		Expect(fields.Component).To(Equal("coordinator.docs"))
		Expect(fields.Phase).To(BeNil())
	})

	It("returns empty fields for a bare context", func() {
		Expect(logger.GetLogFields(context.Background())).To(Equal(logger.LogFields{}))
	})
})

var _ = Describe("TraceHandler", func() {
	It("adds context fields to every record", func() {
		var buf bytes.Buffer
		log := slog.New(logger.NewTraceHandler(slog.NewTextHandler(&buf, nil)))

		ctx := logger.WithLogFields(context.Background(), logger.LogFields{
			DocID: logger.Ptr("doc-9"),
			Phase: logger.Ptr("FETCHING"),
		})
		log.InfoContext(ctx, "hello")

		Expect(buf.String()).To(ContainSubstring("doc_id=doc-9"))
		Expect(buf.String()).To(ContainSubstring("phase=FETCHING"))
	})

	It("honours an explicit log level", func() {
		var buf bytes.Buffer
		h := logger.NewHandler(config.Config{Env: "development", LogLevel: "warn"}, &buf)

		slog.New(h).Info("quiet")
		slog.New(h).Warn("loud")

		Expect(buf.String()).NotTo(ContainSubstring("quiet"))
		Expect(buf.String()).To(ContainSubstring("loud"))
	})
})

var _ = Describe("Truncate", func() {
	It("leaves short strings alone", func() {
		Expect(logger.Truncate("abc", 5)).To(Equal("abc"))
	})

	It("cuts long strings with an ellipsis", func() {
		Expect(logger.Truncate("abcdefgh", 3)).To(Equal("abc..."))
	})
})
