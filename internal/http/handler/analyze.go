package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"basegraph.app/coordinator/common/docid"
	"basegraph.app/coordinator/common/logger"
	"basegraph.app/coordinator/internal/coordinator"
	"basegraph.app/coordinator/internal/http/dto"
	"basegraph.app/coordinator/internal/model"
)

type Analyzer interface {
	Analyze(ctx context.Context, req coordinator.Request) (*model.CoordinationSnapshot, error)
}

type AnalyzeHandler struct {
	analyzer Analyzer
}

func NewAnalyzeHandler(analyzer Analyzer) *AnalyzeHandler {
	return &AnalyzeHandler{analyzer: analyzer}
}

// Analyze runs one analysis and returns the snapshot. Partial data still
// yields 200; only a malformed request or a fatal setup error does not.
func (h *AnalyzeHandler) Analyze(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request: doc_id is required and since_hours must be between 0 and 8760"})
		return
	}

	docID, err := docid.Normalize(req.DocID)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request: doc_id is not a document id or document URL"})
		return
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{DocID: logger.Ptr(docID)})

	snapshot, err := h.analyzer.Analyze(ctx, coordinator.Request{
		DocumentID:   docID,
		SinceHours:   req.SinceHours,
		ForceRefresh: req.ForceRefresh,
	})
	if err != nil {
		switch {
		case errors.Is(err, coordinator.ErrEmptyDocumentID):
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request: doc_id is required"})
		case coordinator.IsFatal(err):
			slog.ErrorContext(ctx, "analysis aborted by setup error", "error", err)
			c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: err.Error()})
		default:
			slog.ErrorContext(ctx, "analysis failed", "error", err)
			c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "analysis failed"})
		}
		return
	}

	slog.InfoContext(ctx, "analysis served",
		"snapshot_id", snapshot.SnapshotID,
		"errors", len(snapshot.DataCompleteness.Errors))

	c.JSON(http.StatusOK, snapshot)
}
