package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Skufu/healthlens/internal/auth"
	"github.com/Skufu/healthlens/internal/features"
	"github.com/Skufu/healthlens/internal/llm"
	"github.com/Skufu/healthlens/internal/pdftext"
	"github.com/Skufu/healthlens/internal/predict"
	"github.com/Skufu/healthlens/internal/report"
	"github.com/Skufu/healthlens/internal/schema"
	"github.com/Skufu/healthlens/internal/session"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type editRequest struct {
	Values map[string]any `json:"values" binding:"required"`
}

type completeRequest struct {
	Features features.RawExtraction `json:"features" binding:"required"`
}

type triageRequest struct {
	Task       string          `json:"task" binding:"required"`
	Features   map[string]any  `json:"features"`
	Prediction *predict.Result `json:"prediction"`
	Question   string          `json:"question"`
}

type schemaResponse struct {
	Task   schema.Task    `json:"task"`
	Fields []schema.Field `json:"fields"`
}

func (h *handler) getSchema(c *gin.Context) {
	task, err := schema.ParseTask(c.Param("task"))
	if err != nil {
		respondError(c, err)
		return
	}
	s, err := h.Registry.SchemaFor(task)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, schemaResponse{Task: task, Fields: s.Fields()})
}

func (h *handler) ingest(c *gin.Context) {
	task, err := schema.ParseTask(c.DefaultQuery("task", string(schema.TaskHeart)))
	if err != nil {
		respondError(c, err)
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field 'file' is required"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read upload"})
		return
	}
	defer f.Close()
	pdf, err := io.ReadAll(io.LimitReader(f, h.maxUpload+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read upload"})
		return
	}
	if int64(len(pdf)) > h.maxUpload {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}

	text, err := h.PDF.Text(c.Request.Context(), pdf)
	switch {
	case errors.Is(err, pdftext.ErrNotPDF), errors.Is(err, pdftext.ErrEmptyText):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		_ = c.Error(err)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "could not extract text from PDF"})
		return
	}

	view, err := h.Sessions.Ingest(c.Request.Context(), auth.UserID(c), task, fh.Filename, text)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (h *handler) getSession(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	s, err := h.Sessions.Get(c.Request.Context(), auth.UserID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	view, err := h.Sessions.View(s)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *handler) editSession(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req editRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c, err)
		return
	}
	values := make(map[string]string, len(req.Values))
	for k, v := range req.Values {
		values[k] = features.FormatValue(v)
	}
	view, err := h.Sessions.Edit(c.Request.Context(), auth.UserID(c), id, values)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *handler) completeSession(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req completeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c, err)
		return
	}
	view, err := h.Sessions.Complete(c.Request.Context(), auth.UserID(c), id, req.Features)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *handler) submitSession(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	view, err := h.Sessions.Submit(c.Request.Context(), auth.UserID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *handler) abandonSession(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.Sessions.Abandon(c.Request.Context(), auth.UserID(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) listReports(c *gin.Context) {
	limit := queryInt(c, "limit", defaultPageSize)
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	offset := queryInt(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	reports, total, err := h.Sessions.Reports(c.Request.Context(), auth.UserID(c), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"reports": reports,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}

func (h *handler) getReport(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	rep, err := h.Sessions.Report(c.Request.Context(), auth.UserID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (h *handler) reopenReport(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	view, err := h.Sessions.Reopen(c.Request.Context(), auth.UserID(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (h *handler) triage(c *gin.Context) {
	var req triageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c, err)
		return
	}
	task, err := schema.ParseTask(req.Task)
	if err != nil {
		respondError(c, err)
		return
	}
	resp, err := h.Advisor.Ask(c.Request.Context(), llm.TriageRequest{
		Task:       task,
		Features:   req.Features,
		Prediction: req.Prediction,
		Question:   req.Question,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return def
	}
	return v
}

func badPayload(c *gin.Context, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
}

// respondError maps domain errors onto status codes.
func respondError(c *gin.Context, err error) {
	var (
		unknownTask  *schema.UnknownTaskError
		unknownField *session.UnknownFieldError
		violations   features.Violations
		upstream     *session.UpstreamError
	)
	switch {
	case errors.As(err, &violations):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":      "validation_failed",
			"violations": violations,
		})
	case errors.As(err, &unknownTask), errors.As(err, &unknownField):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrNotFound), errors.Is(err, report.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, session.ErrFrozen),
		errors.Is(err, session.ErrInvalidTransition),
		errors.Is(err, report.ErrAlreadySubmitted):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &upstream):
		_ = c.Error(err)
		c.JSON(http.StatusBadGateway, gin.H{"error": upstream.Service + " service unavailable"})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
