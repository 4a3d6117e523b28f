package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/servicepad/servicepad/internal/dispatch"
	docdomain "github.com/servicepad/servicepad/internal/document/domain"
	"github.com/servicepad/servicepad/internal/render"
)

func (s *Server) ListDocuments(c *gin.Context) {
	req := docdomain.ListRequest{}
	if kind := strings.TrimSpace(c.Query("kind")); kind != "" {
		k := docdomain.Kind(kind)
		req.Kind = &k
	}
	if status := strings.TrimSpace(c.Query("status")); status != "" {
		st := docdomain.Status(status)
		req.Status = &st
	}
	if raw := strings.TrimSpace(c.Query("client_id")); raw != "" {
		id, err := snowflake.ParseString(raw)
		if err != nil {
			AbortWithError(c, newValidationError("client_id", "invalid_client_id", "invalid client id"))
			return
		}
		req.ClientID = &id
	}
	if raw := strings.TrimSpace(c.Query("job_id")); raw != "" {
		id, err := snowflake.ParseString(raw)
		if err != nil {
			AbortWithError(c, newValidationError("job_id", "invalid_job_id", "invalid job id"))
			return
		}
		req.JobID = &id
	}
	if raw := strings.TrimSpace(c.Query("created_from")); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			AbortWithError(c, newValidationError("created_from", "invalid_created_from", "expected an RFC3339 timestamp"))
			return
		}
		req.CreatedFrom = &from
	}
	if raw := strings.TrimSpace(c.Query("created_to")); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			AbortWithError(c, newValidationError("created_to", "invalid_created_to", "expected an RFC3339 timestamp"))
			return
		}
		req.CreatedTo = &to
	}
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
			return
		}
		req.Limit = limit
	}

	resp, err := s.docSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Documents})
}

func (s *Server) GetDocument(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	doc, err := s.docSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": doc})
}

func (s *Server) SaveDraft(c *gin.Context) {
	var doc docdomain.Document
	if err := c.ShouldBindJSON(&doc); err != nil {
		AbortWithError(c, newValidationError("body", "invalid_body", "invalid request body"))
		return
	}

	saved, err := s.docSvc.SaveDraft(c.Request.Context(), doc)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.metrics != nil {
		s.metrics.DocumentsSaved.WithLabelValues(string(saved.Kind)).Inc()
	}
	c.JSON(http.StatusOK, gin.H{"data": saved})
}

func (s *Server) ConvertEstimate(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	invoice, err := s.docSvc.Convert(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": invoice})
}

type sendRequest struct {
	Channel   string `json:"channel"`
	Recipient string `json:"recipient"`
}

func (s *Server) SendDocument(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("body", "invalid_body", "invalid request body"))
		return
	}

	channel := dispatch.Channel(strings.TrimSpace(req.Channel))
	doc, err := s.dispatcher.Send(c.Request.Context(), id, channel, req.Recipient)
	if err != nil {
		if s.metrics != nil {
			s.metrics.SendFailures.WithLabelValues(string(channel)).Inc()
		}
		AbortWithError(c, err)
		return
	}

	if s.metrics != nil {
		s.metrics.DocumentsSent.WithLabelValues(string(channel)).Inc()
	}
	c.JSON(http.StatusOK, gin.H{"data": doc})
}

func (s *Server) PreviewDocument(c *gin.Context) {
	input, ok := s.renderInput(c)
	if !ok {
		return
	}

	html, err := render.RenderHTML(input)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
}

func (s *Server) DocumentPDF(c *gin.Context) {
	input, ok := s.renderInput(c)
	if !ok {
		return
	}

	pdf, err := render.RenderPDF(c.Request.Context(), input)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+input.Doc.Number+`.pdf"`)
	c.Data(http.StatusOK, "application/pdf", pdf)
}

// VerifyDocument runs the totals and ledger consistency checks. Divergence
// is reported to the caller, never auto-corrected.
func (s *Server) VerifyDocument(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if err := s.docSvc.VerifyTotals(ctx, id); err != nil {
		AbortWithError(c, err)
		return
	}

	doc, err := s.docSvc.Get(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if doc.Kind == docdomain.KindInvoice {
		if err := s.paySvc.VerifyLedger(ctx, id); err != nil {
			AbortWithError(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"consistent": true}})
}

func (s *Server) ListUpsells(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": s.catalog.Items()})
}

func (s *Server) renderInput(c *gin.Context) (render.Input, bool) {
	id, ok := parseID(c)
	if !ok {
		return render.Input{}, false
	}

	doc, err := s.docSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return render.Input{}, false
	}

	input := render.Input{
		Doc:          doc,
		BusinessName: s.cfg.BusinessName,
	}
	if doc.ClientID != 0 {
		if contact, err := s.clients.Lookup(c.Request.Context(), doc.ClientID); err == nil {
			input.ClientName = contact.Name
		}
	}
	return input, true
}

func parseID(c *gin.Context) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return 0, false
	}
	return id, true
}
