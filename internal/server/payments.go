package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditdomain "github.com/servicepad/servicepad/internal/audit/domain"
	paydomain "github.com/servicepad/servicepad/internal/payment/domain"
)

func (s *Server) ListPayments(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	payments, err := s.paySvc.List(c.Request.Context(), paydomain.ListRequest{InvoiceID: id})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": payments})
}

func (s *Server) RecordPayment(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var in paydomain.RecordInput
	if err := c.ShouldBindJSON(&in); err != nil {
		AbortWithError(c, newValidationError("body", "invalid_body", "invalid request body"))
		return
	}
	if key := strings.TrimSpace(c.GetHeader("Idempotency-Key")); key != "" && in.IdempotencyKey == nil {
		in.IdempotencyKey = &key
	}

	result, err := s.paySvc.Record(c.Request.Context(), id, in)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.metrics != nil {
		s.metrics.PaymentsRecorded.Inc()
		if result.Warning != "" {
			s.metrics.LedgerWarnings.Inc()
		}
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) RefundPayment(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	result, err := s.paySvc.Refund(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.metrics != nil {
		s.metrics.PaymentsRefunded.Inc()
		if result.Warning != "" {
			s.metrics.LedgerWarnings.Inc()
		}
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) DeletePayment(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	result, err := s.paySvc.Delete(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) ListHistory(c *gin.Context) {
	filter := auditdomain.ListFilter{}
	if raw := strings.TrimSpace(c.Query("job_id")); raw != "" {
		jobID, err := snowflake.ParseString(raw)
		if err != nil {
			AbortWithError(c, newValidationError("job_id", "invalid_id", "invalid id"))
			return
		}
		filter.JobID = &jobID
	}
	if entryType := strings.TrimSpace(c.Query("type")); entryType != "" {
		filter.EntryType = entryType
	}
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
			return
		}
		filter.Limit = limit
	}

	entries, err := s.auditSvc.List(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entries})
}
