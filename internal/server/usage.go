package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/meter"
	meteringdomain "github.com/Okan-wqm/aquaculture-platform-sub002/internal/metering/domain"
)

type recordUsageRequest struct {
	TenantID       string            `json:"tenant_id"`
	MeterType      string            `json:"meter_type"`
	Quantity       float64           `json:"quantity"`
	Unit           string            `json:"unit,omitempty"`
	Timestamp      *time.Time        `json:"timestamp,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Source         string            `json:"source,omitempty"`
	UserID         string            `json:"user_id,omitempty"`
	ResourceID     string            `json:"resource_id,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
}

func (r recordUsageRequest) toDomain() meteringdomain.RecordUsageRequest {
	req := meteringdomain.RecordUsageRequest{
		TenantID:       strings.TrimSpace(r.TenantID),
		MeterType:      meter.Type(strings.TrimSpace(r.MeterType)),
		Quantity:       r.Quantity,
		Unit:           strings.TrimSpace(r.Unit),
		Metadata:       r.Metadata,
		Source:         strings.TrimSpace(r.Source),
		UserID:         strings.TrimSpace(r.UserID),
		ResourceID:     strings.TrimSpace(r.ResourceID),
		IdempotencyKey: strings.TrimSpace(r.IdempotencyKey),
	}
	if r.Timestamp != nil {
		req.Timestamp = *r.Timestamp
	}
	// Producers that do not manage their own keys still get exactly-once
	// semantics per submission.
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}
	return req
}

func (s *Server) RecordUsage(c *gin.Context) {
	var req recordUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c)
		return
	}
	if !s.limiter.Allow(strings.TrimSpace(req.TenantID), 1) {
		rateLimited(c)
		return
	}

	event, err := s.metering.RecordUsage(c.Request.Context(), req.toDomain())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": event})
}

type recordUsageBatchRequest struct {
	Events []recordUsageRequest `json:"events"`
}

func (s *Server) RecordUsageBatch(c *gin.Context) {
	var req recordUsageBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c)
		return
	}
	if len(req.Events) == 0 {
		invalidRequest(c)
		return
	}
	// Mixed-tenant batches debit every tenant for its own share; one denied
	// tenant rejects the whole batch.
	counts := lo.CountValuesBy(req.Events, func(event recordUsageRequest) string {
		return strings.TrimSpace(event.TenantID)
	})
	for tenantID, count := range counts {
		if !s.limiter.Allow(tenantID, count) {
			rateLimited(c)
			return
		}
	}

	reqs := make([]meteringdomain.RecordUsageRequest, 0, len(req.Events))
	for _, event := range req.Events {
		reqs = append(reqs, event.toDomain())
	}
	events, err := s.metering.RecordUsageBatch(c.Request.Context(), reqs)
	if err != nil && len(events) == 0 {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": events, "accepted": len(events)})
}

func (s *Server) FlushUsage(c *gin.Context) {
	if err := s.metering.Flush(c.Request.Context()); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) GetUsageSummary(c *gin.Context) {
	tenantID := strings.TrimSpace(c.Param("tenant_id"))
	if tenantID == "" {
		invalidRequest(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": s.metering.GetUsageSummary(tenantID)})
}

func (s *Server) GetReading(c *gin.Context) {
	tenantID := strings.TrimSpace(c.Param("tenant_id"))
	meterType := meter.Type(strings.TrimSpace(c.Param("meter_type")))

	reading, ok := s.metering.GetReading(tenantID, meterType)
	if !ok {
		AbortWithError(c, meteringdomain.ErrMeterNotFound)
		return
	}
	remaining := s.metering.RemainingUsage(tenantID, meterType)
	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"reading":       reading,
			"within_limits": s.metering.IsWithinLimits(tenantID, meterType),
			"remaining":     remaining,
			"overage":       s.metering.Overage(tenantID, meterType),
			"overage_cost":  s.metering.OverageCost(tenantID, meterType),
		},
	})
}

type resetMeterRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (s *Server) ResetMeter(c *gin.Context) {
	tenantID := strings.TrimSpace(c.Param("tenant_id"))
	meterType := meter.Type(strings.TrimSpace(c.Param("meter_type")))

	var req resetMeterRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		invalidRequest(c)
		return
	}

	if err := s.metering.ResetMeter(c.Request.Context(), tenantID, meterType, strings.TrimSpace(req.Reason)); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) ResetAllMeters(c *gin.Context) {
	tenantID := strings.TrimSpace(c.Param("tenant_id"))
	if err := s.metering.ResetAllMeters(c.Request.Context(), tenantID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
