package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	aggregationdomain "github.com/Okan-wqm/aquaculture-platform-sub002/internal/aggregation/domain"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/meter"
)

func parseTimeQuery(c *gin.Context, name string, fallback time.Time) (time.Time, bool) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return fallback, true
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return parsed.UTC(), true
}

func (s *Server) GetAggregates(c *gin.Context) {
	tenantID := strings.TrimSpace(c.Param("tenant_id"))
	meterType := meter.Type(strings.TrimSpace(c.Query("meter_type")))
	period := aggregationdomain.Period(strings.TrimSpace(c.Query("period")))
	if tenantID == "" || meterType == "" || period == "" {
		invalidRequest(c)
		return
	}

	now := time.Now().UTC()
	start, ok := parseTimeQuery(c, "start", now.AddDate(0, -1, 0))
	if !ok {
		invalidRequest(c)
		return
	}
	end, ok := parseTimeQuery(c, "end", now)
	if !ok {
		invalidRequest(c)
		return
	}

	buckets := s.aggregation.GetRange(tenantID, meterType, period, start, end)
	c.JSON(http.StatusOK, gin.H{"data": buckets})
}

func (s *Server) GetTenantSummary(c *gin.Context) {
	tenantID := strings.TrimSpace(c.Param("tenant_id"))
	period := aggregationdomain.Period(strings.TrimSpace(c.DefaultQuery("period", string(aggregationdomain.PeriodMonthly))))

	at, ok := parseTimeQuery(c, "at", time.Now().UTC())
	if !ok {
		invalidRequest(c)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": s.aggregation.GetTenantSummary(tenantID, period, at)})
}

func (s *Server) GetTrend(c *gin.Context) {
	tenantID := strings.TrimSpace(c.Param("tenant_id"))
	meterType := meter.Type(strings.TrimSpace(c.Query("meter_type")))
	period := aggregationdomain.Period(strings.TrimSpace(c.DefaultQuery("period", string(aggregationdomain.PeriodDaily))))
	if tenantID == "" || meterType == "" {
		invalidRequest(c)
		return
	}

	points, err := strconv.Atoi(c.DefaultQuery("points", "30"))
	if err != nil || points <= 0 {
		invalidRequest(c)
		return
	}
	until, ok := parseTimeQuery(c, "until", time.Now().UTC())
	if !ok {
		invalidRequest(c)
		return
	}

	trend := s.aggregation.GetTrend(tenantID, meterType, period, points, until)
	c.JSON(http.StatusOK, gin.H{"data": trend})
}

func (s *Server) GetStatistics(c *gin.Context) {
	tenantID := strings.TrimSpace(c.Param("tenant_id"))
	meterType := meter.Type(strings.TrimSpace(c.Query("meter_type")))
	period := aggregationdomain.Period(strings.TrimSpace(c.DefaultQuery("period", string(aggregationdomain.PeriodDaily))))
	if tenantID == "" || meterType == "" {
		invalidRequest(c)
		return
	}

	// source=raw describes the rolling buffer of individual hourly samples
	// instead of bucket totals; period and points do not apply.
	if strings.TrimSpace(c.Query("source")) == "raw" {
		c.JSON(http.StatusOK, gin.H{"data": s.aggregation.GetRawStatistics(tenantID, meterType)})
		return
	}

	points, err := strconv.Atoi(c.DefaultQuery("points", "30"))
	if err != nil || points <= 0 {
		invalidRequest(c)
		return
	}
	until, ok := parseTimeQuery(c, "until", time.Now().UTC())
	if !ok {
		invalidRequest(c)
		return
	}

	stats := s.aggregation.GetStatistics(tenantID, meterType, period, points, until)
	c.JSON(http.StatusOK, gin.H{"data": stats})
}
