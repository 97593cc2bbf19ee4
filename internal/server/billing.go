package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	billingdomain "github.com/Okan-wqm/aquaculture-platform-sub002/internal/billing/domain"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/pricing"
)

type calculateBillingRequest struct {
	SubscriptionID string    `json:"subscription_id"`
	TenantID       string    `json:"tenant_id"`
	PlanTier       string    `json:"plan_tier"`
	BillingCycle   string    `json:"billing_cycle"`
	PeriodStart    time.Time `json:"period_start"`
	PeriodEnd      time.Time `json:"period_end"`
	BasePlanFee    string    `json:"base_plan_fee"`
	Region         string    `json:"region,omitempty"`
	TargetCurrency string    `json:"target_currency,omitempty"`
}

func (r calculateBillingRequest) toDomain() (billingdomain.CalculateBillingRequest, error) {
	fee := decimal.Zero
	if strings.TrimSpace(r.BasePlanFee) != "" {
		parsed, err := decimal.NewFromString(strings.TrimSpace(r.BasePlanFee))
		if err != nil {
			return billingdomain.CalculateBillingRequest{}, billingdomain.ErrInvalidAmount
		}
		fee = parsed
	}
	return billingdomain.CalculateBillingRequest{
		SubscriptionID: strings.TrimSpace(r.SubscriptionID),
		TenantID:       strings.TrimSpace(r.TenantID),
		PlanTier:       pricing.PlanTier(strings.TrimSpace(r.PlanTier)),
		BillingCycle:   billingdomain.BillingCycle(strings.TrimSpace(r.BillingCycle)),
		PeriodStart:    r.PeriodStart,
		PeriodEnd:      r.PeriodEnd,
		BasePlanFee:    fee,
		Region:         strings.TrimSpace(r.Region),
		TargetCurrency: strings.TrimSpace(r.TargetCurrency),
	}, nil
}

func (s *Server) CalculateBilling(c *gin.Context) {
	var req calculateBillingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c)
		return
	}
	domainReq, err := req.toDomain()
	if err != nil {
		AbortWithError(c, err)
		return
	}

	calc, err := s.billing.CalculateBilling(c.Request.Context(), domainReq)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": calc})
}

type calculateProRataRequest struct {
	calculateBillingRequest

	FullPeriodStart time.Time `json:"full_period_start"`
	FullPeriodEnd   time.Time `json:"full_period_end"`
	ActualStart     time.Time `json:"actual_start"`
	ActualEnd       time.Time `json:"actual_end"`
	Reason          string    `json:"reason"`
}

func (s *Server) CalculateProRata(c *gin.Context) {
	var req calculateProRataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c)
		return
	}
	base, err := req.toDomain()
	if err != nil {
		AbortWithError(c, err)
		return
	}

	calc, err := s.billing.CalculateProRataBilling(c.Request.Context(), billingdomain.CalculateProRataRequest{
		CalculateBillingRequest: base,
		FullPeriodStart:         req.FullPeriodStart,
		FullPeriodEnd:           req.FullPeriodEnd,
		ActualStart:             req.ActualStart,
		ActualEnd:               req.ActualEnd,
		Reason:                  billingdomain.ProRataReason(strings.TrimSpace(req.Reason)),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": calc})
}

func (s *Server) GenerateInvoicePreview(c *gin.Context) {
	var req calculateBillingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c)
		return
	}
	domainReq, err := req.toDomain()
	if err != nil {
		AbortWithError(c, err)
		return
	}

	calc, err := s.billing.GenerateInvoicePreview(c.Request.Context(), domainReq, time.Now().UTC())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": calc})
}

func (s *Server) ClearBillingCache(c *gin.Context) {
	if subscriptionID := strings.TrimSpace(c.Query("subscription_id")); subscriptionID != "" {
		s.billing.ClearCacheForSubscription(subscriptionID)
	} else {
		s.billing.ClearCache()
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type updateExchangeRateRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
	Rate string `json:"rate"`
}

func (s *Server) UpdateExchangeRate(c *gin.Context) {
	var req updateExchangeRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c)
		return
	}
	rate, err := decimal.NewFromString(strings.TrimSpace(req.Rate))
	if err != nil || !rate.IsPositive() {
		AbortWithError(c, billingdomain.ErrInvalidAmount)
		return
	}
	if strings.TrimSpace(req.From) == "" || strings.TrimSpace(req.To) == "" {
		invalidRequest(c)
		return
	}

	s.rates.Update(req.From, req.To, rate)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
