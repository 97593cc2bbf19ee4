package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	aggregationdomain "github.com/Okan-wqm/aquaculture-platform-sub002/internal/aggregation/domain"
	billingdomain "github.com/Okan-wqm/aquaculture-platform-sub002/internal/billing/domain"
	meteringdomain "github.com/Okan-wqm/aquaculture-platform-sub002/internal/metering/domain"
	"github.com/Okan-wqm/aquaculture-platform-sub002/internal/pricing"
)

var statusByError = map[error]int{
	meteringdomain.ErrInvalidTenant:      http.StatusBadRequest,
	meteringdomain.ErrInvalidQuantity:    http.StatusBadRequest,
	meteringdomain.ErrInvalidMeterType:   http.StatusBadRequest,
	meteringdomain.ErrMeterNotFound:      http.StatusNotFound,
	aggregationdomain.ErrInvalidPeriod:   http.StatusBadRequest,
	aggregationdomain.ErrInvalidQuantity: http.StatusBadRequest,
	billingdomain.ErrInvalidSubscription: http.StatusBadRequest,
	billingdomain.ErrInvalidTenant:       http.StatusBadRequest,
	billingdomain.ErrInvalidPeriod:       http.StatusBadRequest,
	billingdomain.ErrInvalidBillingCycle: http.StatusBadRequest,
	billingdomain.ErrInvalidAmount:       http.StatusBadRequest,
	pricing.ErrUnknownPlanTier:           http.StatusUnprocessableEntity,
	pricing.ErrUnknownModel:              http.StatusUnprocessableEntity,
	pricing.ErrUnknownCurrencyPair:       http.StatusUnprocessableEntity,
}

// AbortWithError maps domain sentinel errors onto HTTP statuses. Anything
// unrecognized is a 500 with the detail kept out of the response body.
func AbortWithError(c *gin.Context, err error) {
	for sentinel, status := range statusByError {
		if errors.Is(err, sentinel) {
			c.AbortWithStatusJSON(status, gin.H{"error": sentinel.Error()})
			return
		}
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
}

func invalidRequest(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
}

func rateLimited(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
}
