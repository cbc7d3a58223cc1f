package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/paycore/internal/payment/domain"
)

type createSubscriptionRequest struct {
	WorkspaceID string `json:"workspace_id"`
	CustomerID  string `json:"customer_id"`
	PlanID      string `json:"plan_id"`
	Provider    string `json:"provider"`
	TrialDays   *int   `json:"trial_days"`
}

type cancelSubscriptionRequest struct {
	AtPeriodEnd *bool `json:"at_period_end"`
}

func (s *Server) CreateSubscription(c *gin.Context) {
	var req createSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	provider, err := paymentdomain.ParseProvider(req.Provider)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	sub, err := s.paymentSvc.CreateSubscription(c.Request.Context(), paymentdomain.CreateSubscriptionInput{
		WorkspaceID: req.WorkspaceID,
		CustomerID:  req.CustomerID,
		PlanID:      req.PlanID,
		Provider:    provider,
		TrialDays:   req.TrialDays,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": sub})
}

// CancelSubscription cancels immediately unless at_period_end is set, in
// the body or the query string.
func (s *Server) CancelSubscription(c *gin.Context) {
	var req cancelSubscriptionRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	atPeriodEnd := false
	if req.AtPeriodEnd != nil {
		atPeriodEnd = *req.AtPeriodEnd
	} else {
		fromQuery, err := parseOptionalBool(c.Query("at_period_end"))
		if err != nil {
			AbortWithError(c, newValidationError("at_period_end", "invalid_at_period_end", "at_period_end must be a boolean"))
			return
		}
		if fromQuery != nil {
			atPeriodEnd = *fromQuery
		}
	}

	sub, err := s.paymentSvc.CancelSubscription(c.Request.Context(), strings.TrimSpace(c.Param("id")), atPeriodEnd)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": sub})
}

func (s *Server) ListInvoices(c *gin.Context) {
	invoices, err := s.paymentSvc.ListInvoices(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": invoices})
}

func (s *Server) GetAnalyticsSummary(c *gin.Context) {
	workspaceID := strings.TrimSpace(c.Query("workspace_id"))
	if workspaceID == "" {
		AbortWithError(c, newValidationError("workspace_id", "required", "workspace_id is required"))
		return
	}

	summary, err := s.paymentSvc.GetAnalyticsSummary(c.Request.Context(), workspaceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": summary})
}
