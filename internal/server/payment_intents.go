package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/paycore/internal/payment/domain"
)

type createPaymentIntentRequest struct {
	WorkspaceID string            `json:"workspace_id"`
	CustomerID  string            `json:"customer_id"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Provider    string            `json:"provider"`
	Metadata    map[string]string `json:"metadata"`
}

type confirmPaymentIntentRequest struct {
	PaymentMethod string `json:"payment_method"`
}

type cancelPaymentIntentRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) CreatePaymentIntent(c *gin.Context) {
	var req createPaymentIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	provider, err := paymentdomain.ParseProvider(req.Provider)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	intent, err := s.paymentSvc.CreatePaymentIntent(c.Request.Context(), paymentdomain.CreatePaymentIntentRequest{
		WorkspaceID: req.WorkspaceID,
		CustomerID:  req.CustomerID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Provider:    provider,
		Metadata:    req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": intent})
}

func (s *Server) GetPaymentIntent(c *gin.Context) {
	intent, err := s.paymentSvc.GetPaymentIntent(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": intent})
}

func (s *Server) ConfirmPaymentIntent(c *gin.Context) {
	var req confirmPaymentIntentRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	intent, err := s.paymentSvc.ConfirmPaymentIntent(c.Request.Context(), paymentdomain.ConfirmPaymentIntentRequest{
		ID:               strings.TrimSpace(c.Param("id")),
		PaymentMethodRef: req.PaymentMethod,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": intent})
}

func (s *Server) CancelPaymentIntent(c *gin.Context) {
	var req cancelPaymentIntentRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	intent, err := s.paymentSvc.CancelPaymentIntent(c.Request.Context(), strings.TrimSpace(c.Param("id")), req.Reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": intent})
}

func (s *Server) CreateRefund(c *gin.Context) {
	var req paymentdomain.CreateRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	refund, err := s.paymentSvc.CreateRefund(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": refund})
}

// bindOptionalJSON accepts an empty body as the zero request.
func bindOptionalJSON(c *gin.Context, dst any) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
