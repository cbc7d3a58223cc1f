package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/paycore/internal/payment/domain"
)

type addPaymentMethodRequest struct {
	Provider      string `json:"provider"`
	PaymentMethod string `json:"payment_method"`
	Default       bool   `json:"default"`
}

func (s *Server) CreateCustomer(c *gin.Context) {
	var req paymentdomain.CreateCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	customer, err := s.paymentSvc.CreateCustomer(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": customer})
}

func (s *Server) AddPaymentMethod(c *gin.Context) {
	var req addPaymentMethodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	provider, err := paymentdomain.ParseProvider(req.Provider)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	method, err := s.paymentSvc.AddPaymentMethod(c.Request.Context(), paymentdomain.AddPaymentMethodRequest{
		CustomerID:       strings.TrimSpace(c.Param("id")),
		Provider:         provider,
		PaymentMethodRef: req.PaymentMethod,
		MakeDefault:      req.Default,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": method})
}
