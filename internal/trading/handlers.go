package trading

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aurify/goldtrade/pkg/response"
)

// GinHandlers contains HTTP handlers for trade endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

type createOrderRequest struct {
	UserID string `json:"user_id"`
	OrderIntent
}

// CreateOrderHandler handles POST /create-order/:admin_id.
func (h *GinHandlers) CreateOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if req.OpeningDate.IsZero() {
			req.OpeningDate = time.Now()
		}

		result, err := h.service.OpenTrade(c.Request.Context(), c.Param("admin_id"), req.UserID, req.OrderIntent)
		response.Handle(c, result, err)
	}
}

// CloseOrderHandler handles PATCH /order/:admin_id/:order_id. The bound
// request is the whitelisted mutation set; unknown fields are dropped.
func (h *GinHandlers) CloseOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CloseRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		outcome, err := h.service.CloseTrade(c.Request.Context(), c.Param("admin_id"), c.Param("order_id"), req)
		response.Handle(c, outcome, err)
	}
}

// GetOrderHandler handles GET /order/:admin_id/:order_id and returns the
// order with its journal rows.
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		order, entries, err := h.service.GetOrder(c.Param("order_id"), c.Param("admin_id"))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{
			"order":  order,
			"ledger": entries,
		})
	}
}

// ListOrdersHandler handles GET /orders/:admin_id.
func (h *GinHandlers) ListOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orders, err := h.service.ListOrders(c.Param("admin_id"))
		response.Handle(c, orders, err)
	}
}
