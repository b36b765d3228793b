package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"fulfillment/internal/middleware"
	"fulfillment/internal/service/order"
	"fulfillment/internal/statemachine"
	"fulfillment/pkg/utils"
)

// OrderHandler order handler
type OrderHandler struct {
	orderService order.Service
}

// NewOrderHandler creates an order handler
func NewOrderHandler(orderService order.Service) *OrderHandler {
	return &OrderHandler{
		orderService: orderService,
	}
}

// CreateOrderRequest checkout request body
type CreateOrderRequest struct {
	Items []OrderLineRequest `json:"items" binding:"required,min=1,dive"`
}

// OrderLineRequest one requested line; trip_date is YYYY-MM-DD
type OrderLineRequest struct {
	ProductID uint64  `json:"product_id" binding:"required"`
	Quantity  int     `json:"quantity" binding:"required,gt=0"`
	TripDate  string  `json:"trip_date" binding:"omitempty,datetime=2006-01-02"`
	TripTime  *string `json:"trip_time" binding:"omitempty,max=10"`
}

// UpdateStatusRequest admin status override body
type UpdateStatusRequest struct {
	Status *int `json:"status" binding:"required,min=0,max=3"`
}

func requester(c *gin.Context) (statemachine.Requester, bool) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		utils.Error(c, utils.CodeUnauthorized, "Unauthorized")
		return statemachine.Requester{}, false
	}
	role, _ := middleware.GetUserRole(c)
	return statemachine.Requester{UserID: userID, Role: role}, true
}

func orderID(c *gin.Context) (uint64, bool) {
	id, err := utils.ValidateID(c.Param("id"))
	if err != nil {
		utils.HandleError(c, err)
		return 0, false
	}
	return id, true
}

// CreateOrder places an order and returns the checkout link
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	req, ok := requester(c)
	if !ok {
		return
	}

	var body CreateOrderRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.HandleError(c, utils.BindingError(err))
		return
	}

	lines := make([]order.Line, 0, len(body.Items))
	for _, item := range body.Items {
		line := order.Line{ProductID: item.ProductID, Quantity: item.Quantity, TripTime: item.TripTime}
		if item.TripDate != "" {
			d, err := time.Parse("2006-01-02", item.TripDate)
			if err != nil {
				utils.Error(c, utils.CodeInvalidParam, "trip_date must be YYYY-MM-DD")
				return
			}
			line.TripDate = &d
		}
		lines = append(lines, line)
	}

	checkout, err := h.orderService.Create(c.Request.Context(), req.UserID, lines)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.CreatedResponse(c, gin.H{
		"order":       checkout.Order,
		"payment_url": checkout.PaymentURL,
	})
}

// GetOrder returns an order the caller owns, or any order for elevated roles
func (h *OrderHandler) GetOrder(c *gin.Context) {
	req, ok := requester(c)
	if !ok {
		return
	}
	id, ok := orderID(c)
	if !ok {
		return
	}

	o, err := h.orderService.Get(c.Request.Context(), req, id)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, o)
}

// ListOrders lists the caller's orders, or all orders for elevated roles
func (h *OrderHandler) ListOrders(c *gin.Context) {
	req, ok := requester(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))
	page, pageSize = utils.NormalizePage(page, pageSize)

	orders, total, err := h.orderService.List(c.Request.Context(), req, page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessPageResponse(c, orders, total, page, pageSize)
}

// CancelOrder cancels a non-terminal order
func (h *OrderHandler) CancelOrder(c *gin.Context) {
	req, ok := requester(c)
	if !ok {
		return
	}
	id, ok := orderID(c)
	if !ok {
		return
	}

	o, err := h.orderService.Cancel(c.Request.Context(), req, id)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, o)
}

// UpdateStatus admin override of an order status
func (h *OrderHandler) UpdateStatus(c *gin.Context) {
	req, ok := requester(c)
	if !ok {
		return
	}
	id, ok := orderID(c)
	if !ok {
		return
	}

	var body UpdateStatusRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.HandleError(c, utils.BindingError(err))
		return
	}

	o, err := h.orderService.UpdateStatus(c.Request.Context(), req, id, *body.Status)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, o)
}
