package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"fulfillment/internal/model"
	"fulfillment/internal/repository"
	"fulfillment/internal/service/order"
	"fulfillment/internal/statemachine"
	"fulfillment/pkg/utils"
)

// MockOrderService is a mock implementation of order.Service
type MockOrderService struct {
	mock.Mock
}

func (m *MockOrderService) Create(ctx context.Context, userID uint64, lines []order.Line) (*order.Checkout, error) {
	args := m.Called(ctx, userID, lines)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Checkout), args.Error(1)
}

func (m *MockOrderService) Get(ctx context.Context, requester statemachine.Requester, id uint64) (*model.Order, error) {
	args := m.Called(ctx, requester, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

func (m *MockOrderService) List(ctx context.Context, requester statemachine.Requester, page, pageSize int) ([]*model.Order, int64, error) {
	args := m.Called(ctx, requester, page, pageSize)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*model.Order), args.Get(1).(int64), args.Error(2)
}

func (m *MockOrderService) Cancel(ctx context.Context, requester statemachine.Requester, id uint64) (*model.Order, error) {
	args := m.Called(ctx, requester, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

func (m *MockOrderService) UpdateStatus(ctx context.Context, requester statemachine.Requester, id uint64, status int) (*model.Order, error) {
	args := m.Called(ctx, requester, id, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

func orderRouter(svc order.Service, userID uint64, role string) *gin.Engine {
	h := NewOrderHandler(svc)
	r := gin.New()
	g := r.Group("/orders", as(userID, role))
	g.POST("", h.CreateOrder)
	g.GET("", h.ListOrders)
	g.GET("/:id", h.GetOrder)
	g.PUT("/:id/cancel", h.CancelOrder)
	g.PUT("/:id/status", h.UpdateStatus)
	return r
}

func TestOrderHandler_CreateOrder(t *testing.T) {
	t.Run("created with payment url", func(t *testing.T) {
		svc := new(MockOrderService)
		o := &model.Order{ID: 5, UserID: 1, Total: decimal.RequireFromString("145.20"), Status: model.OrderStatusProcessing}
		svc.On("Create", mock.Anything, uint64(1), mock.MatchedBy(func(lines []order.Line) bool {
			return len(lines) == 2 &&
				lines[0].ProductID == 10 && lines[0].Quantity == 2 &&
				lines[0].TripDate != nil && lines[0].TripDate.Format("2006-01-02") == "2026-11-02" &&
				lines[1].TripDate == nil
		})).Return(&order.Checkout{Order: o, PaymentURL: "https://checkout.local?pref_id=x"}, nil)

		w := doJSON(orderRouter(svc, 1, model.RoleUser), http.MethodPost, "/orders", gin.H{
			"items": []gin.H{
				{"product_id": 10, "quantity": 2, "trip_date": "2026-11-02", "trip_time": "09:30"},
				{"product_id": 11, "quantity": 1},
			},
		})

		assert.Equal(t, http.StatusCreated, w.Code)
		var data struct {
			Order      model.Order `json:"order"`
			PaymentURL string      `json:"payment_url"`
		}
		require.NoError(t, json.Unmarshal(parse(t, w).Data, &data))
		assert.Equal(t, uint64(5), data.Order.ID)
		assert.Equal(t, "https://checkout.local?pref_id=x", data.PaymentURL)
		svc.AssertExpectations(t)
	})

	t.Run("invalid body", func(t *testing.T) {
		bodies := []interface{}{
			`{"items": [`,
			gin.H{"items": []gin.H{}},
			gin.H{"items": []gin.H{{"product_id": 10, "quantity": 0}}},
			gin.H{"items": []gin.H{{"quantity": 1}}},
			gin.H{"items": []gin.H{{"product_id": 10, "quantity": 1, "trip_date": "02/11/2026"}}},
		}
		for _, body := range bodies {
			svc := new(MockOrderService)
			w := doJSON(orderRouter(svc, 1, model.RoleUser), http.MethodPost, "/orders", body)
			assert.Equal(t, http.StatusBadRequest, w.Code, body)
			assert.Equal(t, int(utils.CodeInvalidParam), parse(t, w).Code)
			svc.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
		}
	})

	t.Run("insufficient stock", func(t *testing.T) {
		svc := new(MockOrderService)
		svc.On("Create", mock.Anything, uint64(1), mock.Anything).Return(nil, order.ErrInsufficientStock)

		w := doJSON(orderRouter(svc, 1, model.RoleUser), http.MethodPost, "/orders", gin.H{
			"items": []gin.H{{"product_id": 10, "quantity": 99}},
		})
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, int(utils.CodeStockNotEnough), parse(t, w).Code)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		h := NewOrderHandler(new(MockOrderService))
		r := gin.New()
		r.POST("/orders", h.CreateOrder)

		w := doJSON(r, http.MethodPost, "/orders", gin.H{"items": []gin.H{{"product_id": 10, "quantity": 1}}})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestOrderHandler_GetOrder(t *testing.T) {
	owner := statemachine.Requester{UserID: 1, Role: model.RoleUser}

	t.Run("found", func(t *testing.T) {
		svc := new(MockOrderService)
		svc.On("Get", mock.Anything, owner, uint64(7)).Return(&model.Order{ID: 7, UserID: 1}, nil)

		w := doJSON(orderRouter(svc, 1, model.RoleUser), http.MethodGet, "/orders/7", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "success", parse(t, w).Message)
		svc.AssertExpectations(t)
	})

	t.Run("not found", func(t *testing.T) {
		svc := new(MockOrderService)
		svc.On("Get", mock.Anything, owner, uint64(8)).Return(nil, repository.ErrOrderNotFound)

		w := doJSON(orderRouter(svc, 1, model.RoleUser), http.MethodGet, "/orders/8", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, int(utils.CodeOrderNotFound), parse(t, w).Code)
	})

	t.Run("someone else's order", func(t *testing.T) {
		svc := new(MockOrderService)
		svc.On("Get", mock.Anything, owner, uint64(9)).Return(nil, order.ErrForbidden)

		w := doJSON(orderRouter(svc, 1, model.RoleUser), http.MethodGet, "/orders/9", nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("bad id", func(t *testing.T) {
		svc := new(MockOrderService)
		w := doJSON(orderRouter(svc, 1, model.RoleUser), http.MethodGet, "/orders/abc", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		svc.AssertNotCalled(t, "Get", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestOrderHandler_ListOrders(t *testing.T) {
	admin := statemachine.Requester{UserID: 2, Role: model.RoleAdmin}

	svc := new(MockOrderService)
	svc.On("List", mock.Anything, admin, 2, 10).Return([]*model.Order{{ID: 3}, {ID: 4}}, int64(14), nil)

	// page_size out of range falls back to the default
	w := doJSON(orderRouter(svc, 2, model.RoleAdmin), http.MethodGet, "/orders?page=2&page_size=500", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var page utils.PageResponse
	require.NoError(t, json.Unmarshal(parse(t, w).Data, &page))
	assert.Equal(t, int64(14), page.Total)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 10, page.Size)
	svc.AssertExpectations(t)
}

func TestOrderHandler_CancelOrder(t *testing.T) {
	owner := statemachine.Requester{UserID: 1, Role: model.RoleUser}

	t.Run("cancelled", func(t *testing.T) {
		svc := new(MockOrderService)
		svc.On("Cancel", mock.Anything, owner, uint64(7)).Return(&model.Order{ID: 7, Status: model.OrderStatusCancelled}, nil)

		w := doJSON(orderRouter(svc, 1, model.RoleUser), http.MethodPut, "/orders/7/cancel", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		var o model.Order
		require.NoError(t, json.Unmarshal(parse(t, w).Data, &o))
		assert.Equal(t, model.OrderStatusCancelled, o.Status)
	})

	t.Run("already completed", func(t *testing.T) {
		svc := new(MockOrderService)
		svc.On("Cancel", mock.Anything, owner, uint64(7)).Return(nil,
			&statemachine.TransitionError{From: model.OrderStatusCompleted, Trigger: statemachine.CancelRequested})

		w := doJSON(orderRouter(svc, 1, model.RoleUser), http.MethodPut, "/orders/7/cancel", nil)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, int(utils.CodeInvalidTransition), parse(t, w).Code)
	})
}

func TestOrderHandler_UpdateStatus(t *testing.T) {
	admin := statemachine.Requester{UserID: 2, Role: model.RoleAdmin}

	t.Run("pending is a valid target", func(t *testing.T) {
		svc := new(MockOrderService)
		svc.On("UpdateStatus", mock.Anything, admin, uint64(7), 0).Return(&model.Order{ID: 7}, nil)

		w := doJSON(orderRouter(svc, 2, model.RoleAdmin), http.MethodPut, "/orders/7/status", gin.H{"status": 0})
		assert.Equal(t, http.StatusOK, w.Code)
		svc.AssertExpectations(t)
	})

	t.Run("out of range or missing", func(t *testing.T) {
		for _, body := range []interface{}{gin.H{"status": 4}, gin.H{"status": -1}, gin.H{}} {
			svc := new(MockOrderService)
			w := doJSON(orderRouter(svc, 2, model.RoleAdmin), http.MethodPut, "/orders/7/status", body)
			assert.Equal(t, http.StatusBadRequest, w.Code, body)
			svc.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		}
	})

	t.Run("terminal order", func(t *testing.T) {
		svc := new(MockOrderService)
		svc.On("UpdateStatus", mock.Anything, admin, uint64(7), 1).Return(nil, statemachine.ErrInvalidTransition)

		w := doJSON(orderRouter(svc, 2, model.RoleAdmin), http.MethodPut, "/orders/7/status", gin.H{"status": 1})
		assert.Equal(t, http.StatusConflict, w.Code)
	})
}
