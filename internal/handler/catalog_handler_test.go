package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"fulfillment/internal/mailer"
	"fulfillment/internal/model"
	"fulfillment/internal/repository"
	"fulfillment/internal/service/currency"
	"fulfillment/pkg/utils"
)

// MockProductService is a mock implementation of product.Service
type MockProductService struct {
	mock.Mock
}

func (m *MockProductService) List(ctx context.Context) ([]*model.Product, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Product), args.Error(1)
}

func (m *MockProductService) Get(ctx context.Context, id uint64) (*model.Product, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Product), args.Error(1)
}

func (m *MockProductService) Create(ctx context.Context, product *model.Product) error {
	args := m.Called(ctx, product)
	if args.Error(0) == nil {
		product.ID = 99
	}
	return args.Error(0)
}

func (m *MockProductService) Update(ctx context.Context, product *model.Product) error {
	return m.Called(ctx, product).Error(0)
}

func (m *MockProductService) Delete(ctx context.Context, id uint64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockProductService) StockHistory(ctx context.Context, id uint64, limit int) ([]model.StockLog, error) {
	args := m.Called(ctx, id, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.StockLog), args.Error(1)
}

func productRouter(svc *MockProductService) *gin.Engine {
	h := NewProductHandler(svc)
	r := gin.New()
	r.GET("/products", h.ListProducts)
	r.GET("/products/:id", h.GetProduct)
	r.POST("/products", h.CreateProduct)
	r.PUT("/products/:id", h.UpdateProduct)
	r.DELETE("/products/:id", h.DeleteProduct)
	r.GET("/products/:id/stock-logs", h.StockHistory)
	return r
}

func TestProductHandler_Read(t *testing.T) {
	svc := new(MockProductService)
	svc.On("List", mock.Anything).Return([]*model.Product{{ID: 1, Name: "Canal tour"}}, nil)
	svc.On("Get", mock.Anything, uint64(1)).Return(&model.Product{ID: 1, Name: "Canal tour"}, nil)
	svc.On("Get", mock.Anything, uint64(2)).Return(nil, repository.ErrProductNotFound)
	r := productRouter(svc)

	w := doJSON(r, http.MethodGet, "/products", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var list []model.Product
	require.NoError(t, json.Unmarshal(parse(t, w).Data, &list))
	assert.Len(t, list, 1)

	w = doJSON(r, http.MethodGet, "/products/1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodGet, "/products/2", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, int(utils.CodeProductNotFound), parse(t, w).Code)

	w = doJSON(r, http.MethodGet, "/products/0", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProductHandler_Create(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		svc := new(MockProductService)
		svc.On("Create", mock.Anything, mock.MatchedBy(func(p *model.Product) bool {
			return p.Name == "Canal tour" && p.Price.Equal(decimal.RequireFromString("30.13")) && p.Stock == 10
		})).Return(nil)

		w := doJSON(productRouter(svc), http.MethodPost, "/products", gin.H{
			"name": "Canal tour", "destination": "Amsterdam", "price": "30.125", "stock": 10,
		})
		assert.Equal(t, http.StatusCreated, w.Code)
		var p model.Product
		require.NoError(t, json.Unmarshal(parse(t, w).Data, &p))
		assert.Equal(t, uint64(99), p.ID)
		svc.AssertExpectations(t)
	})

	t.Run("invalid", func(t *testing.T) {
		bodies := []gin.H{
			{"price": "10", "stock": 1},
			{"name": "Tour", "price": "0", "stock": 1},
			{"name": "Tour", "price": "-5", "stock": 1},
			{"name": "Tour", "price": "10", "stock": -1},
		}
		for _, body := range bodies {
			svc := new(MockProductService)
			w := doJSON(productRouter(svc), http.MethodPost, "/products", body)
			assert.Equal(t, http.StatusBadRequest, w.Code, body)
			svc.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		}
	})
}

func TestProductHandler_UpdateDelete(t *testing.T) {
	svc := new(MockProductService)
	svc.On("Update", mock.Anything, mock.MatchedBy(func(p *model.Product) bool { return p.ID == 4 })).Return(nil)
	svc.On("Update", mock.Anything, mock.MatchedBy(func(p *model.Product) bool { return p.ID == 5 })).Return(repository.ErrProductNotFound)
	svc.On("Delete", mock.Anything, uint64(4)).Return(nil)
	r := productRouter(svc)

	body := gin.H{"name": "Museum pass", "price": "20", "stock": 3}
	assert.Equal(t, http.StatusOK, doJSON(r, http.MethodPut, "/products/4", body).Code)
	assert.Equal(t, http.StatusNotFound, doJSON(r, http.MethodPut, "/products/5", body).Code)
	assert.Equal(t, http.StatusOK, doJSON(r, http.MethodDelete, "/products/4", nil).Code)
	svc.AssertExpectations(t)
}

func TestProductHandler_StockHistory(t *testing.T) {
	svc := new(MockProductService)
	svc.On("StockHistory", mock.Anything, uint64(1), 50).Return([]model.StockLog{{OrderID: 3, ProductID: 1, Quantity: 2}}, nil).Twice()
	svc.On("StockHistory", mock.Anything, uint64(1), 5).Return([]model.StockLog{}, nil).Once()
	r := productRouter(svc)

	assert.Equal(t, http.StatusOK, doJSON(r, http.MethodGet, "/products/1/stock-logs", nil).Code)
	assert.Equal(t, http.StatusOK, doJSON(r, http.MethodGet, "/products/1/stock-logs?limit=5000", nil).Code)
	assert.Equal(t, http.StatusOK, doJSON(r, http.MethodGet, "/products/1/stock-logs?limit=5", nil).Code)
	svc.AssertExpectations(t)
}

// MockCurrencyService is a mock implementation of currency.Service
type MockCurrencyService struct {
	mock.Mock
}

func (m *MockCurrencyService) Rates(ctx context.Context) (*currency.RateTable, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*currency.RateTable), args.Error(1)
}

func (m *MockCurrencyService) Symbols(ctx context.Context) (map[string]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]string), args.Error(1)
}

func (m *MockCurrencyService) Convert(ctx context.Context, amount decimal.Decimal, from, to string) (*currency.Conversion, error) {
	args := m.Called(ctx, amount.String(), from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*currency.Conversion), args.Error(1)
}

func (m *MockCurrencyService) Display(ctx context.Context, code string) (mailer.Display, error) {
	args := m.Called(ctx, code)
	return args.Get(0).(mailer.Display), args.Error(1)
}

func TestCurrencyHandler(t *testing.T) {
	svc := new(MockCurrencyService)
	svc.On("Rates", mock.Anything).Return(&currency.RateTable{
		Base:  "EUR",
		Rates: map[string]decimal.Decimal{"EUR": decimal.NewFromInt(1), "USD": decimal.RequireFromString("1.087")},
	}, nil)
	svc.On("Symbols", mock.Anything).Return(map[string]string{"EUR": "Euro", "USD": "US Dollar"}, nil)
	svc.On("Convert", mock.Anything, "100", "EUR", "USD").Return(&currency.Conversion{
		Amount: decimal.NewFromInt(100), From: "EUR", To: "USD",
		Result: decimal.RequireFromString("108.7"), Rate: decimal.RequireFromString("1.087"), UpdatedAt: time.Now(),
	}, nil)
	svc.On("Convert", mock.Anything, "100", "EUR", "XXX").Return(nil, currency.ErrUnsupportedCurrency)

	h := NewCurrencyHandler(svc)
	r := gin.New()
	r.GET("/currency/rates", h.Rates)
	r.GET("/currency/symbols", h.Symbols)
	r.GET("/currency/convert", h.Convert)

	w := doJSON(r, http.MethodGet, "/currency/rates", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var table currency.RateTable
	require.NoError(t, json.Unmarshal(parse(t, w).Data, &table))
	assert.Equal(t, "EUR", table.Base)

	w = doJSON(r, http.MethodGet, "/currency/symbols", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodGet, "/currency/convert?amount=100&from=eur&to=usd", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var conv currency.Conversion
	require.NoError(t, json.Unmarshal(parse(t, w).Data, &conv))
	assert.True(t, conv.Result.Equal(decimal.RequireFromString("108.7")))

	assert.Equal(t, http.StatusBadRequest, doJSON(r, http.MethodGet, "/currency/convert?amount=100&from=EUR&to=XXX", nil).Code)
	assert.Equal(t, http.StatusBadRequest, doJSON(r, http.MethodGet, "/currency/convert?amount=abc&from=EUR&to=USD", nil).Code)
	assert.Equal(t, http.StatusBadRequest, doJSON(r, http.MethodGet, "/currency/convert?amount=1&from=EUR", nil).Code)
	svc.AssertExpectations(t)
}
