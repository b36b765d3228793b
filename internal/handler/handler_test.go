package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fulfillment/internal/middleware"
	"fulfillment/internal/model"
	"fulfillment/internal/provider"
	"fulfillment/internal/repository"
	"fulfillment/internal/service/currency"
	"fulfillment/internal/service/order"
	"fulfillment/internal/statemachine"
	"fulfillment/pkg/utils"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	utils.RegisterCustomValidators()
	os.Exit(m.Run())
}

// as authenticates the request the way middleware.Auth would
func as(userID uint64, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.UserIDKey, userID)
		c.Set(middleware.UserRoleKey, role)
		c.Next()
	}
}

func doJSON(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			_ = json.NewEncoder(&buf).Encode(body)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func parse(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var e envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e), w.Body.String())
	return e
}

func TestRespondError(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   utils.ResponseCode
	}{
		{fmt.Errorf("load: %w", repository.ErrOrderNotFound), http.StatusNotFound, utils.CodeOrderNotFound},
		{repository.ErrProductNotFound, http.StatusNotFound, utils.CodeProductNotFound},
		{order.ErrForbidden, http.StatusForbidden, utils.CodeForbidden},
		{statemachine.ErrForbidden, http.StatusForbidden, utils.CodeForbidden},
		{&statemachine.TransitionError{From: model.OrderStatusCompleted, Trigger: statemachine.CancelRequested}, http.StatusConflict, utils.CodeInvalidTransition},
		{repository.ErrStatusConflict, http.StatusConflict, utils.CodeInvalidTransition},
		{order.ErrInsufficientStock, http.StatusConflict, utils.CodeStockNotEnough},
		{order.ErrEmptyOrder, http.StatusBadRequest, utils.CodeInvalidParam},
		{currency.ErrUnsupportedCurrency, http.StatusBadRequest, utils.CodeInvalidParam},
		{model.ErrUnknownStatus, http.StatusBadRequest, utils.CodeInvalidParam},
		{fmt.Errorf("%w: timeout", order.ErrPreference), http.StatusBadGateway, utils.CodePaymentProvider},
		{provider.ErrProviderQuery, http.StatusBadGateway, utils.CodePaymentProvider},
		{utils.NewError(utils.CodeRateLimit, "slow down"), http.StatusTooManyRequests, utils.CodeRateLimit},
		{errors.New("connection refused"), http.StatusInternalServerError, utils.CodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			r := gin.New()
			r.GET("/", func(c *gin.Context) { respondError(c, tt.err) })

			w := doJSON(r, http.MethodGet, "/", nil)
			assert.Equal(t, tt.wantStatus, w.Code)
			e := parse(t, w)
			assert.Equal(t, int(tt.wantCode), e.Code)
			if tt.wantCode == utils.CodeInternalError {
				assert.NotContains(t, e.Message, "connection refused")
			}
		})
	}
}
