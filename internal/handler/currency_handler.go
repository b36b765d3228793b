package handler

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"fulfillment/internal/service/currency"
	"fulfillment/pkg/utils"
)

// CurrencyHandler exchange rate handler
type CurrencyHandler struct {
	currencyService currency.Service
}

// NewCurrencyHandler creates a currency handler
func NewCurrencyHandler(currencyService currency.Service) *CurrencyHandler {
	return &CurrencyHandler{
		currencyService: currencyService,
	}
}

// Rates returns the current rate table
func (h *CurrencyHandler) Rates(c *gin.Context) {
	table, err := h.currencyService.Rates(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	utils.SuccessResponse(c, table)
}

// Symbols returns the supported currency codes and names
func (h *CurrencyHandler) Symbols(c *gin.Context) {
	symbols, err := h.currencyService.Symbols(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	utils.SuccessResponse(c, symbols)
}

// Convert converts ?amount= between ?from= and ?to=
func (h *CurrencyHandler) Convert(c *gin.Context) {
	from := strings.ToUpper(strings.TrimSpace(c.Query("from")))
	to := strings.ToUpper(strings.TrimSpace(c.Query("to")))
	if from == "" || to == "" {
		utils.Error(c, utils.CodeInvalidParam, "from and to are required")
		return
	}

	amount, err := decimal.NewFromString(c.Query("amount"))
	if err != nil {
		utils.Error(c, utils.CodeInvalidParam, "amount must be a number")
		return
	}

	conversion, err := h.currencyService.Convert(c.Request.Context(), amount, from, to)
	if err != nil {
		respondError(c, err)
		return
	}
	utils.SuccessResponse(c, conversion)
}
