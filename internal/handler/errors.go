package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"fulfillment/internal/model"
	"fulfillment/internal/provider"
	"fulfillment/internal/repository"
	"fulfillment/internal/service/currency"
	"fulfillment/internal/service/order"
	"fulfillment/internal/statemachine"
	"fulfillment/pkg/log"
	"fulfillment/pkg/utils"
)

// codeFor maps a domain error to the business code it is served with
func codeFor(err error) (utils.ResponseCode, bool) {
	switch {
	case errors.Is(err, repository.ErrOrderNotFound):
		return utils.CodeOrderNotFound, true
	case errors.Is(err, repository.ErrProductNotFound):
		return utils.CodeProductNotFound, true
	case errors.Is(err, order.ErrForbidden), errors.Is(err, statemachine.ErrForbidden):
		return utils.CodeForbidden, true
	case errors.Is(err, statemachine.ErrInvalidTransition), errors.Is(err, repository.ErrStatusConflict):
		return utils.CodeInvalidTransition, true
	case errors.Is(err, order.ErrInsufficientStock):
		return utils.CodeStockNotEnough, true
	case errors.Is(err, order.ErrEmptyOrder),
		errors.Is(err, order.ErrInvalidQuantity),
		errors.Is(err, currency.ErrUnsupportedCurrency),
		errors.Is(err, currency.ErrInvalidAmount),
		errors.Is(err, model.ErrUnknownStatus):
		return utils.CodeInvalidParam, true
	case errors.Is(err, order.ErrPreference), errors.Is(err, provider.ErrProviderQuery):
		return utils.CodePaymentProvider, true
	}
	return 0, false
}

// respondError writes err with its mapped code. Unmapped errors are logged
// and served as a 500 without their message.
func respondError(c *gin.Context, err error) {
	if appErr, ok := utils.AsAppError(err); ok {
		utils.Error(c, appErr.Code, appErr.Message)
		return
	}
	if code, ok := codeFor(err); ok {
		utils.Error(c, code, err.Error())
		return
	}

	log.WithFields(log.Fields{
		"path":   c.FullPath(),
		"method": c.Request.Method,
		"error":  err.Error(),
	}).Error("Request failed")
	utils.HandleError(c, err)
}
