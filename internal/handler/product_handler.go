package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"fulfillment/internal/model"
	"fulfillment/internal/service/product"
	"fulfillment/pkg/utils"
)

const maxHistory = 200

// ProductHandler product catalogue handler
type ProductHandler struct {
	productService product.Service
}

// NewProductHandler creates a product handler
func NewProductHandler(productService product.Service) *ProductHandler {
	return &ProductHandler{
		productService: productService,
	}
}

// ProductRequest create and update body
type ProductRequest struct {
	Name        string          `json:"name" binding:"required,max=200"`
	Description *string         `json:"description"`
	Destination string          `json:"destination" binding:"max=120"`
	Image       *string         `json:"image" binding:"omitempty,max=255"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock" binding:"nonnegative"`
}

func (r *ProductRequest) toModel() *model.Product {
	return &model.Product{
		Name:        r.Name,
		Description: r.Description,
		Destination: r.Destination,
		Image:       r.Image,
		Price:       r.Price.Round(2),
		Stock:       r.Stock,
	}
}

func bindProduct(c *gin.Context) (*ProductRequest, bool) {
	var req ProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.HandleError(c, utils.BindingError(err))
		return nil, false
	}
	if !req.Price.IsPositive() {
		utils.Error(c, utils.CodeInvalidParam, "price must be greater than 0")
		return nil, false
	}
	return &req, true
}

// ListProducts lists the catalogue
func (h *ProductHandler) ListProducts(c *gin.Context) {
	products, err := h.productService.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	utils.SuccessResponse(c, products)
}

// GetProduct gets a product by id
func (h *ProductHandler) GetProduct(c *gin.Context) {
	id, err := utils.ValidateID(c.Param("id"))
	if err != nil {
		utils.HandleError(c, err)
		return
	}

	p, err := h.productService.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	utils.SuccessResponse(c, p)
}

// CreateProduct adds a product
func (h *ProductHandler) CreateProduct(c *gin.Context) {
	req, ok := bindProduct(c)
	if !ok {
		return
	}

	p := req.toModel()
	if err := h.productService.Create(c.Request.Context(), p); err != nil {
		respondError(c, err)
		return
	}
	utils.CreatedResponse(c, p)
}

// UpdateProduct replaces a product's fields
func (h *ProductHandler) UpdateProduct(c *gin.Context) {
	id, err := utils.ValidateID(c.Param("id"))
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	req, ok := bindProduct(c)
	if !ok {
		return
	}

	p := req.toModel()
	p.ID = id
	if err := h.productService.Update(c.Request.Context(), p); err != nil {
		respondError(c, err)
		return
	}
	utils.SuccessResponse(c, p)
}

// DeleteProduct removes a product
func (h *ProductHandler) DeleteProduct(c *gin.Context) {
	id, err := utils.ValidateID(c.Param("id"))
	if err != nil {
		utils.HandleError(c, err)
		return
	}

	if err := h.productService.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	utils.SuccessResponse(c, gin.H{"id": id})
}

// StockHistory lists the latest stock movements of a product
func (h *ProductHandler) StockHistory(c *gin.Context) {
	id, err := utils.ValidateID(c.Param("id"))
	if err != nil {
		utils.HandleError(c, err)
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit < 1 || limit > maxHistory {
		limit = 50
	}

	logs, err := h.productService.StockHistory(c.Request.Context(), id, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	utils.SuccessResponse(c, logs)
}
