package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/elastic/go-elasticsearch/v9"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/emstore/ems-backend/internal/apperr"
	"github.com/emstore/ems-backend/internal/authz"
	"github.com/emstore/ems-backend/internal/es"
	"github.com/emstore/ems-backend/internal/models"
	"github.com/emstore/ems-backend/internal/mykafka"
	"github.com/emstore/ems-backend/internal/notify"
	"github.com/emstore/ems-backend/internal/util"
)

type ProductHandler struct {
	DB       *gorm.DB
	Producer *mykafka.Producer
	ES       *elasticsearch.Client
	Notifier *notify.Sink

	LowStockThreshold int64
}

type productRequest struct {
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int64           `json:"stock_quantity"`
	CategoryID    *uint           `json:"category_id"`
	SupplierID    uint            `json:"supplier_id"`
}

func (h *ProductHandler) GetProduct(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}

	var product models.Product
	if err := h.DB.First(&product, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.HTTP(fmt.Errorf("%w: product %d", apperr.ErrNotFound, id))
		}
		return errorResponse(c, http.StatusInternalServerError, err)
	}

	return c.JSON(http.StatusOK, product)
}

func (h *ProductHandler) GetProducts(c echo.Context) error {
	page := parseIntDefault(c.QueryParam("page"), 1)
	size := parseIntDefault(c.QueryParam("size"), util.DefaultPageSize)

	offset, limit := util.Calculate(page, size)

	var total int64
	if err := h.DB.Model(&models.Product{}).Count(&total).Error; err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}

	var items []models.Product
	if err := h.DB.Model(&models.Product{}).Order("id ASC").Offset(offset).Limit(limit).Find(&items).Error; err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"data": items,
		"meta": map[string]any{
			"page":        page,
			"size":        limit,
			"total":       total,
			"total_pages": (total + int64(limit) - 1) / int64(limit),
			"has_prev":    page > 1,
			"has_next":    int64(offset+limit) < total,
		},
	})
}

func (h *ProductHandler) CreateProduct(c echo.Context) error {
	ident, err := authz.FromContext(c)
	if err != nil {
		return apperr.HTTP(err)
	}
	if !ident.IsAdmin() && !ident.IsSupplier() {
		return apperr.HTTP(fmt.Errorf("%w: only suppliers and admins create products", apperr.ErrAuthorization))
	}

	var req productRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}
	if req.Name == "" {
		return apperr.HTTP(fmt.Errorf("%w: name is required", apperr.ErrValidation))
	}
	if req.Price.IsNegative() || req.StockQuantity < 0 {
		return apperr.HTTP(fmt.Errorf("%w: price and stock must be non-negative", apperr.ErrValidation))
	}

	// Suppliers always list under their own profile; only admins may set
	// an arbitrary supplier.
	supplierID := req.SupplierID
	if ident.IsSupplier() {
		supplierID = ident.ProfileID
	}

	product := models.Product{
		SupplierID:    supplierID,
		CategoryID:    req.CategoryID,
		Name:          req.Name,
		Description:   req.Description,
		Price:         req.Price,
		StockQuantity: req.StockQuantity,
	}
	if err := h.DB.Create(&product).Error; err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}

	h.index(c, &product)
	publish(c, h.Producer, "product_events", map[string]interface{}{
		"type":      "product_created",
		"userID":    ident.UserID,
		"productID": product.ID,
		"name":      product.Name,
	})

	return c.JSON(http.StatusCreated, product)
}

// productPatchRequest uses pointer fields so an omitted key leaves the
// stored value untouched.
type productPatchRequest struct {
	Name          *string          `json:"name"`
	Description   *string          `json:"description"`
	Price         *decimal.Decimal `json:"price"`
	StockQuantity *int64           `json:"stock_quantity"`
	CategoryID    *uint            `json:"category_id"`
}

func (h *ProductHandler) PatchProduct(c echo.Context) error {
	ident, err := authz.FromContext(c)
	if err != nil {
		return apperr.HTTP(err)
	}

	id, err := paramID(c, "id")
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}

	var req productPatchRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}

	var product models.Product
	if err := h.DB.First(&product, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.HTTP(fmt.Errorf("%w: product %d", apperr.ErrNotFound, id))
		}
		return errorResponse(c, http.StatusInternalServerError, err)
	}
	if !ident.CanManageProduct(&product) {
		return apperr.HTTP(fmt.Errorf("%w: product %d belongs to another supplier", apperr.ErrAuthorization, id))
	}
	if req.Price != nil && req.Price.IsNegative() {
		return apperr.HTTP(fmt.Errorf("%w: price must be non-negative", apperr.ErrValidation))
	}
	if req.StockQuantity != nil && *req.StockQuantity < 0 {
		return apperr.HTTP(fmt.Errorf("%w: stock must be non-negative", apperr.ErrValidation))
	}

	if req.Name != nil {
		product.Name = *req.Name
	}
	if req.Description != nil {
		product.Description = *req.Description
	}
	if req.Price != nil {
		product.Price = *req.Price
	}
	if req.StockQuantity != nil {
		product.StockQuantity = *req.StockQuantity
	}
	if req.CategoryID != nil {
		product.CategoryID = req.CategoryID
	}

	if err := h.DB.Save(&product).Error; err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}

	h.index(c, &product)
	publish(c, h.Producer, "product_events", map[string]interface{}{
		"type":      "product_updated",
		"userID":    ident.UserID,
		"productID": product.ID,
		"name":      product.Name,
	})

	return c.JSON(http.StatusOK, product)
}

func (h *ProductHandler) DeleteProduct(c echo.Context) error {
	ident, err := authz.FromContext(c)
	if err != nil {
		return apperr.HTTP(err)
	}

	id, err := paramID(c, "id")
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}

	var product models.Product
	if err := h.DB.First(&product, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.HTTP(fmt.Errorf("%w: product %d", apperr.ErrNotFound, id))
		}
		return errorResponse(c, http.StatusInternalServerError, err)
	}
	if !ident.CanManageProduct(&product) {
		return apperr.HTTP(fmt.Errorf("%w: product %d belongs to another supplier", apperr.ErrAuthorization, id))
	}

	if err := h.DB.Delete(&product).Error; err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}

	if err := es.DeleteProduct(c.Request().Context(), h.ES, id); err != nil {
		c.Logger().Errorf("ES delete error: %v", err)
	}
	publish(c, h.Producer, "product_events", map[string]interface{}{
		"type":      "product_deleted",
		"userID":    ident.UserID,
		"productID": id,
	})

	return c.NoContent(http.StatusNoContent)
}

// CheckStock lists products at or below the low-stock threshold and pings
// each affected supplier once.
func (h *ProductHandler) CheckStock(c echo.Context) error {
	ident, err := authz.FromContext(c)
	if err != nil {
		return apperr.HTTP(err)
	}
	if !ident.IsAdmin() && !ident.IsSupplier() {
		return apperr.HTTP(fmt.Errorf("%w: only suppliers and admins check stock", apperr.ErrAuthorization))
	}

	threshold := int64(parseIntDefault(c.QueryParam("threshold"), int(h.LowStockThreshold)))

	q := h.DB.Model(&models.Product{}).Where("stock_quantity <= ?", threshold)
	if ident.IsSupplier() {
		q = q.Where("supplier_id = ?", ident.ProfileID)
	}

	var low []models.Product
	if err := q.Order("stock_quantity ASC").Find(&low).Error; err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}

	notified := map[uint]bool{}
	for _, p := range low {
		if notified[p.SupplierID] {
			continue
		}
		var supplier models.Supplier
		if err := h.DB.First(&supplier, p.SupplierID).Error; err != nil {
			continue
		}
		h.Notifier.Send(c.Request().Context(),
			"Low stock alert",
			fmt.Sprintf("Product %q is down to %d units.", p.Name, p.StockQuantity),
			[]uint{supplier.UserID},
		)
		notified[p.SupplierID] = true
	}

	return c.JSON(http.StatusOK, map[string]any{
		"threshold": threshold,
		"products":  low,
	})
}

func (h *ProductHandler) index(c echo.Context, p *models.Product) {
	if err := es.IndexProduct(c.Request().Context(), h.ES, p); err != nil {
		c.Logger().Errorf("ES index error: %v", err)
	}
}
