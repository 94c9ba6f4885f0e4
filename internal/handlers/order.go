package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/emstore/ems-backend/internal/apperr"
	"github.com/emstore/ems-backend/internal/authz"
	"github.com/emstore/ems-backend/internal/models"
	"github.com/emstore/ems-backend/internal/mykafka"
)

// OrderHandler owns the cart/order aggregate: an order in cart status and its
// items. Item mutations and the total recomputation always run in one
// transaction so concurrent edits of the same cart never produce a total over
// a stale item set.
type OrderHandler struct {
	DB       *gorm.DB
	Producer *mykafka.Producer
}

// CreateCart opens a new order in cart state for the calling customer.
func (h *OrderHandler) CreateCart(c echo.Context) error {
	ident, err := authz.FromContext(c)
	if err != nil {
		return apperr.HTTP(err)
	}
	if !ident.IsCustomer() {
		return apperr.HTTP(fmt.Errorf("%w: only customers create carts", apperr.ErrAuthorization))
	}

	order := models.Order{
		CustomerID:    ident.ProfileID,
		Status:        models.OrderStatusCart,
		PaymentStatus: models.PaymentStatusPending,
		TotalAmount:   decimal.Zero,
	}
	if err := h.DB.Create(&order).Error; err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}

	publish(c, h.Producer, "order_events", map[string]interface{}{
		"type":    "cart_created",
		"userID":  ident.UserID,
		"orderID": order.ID,
	})

	return c.JSON(http.StatusCreated, order)
}

type itemRequest struct {
	ProductID uint  `json:"product_id"`
	Quantity  int64 `json:"quantity"`
}

// AddItem appends an order item with the product price snapshotted at call
// time and recomputes the order total.
func (h *OrderHandler) AddItem(c echo.Context) error {
	ident, err := authz.FromContext(c)
	if err != nil {
		return apperr.HTTP(err)
	}

	orderID, err := paramID(c, "id")
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}

	var req itemRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}

	var item models.OrderItem
	txErr := h.DB.Transaction(func(tx *gorm.DB) error {
		order, err := h.mutableCart(tx, ident, orderID)
		if err != nil {
			return err
		}

		if req.Quantity <= 0 {
			return fmt.Errorf("%w: quantity must be positive", apperr.ErrValidation)
		}

		var product models.Product
		if err := tx.First(&product, req.ProductID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: product %d", apperr.ErrNotFound, req.ProductID)
			}
			return err
		}
		if req.Quantity > product.StockQuantity {
			return fmt.Errorf("%w: product %d has %d left", apperr.ErrInsufficientStock, product.ID, product.StockQuantity)
		}

		item = models.OrderItem{
			OrderID:   order.ID,
			ProductID: product.ID,
			Quantity:  req.Quantity,
			Price:     product.Price,
		}
		if err := tx.Create(&item).Error; err != nil {
			return err
		}

		return h.recomputeTotal(tx, order.ID)
	})
	if txErr != nil {
		return apperr.HTTP(txErr)
	}

	publish(c, h.Producer, "order_events", map[string]interface{}{
		"type":    "order_item_added",
		"userID":  ident.UserID,
		"orderID": orderID,
		"itemID":  item.ID,
	})

	return c.JSON(http.StatusCreated, item)
}

// UpdateItem changes an item quantity. The price snapshot is never touched.
func (h *OrderHandler) UpdateItem(c echo.Context) error {
	ident, err := authz.FromContext(c)
	if err != nil {
		return apperr.HTTP(err)
	}

	orderID, err := paramID(c, "id")
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}
	itemID, err := paramID(c, "itemID")
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}

	var req struct {
		Quantity int64 `json:"quantity"`
	}
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}

	var item models.OrderItem
	txErr := h.DB.Transaction(func(tx *gorm.DB) error {
		order, err := h.mutableCart(tx, ident, orderID)
		if err != nil {
			return err
		}

		if req.Quantity <= 0 {
			return fmt.Errorf("%w: quantity must be positive", apperr.ErrValidation)
		}

		if err := tx.Where("id = ? AND order_id = ?", itemID, order.ID).First(&item).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: order item %d", apperr.ErrNotFound, itemID)
			}
			return err
		}

		var product models.Product
		if err := tx.First(&product, item.ProductID).Error; err != nil {
			return err
		}
		if req.Quantity > product.StockQuantity {
			return fmt.Errorf("%w: product %d has %d left", apperr.ErrInsufficientStock, product.ID, product.StockQuantity)
		}

		item.Quantity = req.Quantity
		if err := tx.Save(&item).Error; err != nil {
			return err
		}

		return h.recomputeTotal(tx, order.ID)
	})
	if txErr != nil {
		return apperr.HTTP(txErr)
	}

	publish(c, h.Producer, "order_events", map[string]interface{}{
		"type":    "order_item_updated",
		"userID":  ident.UserID,
		"orderID": orderID,
		"itemID":  item.ID,
	})

	return c.JSON(http.StatusOK, item)
}

func (h *OrderHandler) RemoveItem(c echo.Context) error {
	ident, err := authz.FromContext(c)
	if err != nil {
		return apperr.HTTP(err)
	}

	orderID, err := paramID(c, "id")
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}
	itemID, err := paramID(c, "itemID")
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}

	txErr := h.DB.Transaction(func(tx *gorm.DB) error {
		order, err := h.mutableCart(tx, ident, orderID)
		if err != nil {
			return err
		}

		res := tx.Where("id = ? AND order_id = ?", itemID, order.ID).Delete(&models.OrderItem{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: order item %d", apperr.ErrNotFound, itemID)
		}

		return h.recomputeTotal(tx, order.ID)
	})
	if txErr != nil {
		return apperr.HTTP(txErr)
	}

	publish(c, h.Producer, "order_events", map[string]interface{}{
		"type":    "order_item_removed",
		"userID":  ident.UserID,
		"orderID": orderID,
		"itemID":  itemID,
	})

	return c.NoContent(http.StatusNoContent)
}

func (h *OrderHandler) GetOrder(c echo.Context) error {
	ident, err := authz.FromContext(c)
	if err != nil {
		return apperr.HTTP(err)
	}

	orderID, err := paramID(c, "id")
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}

	var order models.Order
	if err := h.DB.Preload("Items").First(&order, orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.HTTP(fmt.Errorf("%w: order %d", apperr.ErrNotFound, orderID))
		}
		return errorResponse(c, http.StatusInternalServerError, err)
	}

	// Non-owners get 404, not 403: ownership scoping hides the resource.
	if !ident.CanViewOrder(&order) {
		return apperr.HTTP(fmt.Errorf("%w: order %d", apperr.ErrNotFound, orderID))
	}

	return c.JSON(http.StatusOK, order)
}

func (h *OrderHandler) ListOrders(c echo.Context) error {
	ident, err := authz.FromContext(c)
	if err != nil {
		return apperr.HTTP(err)
	}

	q := h.DB.Model(&models.Order{}).Preload("Items")
	switch {
	case ident.IsAdmin():
	case ident.IsCustomer():
		q = q.Where("customer_id = ?", ident.ProfileID)
	default:
		return apperr.HTTP(fmt.Errorf("%w: role %s cannot list orders", apperr.ErrAuthorization, ident.Role))
	}

	var orders []models.Order
	if err := q.Order("id ASC").Find(&orders).Error; err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, orders)
}

// mutableCart loads an order and enforces the invariants shared by every
// cart mutation: the order exists, the caller owns it, and it is still in
// cart status. The order row is read under a row lock so concurrent
// mutators of the same cart serialize and each recomputation sees the full
// committed item set.
func (h *OrderHandler) mutableCart(tx *gorm.DB, ident authz.Identity, orderID uint) (*models.Order, error) {
	var order models.Order
	if err := lockForUpdate(tx).First(&order, orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: order %d", apperr.ErrNotFound, orderID)
		}
		return nil, err
	}
	if !ident.CanMutateOrder(&order) {
		return nil, fmt.Errorf("%w: order %d belongs to another customer", apperr.ErrAuthorization, orderID)
	}
	if order.Status != models.OrderStatusCart {
		return nil, fmt.Errorf("%w: order %d is not a cart (status %s)", apperr.ErrConflict, orderID, order.Status)
	}
	return &order, nil
}

// recomputeTotal rewrites total_amount from the committed item set. Must run
// inside the transaction that mutated the items.
func (h *OrderHandler) recomputeTotal(tx *gorm.DB, orderID uint) error {
	var items []models.OrderItem
	if err := tx.Where("order_id = ?", orderID).Find(&items).Error; err != nil {
		return err
	}

	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Price.Mul(decimal.NewFromInt(it.Quantity)))
	}

	return tx.Model(&models.Order{}).Where("id = ?", orderID).
		Update("total_amount", total).Error
}
