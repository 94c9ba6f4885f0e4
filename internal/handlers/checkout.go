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
)

// Bill is the read-only snapshot of an order returned by checkout.
type Bill struct {
	OrderID     uint               `json:"order_id"`
	Status      string             `json:"status"`
	Items       []models.OrderItem `json:"items"`
	TotalAmount decimal.Decimal    `json:"total_amount"`
}

// Checkout freezes a cart for payment. The per-item stock check here is
// advisory only: stock is neither reserved nor decremented until payment, so
// a concurrent order can still win the remaining stock. Payment re-validates
// authoritatively.
func (h *OrderHandler) Checkout(c echo.Context) error {
	ident, err := authz.FromContext(c)
	if err != nil {
		return apperr.HTTP(err)
	}

	orderID, err := paramID(c, "id")
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}

	var bill Bill
	txErr := h.DB.Transaction(func(tx *gorm.DB) error {
		// Same row lock as the cart mutations: an AddItem racing this
		// checkout either lands before the Bill snapshot or fails the
		// cart-status check after the status flip commits.
		var order models.Order
		if err := lockForUpdate(tx).First(&order, orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: order %d", apperr.ErrNotFound, orderID)
			}
			return err
		}
		if !ident.CanMutateOrder(&order) {
			return fmt.Errorf("%w: order %d belongs to another customer", apperr.ErrAuthorization, orderID)
		}
		if order.Status != models.OrderStatusCart {
			return fmt.Errorf("%w: order %d already checked out (status %s)", apperr.ErrConflict, orderID, order.Status)
		}
		if !order.TotalAmount.IsPositive() {
			return fmt.Errorf("%w: cart is empty", apperr.ErrValidation)
		}

		var items []models.OrderItem
		if err := tx.Where("order_id = ?", order.ID).Find(&items).Error; err != nil {
			return err
		}
		for _, it := range items {
			var product models.Product
			if err := tx.First(&product, it.ProductID).Error; err != nil {
				return err
			}
			if it.Quantity > product.StockQuantity {
				return fmt.Errorf("%w: product %d has %d left", apperr.ErrInsufficientStock, product.ID, product.StockQuantity)
			}
		}

		if err := tx.Model(&order).Update("status", models.OrderStatusCheckoutPending).Error; err != nil {
			return err
		}

		bill = Bill{
			OrderID:     order.ID,
			Status:      models.OrderStatusCheckoutPending,
			Items:       items,
			TotalAmount: order.TotalAmount,
		}
		return nil
	})
	if txErr != nil {
		return apperr.HTTP(txErr)
	}

	publish(c, h.Producer, "order_events", map[string]interface{}{
		"type":    "order_checked_out",
		"userID":  ident.UserID,
		"orderID": orderID,
	})

	return c.JSON(http.StatusOK, bill)
}
