package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/emstore/ems-backend/internal/apperr"
	"github.com/emstore/ems-backend/internal/authz"
	"github.com/emstore/ems-backend/internal/models"
	"github.com/emstore/ems-backend/internal/mykafka"
	"github.com/emstore/ems-backend/internal/notify"
)

// PaymentHandler settles orders. There is no real gateway behind it: a
// created payment is synthesized as completed, which is when stock is
// committed and the delivery record appears.
type PaymentHandler struct {
	DB       *gorm.DB
	Producer *mykafka.Producer
	Notifier *notify.Sink
}

type createPaymentRequest struct {
	OrderID uint   `json:"order_id"`
	Gateway string `json:"gateway"`
}

// CreatePayment runs the whole settlement as one transaction: payment row,
// stock commitment for every item, order transition to placed/paid, delivery
// creation. Any stock shortfall rolls the whole thing back and leaves the
// order in checkout_pending.
func (h *PaymentHandler) CreatePayment(c echo.Context) error {
	ident, err := authz.FromContext(c)
	if err != nil {
		return apperr.HTTP(err)
	}

	var req createPaymentRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}

	var (
		payment  models.Payment
		customer models.Customer
	)
	txErr := h.DB.Transaction(func(tx *gorm.DB) error {
		var order models.Order
		if err := tx.First(&order, req.OrderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: order %d", apperr.ErrNotFound, req.OrderID)
			}
			return err
		}
		if !ident.CanMutateOrder(&order) {
			return fmt.Errorf("%w: order %d belongs to another customer", apperr.ErrAuthorization, order.ID)
		}
		if order.Status != models.OrderStatusCheckoutPending {
			return fmt.Errorf("%w: order %d is not awaiting payment (status %s)", apperr.ErrConflict, order.ID, order.Status)
		}
		if !order.TotalAmount.IsPositive() {
			return fmt.Errorf("%w: order total must be positive", apperr.ErrValidation)
		}

		var existing models.Payment
		err := tx.Where("order_id = ?", order.ID).First(&existing).Error
		if err == nil {
			return fmt.Errorf("%w: order %d already paid", apperr.ErrConflict, order.ID)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		payment = models.Payment{
			ID:         uuid.NewString(),
			OrderID:    order.ID,
			CustomerID: order.CustomerID,
			Status:     models.PaymentCompleted,
			Amount:     order.TotalAmount,
			Gateway:    req.Gateway,
		}
		// Unique index on order_id is the backstop for two concurrent
		// creates racing past the read above.
		if err := tx.Create(&payment).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: order %d already paid", apperr.ErrConflict, order.ID)
			}
			return err
		}

		var items []models.OrderItem
		if err := tx.Where("order_id = ?", order.ID).Find(&items).Error; err != nil {
			return err
		}

		// Authoritative stock commitment: guarded decrements keep
		// stock_quantity >= 0 without row locks. Any failure aborts the
		// transaction, so no partial decrement survives.
		for _, it := range items {
			res := tx.Model(&models.Product{}).
				Where("id = ? AND stock_quantity >= ?", it.ProductID, it.Quantity).
				UpdateColumn("stock_quantity", gorm.Expr("stock_quantity - ?", it.Quantity))
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("%w: product %d sold out", apperr.ErrInsufficientStock, it.ProductID)
			}
		}

		if err := tx.Model(&order).Updates(map[string]interface{}{
			"status":         models.OrderStatusPlaced,
			"payment_status": models.PaymentStatusPaid,
		}).Error; err != nil {
			return err
		}

		if err := tx.Where("id = ?", order.CustomerID).First(&customer).Error; err != nil {
			return err
		}
		delivery := models.Delivery{
			OrderID:         order.ID,
			DeliveryStatus:  models.DeliveryStatusPending,
			DeliveryAddress: customer.Address,
		}
		return tx.Create(&delivery).Error
	})
	if txErr != nil {
		return apperr.HTTP(txErr)
	}

	h.Notifier.Send(c.Request().Context(),
		"Order confirmed",
		fmt.Sprintf("Your order #%d has been paid and is being prepared for delivery.", payment.OrderID),
		[]uint{customer.UserID},
	)

	publish(c, h.Producer, "order_events", map[string]interface{}{
		"type":      "order_paid",
		"userID":    ident.UserID,
		"orderID":   payment.OrderID,
		"paymentID": payment.ID,
	})

	return c.JSON(http.StatusCreated, payment)
}

type updatePaymentRequest struct {
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
}

// UpdatePayment is the admin correction path. It syncs the order's
// payment_status with the new payment status but deliberately does not
// re-run stock commitment or delivery creation.
func (h *PaymentHandler) UpdatePayment(c echo.Context) error {
	paymentID := c.Param("id")
	if paymentID == "" {
		return errorResponse(c, http.StatusBadRequest, fmt.Errorf("invalid id"))
	}

	var req updatePaymentRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}
	switch req.Status {
	case models.PaymentCompleted, models.PaymentFailed, models.PaymentPending:
	default:
		return apperr.HTTP(fmt.Errorf("%w: invalid payment status %q", apperr.ErrValidation, req.Status))
	}

	var payment models.Payment
	txErr := h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", paymentID).First(&payment).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: payment %s", apperr.ErrNotFound, paymentID)
			}
			return err
		}

		payment.Status = req.Status
		if req.TransactionID != "" {
			payment.TransactionID = req.TransactionID
		}
		if err := tx.Save(&payment).Error; err != nil {
			return err
		}

		orderPaymentStatus := ""
		switch req.Status {
		case models.PaymentCompleted:
			orderPaymentStatus = models.PaymentStatusPaid
		case models.PaymentFailed:
			orderPaymentStatus = models.PaymentStatusFailed
		}
		if orderPaymentStatus == "" {
			return nil
		}
		return tx.Model(&models.Order{}).Where("id = ?", payment.OrderID).
			Update("payment_status", orderPaymentStatus).Error
	})
	if txErr != nil {
		return apperr.HTTP(txErr)
	}

	return c.JSON(http.StatusOK, payment)
}

func (h *PaymentHandler) GetPayment(c echo.Context) error {
	ident, err := authz.FromContext(c)
	if err != nil {
		return apperr.HTTP(err)
	}

	paymentID := c.Param("id")
	var payment models.Payment
	if err := h.DB.Where("id = ?", paymentID).First(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.HTTP(fmt.Errorf("%w: payment %s", apperr.ErrNotFound, paymentID))
		}
		return errorResponse(c, http.StatusInternalServerError, err)
	}

	if !ident.IsAdmin() && !(ident.IsCustomer() && payment.CustomerID == ident.ProfileID) {
		return apperr.HTTP(fmt.Errorf("%w: payment %s", apperr.ErrNotFound, paymentID))
	}

	return c.JSON(http.StatusOK, payment)
}
