package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/emstore/ems-backend/internal/apperr"
	"github.com/emstore/ems-backend/internal/authz"
	"github.com/emstore/ems-backend/internal/models"
	"github.com/emstore/ems-backend/internal/mykafka"
	"github.com/emstore/ems-backend/internal/notify"
)

type DeliveryHandler struct {
	DB       *gorm.DB
	Producer *mykafka.Producer
	Notifier *notify.Sink
}

// Assign hands a pending delivery to a personnel. Admin only.
func (h *DeliveryHandler) Assign(c echo.Context) error {
	deliveryID, err := paramID(c, "id")
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}

	var req struct {
		PersonnelID uint `json:"personnel_id"`
	}
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}

	var delivery models.Delivery
	txErr := h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&delivery, deliveryID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: delivery %d", apperr.ErrNotFound, deliveryID)
			}
			return err
		}
		if delivery.DeliveryStatus == models.DeliveryStatusDelivered {
			return fmt.Errorf("%w: delivery %d already completed", apperr.ErrConflict, deliveryID)
		}

		var personnel models.DeliveryPersonnel
		if err := tx.First(&personnel, req.PersonnelID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: delivery personnel %d", apperr.ErrNotFound, req.PersonnelID)
			}
			return err
		}

		delivery.DeliveryPersonnelID = &personnel.ID
		delivery.DeliveryStatus = models.DeliveryStatusAssigned
		return tx.Save(&delivery).Error
	})
	if txErr != nil {
		return apperr.HTTP(txErr)
	}

	return c.JSON(http.StatusOK, delivery)
}

// MarkDelivered completes a delivery. Only the assigned personnel may call
// it; completing an already delivered record is a conflict, not a no-op.
func (h *DeliveryHandler) MarkDelivered(c echo.Context) error {
	ident, err := authz.FromContext(c)
	if err != nil {
		return apperr.HTTP(err)
	}

	deliveryID, err := paramID(c, "id")
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}

	var (
		delivery models.Delivery
		customer models.Customer
	)
	txErr := h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&delivery, deliveryID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: delivery %d", apperr.ErrNotFound, deliveryID)
			}
			return err
		}
		if !ident.CanCompleteDelivery(&delivery) {
			return fmt.Errorf("%w: delivery %d is not assigned to caller", apperr.ErrAuthorization, deliveryID)
		}
		if delivery.DeliveryStatus == models.DeliveryStatusDelivered {
			return fmt.Errorf("%w: delivery %d already completed", apperr.ErrConflict, deliveryID)
		}

		now := time.Now()
		delivery.DeliveryStatus = models.DeliveryStatusDelivered
		delivery.DeliveredDate = &now
		if err := tx.Save(&delivery).Error; err != nil {
			return err
		}

		var order models.Order
		if err := tx.First(&order, delivery.OrderID).Error; err != nil {
			return err
		}
		if err := tx.Model(&order).Update("status", models.OrderStatusDelivered).Error; err != nil {
			return err
		}

		return tx.Where("id = ?", order.CustomerID).First(&customer).Error
	})
	if txErr != nil {
		return apperr.HTTP(txErr)
	}

	h.Notifier.Send(c.Request().Context(),
		"Order delivered",
		fmt.Sprintf("Your order #%d has been delivered.", delivery.OrderID),
		[]uint{customer.UserID},
	)

	publish(c, h.Producer, "order_events", map[string]interface{}{
		"type":       "order_delivered",
		"userID":     ident.UserID,
		"orderID":    delivery.OrderID,
		"deliveryID": delivery.ID,
	})

	return c.JSON(http.StatusOK, delivery)
}

// ListDeliveries returns the caller's assignments; admins see everything.
func (h *DeliveryHandler) ListDeliveries(c echo.Context) error {
	ident, err := authz.FromContext(c)
	if err != nil {
		return apperr.HTTP(err)
	}

	q := h.DB.Model(&models.Delivery{})
	switch {
	case ident.IsAdmin():
	case ident.IsDelivery():
		q = q.Where("delivery_personnel_id = ?", ident.ProfileID)
	default:
		return apperr.HTTP(fmt.Errorf("%w: role %s cannot list deliveries", apperr.ErrAuthorization, ident.Role))
	}

	var deliveries []models.Delivery
	if err := q.Order("id ASC").Find(&deliveries).Error; err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, deliveries)
}
