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
	"github.com/emstore/ems-backend/internal/hash"
	"github.com/emstore/ems-backend/internal/models"
	"github.com/emstore/ems-backend/internal/mykafka"
)

const accessTokenTTL = 15 * time.Minute

type AuthHandler struct {
	DB        *gorm.DB
	JWTSecret []byte
	Producer  *mykafka.Producer
}

type registerRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Password string `json:"password"`
	Role     string `json:"role"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
}

func (h *AuthHandler) Register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}

	if req.Email == "" || req.Username == "" || req.Password == "" {
		return apperr.HTTP(fmt.Errorf("%w: email, username and password are required", apperr.ErrValidation))
	}
	if req.Role == models.RoleAdmin {
		return apperr.HTTP(fmt.Errorf("%w: admin accounts must be created by system administrators", apperr.ErrAuthorization))
	}
	switch req.Role {
	case models.RoleCustomer, models.RoleSupplier, models.RoleDelivery:
	default:
		return apperr.HTTP(fmt.Errorf("%w: invalid user role %q", apperr.ErrValidation, req.Role))
	}

	passwordHash, err := hash.HashPassword(req.Password)
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}

	var existing models.User
	if err := h.DB.Where("email = ? OR username = ?", req.Email, req.Username).First(&existing).Error; err == nil {
		return apperr.HTTP(fmt.Errorf("%w: user already exists", apperr.ErrConflict))
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return errorResponse(c, http.StatusInternalServerError, err)
	}

	user := models.User{
		Email:        req.Email,
		Username:     req.Username,
		FullName:     req.FullName,
		PasswordHash: passwordHash,
		Role:         req.Role,
	}

	var profileID uint
	txErr := h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		switch req.Role {
		case models.RoleCustomer:
			p := models.Customer{UserID: user.ID, Phone: req.Phone, Address: req.Address}
			if err := tx.Create(&p).Error; err != nil {
				return err
			}
			profileID = p.ID
		case models.RoleSupplier:
			p := models.Supplier{UserID: user.ID, Phone: req.Phone, Address: req.Address}
			if err := tx.Create(&p).Error; err != nil {
				return err
			}
			profileID = p.ID
		case models.RoleDelivery:
			p := models.DeliveryPersonnel{UserID: user.ID, Phone: req.Phone, Address: req.Address}
			if err := tx.Create(&p).Error; err != nil {
				return err
			}
			profileID = p.ID
		}
		return nil
	})
	if txErr != nil {
		return errorResponse(c, http.StatusInternalServerError, txErr)
	}

	publish(c, h.Producer, "user_events", map[string]interface{}{
		"type":   "user_registered",
		"userID": user.ID,
		"role":   user.Role,
	})

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"user":       user,
		"profile_id": profileID,
	})
}

func (h *AuthHandler) Login(c echo.Context) error {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, err)
	}

	var user models.User
	if err := h.DB.Where("email = ?", req.Email).First(&user).Error; err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}
	if !hash.CheckPassword(user.PasswordHash, req.Password) {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}

	profileID, err := h.profileID(&user)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "profile not found")
	}

	ident := authz.Identity{UserID: user.ID, Role: user.Role, ProfileID: profileID}
	token, err := authz.SignAccessToken(ident, h.JWTSecret, accessTokenTTL)
	if err != nil {
		return errorResponse(c, http.StatusInternalServerError, err)
	}

	c.SetCookie(createCookie("accessToken", token, "/", time.Now().Add(accessTokenTTL)))

	return c.JSON(http.StatusOK, map[string]interface{}{
		"token":      token,
		"role":       user.Role,
		"profile_id": profileID,
	})
}

// profileID resolves the role-scoped sub-profile id for token claims. Admins
// have no profile row and get 0.
func (h *AuthHandler) profileID(user *models.User) (uint, error) {
	switch user.Role {
	case models.RoleCustomer:
		var p models.Customer
		if err := h.DB.Where("user_id = ?", user.ID).First(&p).Error; err != nil {
			return 0, err
		}
		return p.ID, nil
	case models.RoleSupplier:
		var p models.Supplier
		if err := h.DB.Where("user_id = ?", user.ID).First(&p).Error; err != nil {
			return 0, err
		}
		return p.ID, nil
	case models.RoleDelivery:
		var p models.DeliveryPersonnel
		if err := h.DB.Where("user_id = ?", user.ID).First(&p).Error; err != nil {
			return 0, err
		}
		return p.ID, nil
	}
	return 0, nil
}
