package authz

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/emstore/ems-backend/internal/apperr"
	"github.com/emstore/ems-backend/internal/models"
)

const identityKey = "identity"

// Identity is the caller context resolved from the access token: the user,
// its role, and the id of the role-scoped profile row (customer id, supplier
// id or delivery personnel id).
type Identity struct {
	UserID    uint
	Role      string
	ProfileID uint
}

func (id Identity) IsAdmin() bool    { return id.Role == models.RoleAdmin }
func (id Identity) IsCustomer() bool { return id.Role == models.RoleCustomer }
func (id Identity) IsSupplier() bool { return id.Role == models.RoleSupplier }
func (id Identity) IsDelivery() bool { return id.Role == models.RoleDelivery }

// CanMutateOrder reports whether the caller owns the cart. Admins read
// everything but never mutate customer carts.
func (id Identity) CanMutateOrder(o *models.Order) bool {
	return id.IsCustomer() && o.CustomerID == id.ProfileID
}

func (id Identity) CanViewOrder(o *models.Order) bool {
	return id.IsAdmin() || (id.IsCustomer() && o.CustomerID == id.ProfileID)
}

func (id Identity) CanManageProduct(p *models.Product) bool {
	return id.IsAdmin() || (id.IsSupplier() && p.SupplierID == id.ProfileID)
}

// CanCompleteDelivery is the one mutation capability tied to a non-customer
// role: only the assigned personnel may complete a delivery.
func (id Identity) CanCompleteDelivery(d *models.Delivery) bool {
	return id.IsDelivery() && d.DeliveryPersonnelID != nil && *d.DeliveryPersonnelID == id.ProfileID
}

func SignAccessToken(id Identity, secret []byte, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub":  id.UserID,
		"role": id.Role,
		"pid":  id.ProfileID,
		"exp":  time.Now().Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func parseToken(tokenString string, secret []byte) (Identity, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, fmt.Errorf("invalid token claims")
	}
	sub, ok := claims["sub"].(float64)
	if !ok {
		return Identity{}, fmt.Errorf("invalid subject claim")
	}
	role, ok := claims["role"].(string)
	if !ok {
		return Identity{}, fmt.Errorf("invalid role claim")
	}
	pid, _ := claims["pid"].(float64)

	return Identity{UserID: uint(sub), Role: role, ProfileID: uint(pid)}, nil
}

// Middleware resolves the accessToken cookie into an Identity on the echo
// context. Requests without a valid token are rejected here, so handlers
// behind it can assume FromContext succeeds.
func Middleware(secret []byte) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cookie, err := c.Cookie("accessToken")
			if err != nil || cookie.Value == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing auth cookie")
			}
			ident, err := parseToken(cookie.Value, secret)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
			}
			c.Set(identityKey, ident)
			return next(c)
		}
	}
}

func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ident, err := FromContext(c)
			if err != nil {
				return apperr.HTTP(err)
			}
			for _, r := range roles {
				if ident.Role == r {
					return next(c)
				}
			}
			return apperr.HTTP(fmt.Errorf("%w: role %s not allowed", apperr.ErrAuthorization, ident.Role))
		}
	}
}

func FromContext(c echo.Context) (Identity, error) {
	ident, ok := c.Get(identityKey).(Identity)
	if !ok {
		return Identity{}, fmt.Errorf("%w: no identity in context", apperr.ErrAuthorization)
	}
	return ident, nil
}

// SetIdentity is used by tests to run handlers without the full login flow.
func SetIdentity(c echo.Context, ident Identity) {
	c.Set(identityKey, ident)
}
