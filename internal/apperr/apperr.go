package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Sentinel kinds for business-rule violations. Callers wrap them with
// fmt.Errorf("%w: detail") and handlers map them to HTTP codes with HTTP().
var (
	ErrAuthorization = errors.New("authorization")
	ErrValidation    = errors.New("validation")
	ErrConflict      = errors.New("conflict")
	ErrNotFound      = errors.New("not found")

	// ErrInsufficientStock is a specialization of ErrValidation.
	ErrInsufficientStock = fmt.Errorf("%w: insufficient stock", ErrValidation)
)

func HTTP(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, ErrAuthorization):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
