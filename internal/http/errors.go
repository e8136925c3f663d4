package http

import (
	"net/http"

	echo "github.com/labstack/echo/v4"
	"github.com/studiolink/smshub/internal/apperr"
)

func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindAuthentication:
		return http.StatusUnauthorized
	case apperr.KindConfiguration:
		return http.StatusUnprocessableEntity
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindExternalService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders a typed error for the UI API. Unknown errors are logged
// and hidden behind a generic message.
func writeError(c echo.Context, err error) error {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		c.Logger().Errorf("%s %s: %v", c.Request().Method, c.Path(), err)
		return c.JSON(status, map[string]string{"error": "internal error"})
	}
	return c.JSON(status, map[string]string{
		"error":   apperr.KindOf(err).String(),
		"message": err.Error(),
	})
}
