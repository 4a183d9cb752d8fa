package handler

import (
	"errors"
	"net/http"

	"walink-service/internal/apperr"
	"walink-service/pkg/jwtutil"
	"walink-service/prometheus"

	"github.com/labstack/echo/v4"
)

// errorResponse maps a typed operation error onto an HTTP response.
// Conflict and DuplicateName are actionable by the user,
// GatewayUnavailable suggests a retry, NotFound signals stale UI state.
func errorResponse(c echo.Context, err error) error {
	switch {
	case errors.Is(err, apperr.ErrConflict):
		prometheus.RecordOperationError("conflict")
		prometheus.ClaimConflictCounter.Inc()
		return c.JSON(http.StatusConflict, echo.Map{"error": "conflict", "message": err.Error()})
	case errors.Is(err, apperr.ErrDuplicateName):
		prometheus.RecordOperationError("duplicate_name")
		return c.JSON(http.StatusConflict, echo.Map{"error": "duplicate_name", "message": err.Error()})
	case errors.Is(err, apperr.ErrInvalidState):
		prometheus.RecordOperationError("invalid_state")
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": "invalid_state", "message": err.Error()})
	case errors.Is(err, apperr.ErrMissingCredentials):
		prometheus.RecordOperationError("missing_credentials")
		return c.JSON(http.StatusPreconditionFailed, echo.Map{"error": "missing_credentials", "message": err.Error()})
	case errors.Is(err, apperr.ErrGatewayUnavailable):
		prometheus.RecordOperationError("gateway_unavailable")
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "gateway_unavailable", "message": err.Error()})
	case errors.Is(err, apperr.ErrNotFound):
		prometheus.RecordOperationError("not_found")
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not_found", "message": err.Error()})
	}
	prometheus.RecordOperationError("internal")
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal", "message": "internal server error"})
}

// tenantClaims extracts the authenticated user's claims from the
// context (set by the JWT auth middleware)
func tenantClaims(c echo.Context) (*jwtutil.UserClaims, bool) {
	claims, ok := c.Get("user").(*jwtutil.UserClaims)
	return claims, ok
}
