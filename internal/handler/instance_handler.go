package handler

import (
	"net/http"

	"walink-service/internal/service"
	"walink-service/pkg/logger"
	"walink-service/prometheus"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// InstanceHandler serves the messaging instance endpoints
type InstanceHandler struct {
	instances *service.InstanceService
}

// NewInstanceHandler creates a new InstanceHandler
func NewInstanceHandler(instances *service.InstanceService) *InstanceHandler {
	return &InstanceHandler{instances: instances}
}

// Create provisions a new messaging instance for a link
func (h *InstanceHandler) Create(c echo.Context) error {
	log := logger.FromEcho(c)
	prometheus.InstanceOperationCounter.WithLabelValues("create").Inc()

	claims, ok := tenantClaims(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	var req struct {
		LinkID uint   `json:"link_id"`
		Name   string `json:"name"`
	}
	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse instance create request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	if req.Name == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name is required"})
	}

	instance, err := h.instances.CreateInstance(c.Request().Context(), claims.TenantID, req.LinkID, req.Name)
	if err != nil {
		log.Warn("Instance create failed",
			zap.Uint("tenant_id", claims.TenantID),
			zap.String("name", req.Name),
			zap.Error(err))
		return errorResponse(c, err)
	}

	log.Info("Instance created",
		zap.Uint("tenant_id", claims.TenantID),
		zap.Uint("instance_id", instance.ID),
		zap.String("name", instance.Name))

	return c.JSON(http.StatusCreated, instance)
}

// Get returns a single instance
func (h *InstanceHandler) Get(c echo.Context) error {
	claims, ok := tenantClaims(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	instanceID, err := parseUintParam(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid instance ID"})
	}

	instance, err := h.instances.GetInstance(c.Request().Context(), claims.TenantID, instanceID)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, instance)
}

// List returns all of the tenant's instances
func (h *InstanceHandler) List(c echo.Context) error {
	claims, ok := tenantClaims(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	instances, err := h.instances.ListInstances(c.Request().Context(), claims.TenantID)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, instances)
}

// Connect requests a QR/pairing code and moves the instance to connecting
func (h *InstanceHandler) Connect(c echo.Context) error {
	log := logger.FromEcho(c)
	prometheus.InstanceOperationCounter.WithLabelValues("connect").Inc()

	claims, ok := tenantClaims(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	instanceID, err := parseUintParam(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid instance ID"})
	}

	qr, instance, err := h.instances.RequestConnection(c.Request().Context(), claims.TenantID, instanceID)
	if err != nil {
		log.Warn("Connection request failed",
			zap.Uint("instance_id", instanceID),
			zap.Error(err))
		return errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"instance": instance,
		"qr_code":  qr,
	})
}

// Refresh reconciles the instance against the gateway on demand
func (h *InstanceHandler) Refresh(c echo.Context) error {
	log := logger.FromEcho(c)
	prometheus.InstanceOperationCounter.WithLabelValues("refresh").Inc()

	claims, ok := tenantClaims(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	instanceID, err := parseUintParam(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid instance ID"})
	}

	instance, err := h.instances.RefreshInstance(c.Request().Context(), claims.TenantID, instanceID)
	if err != nil {
		log.Warn("Instance refresh failed",
			zap.Uint("instance_id", instanceID),
			zap.Error(err))
		return errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, instance)
}

// Disconnect logs the instance out at the gateway
func (h *InstanceHandler) Disconnect(c echo.Context) error {
	log := logger.FromEcho(c)
	prometheus.InstanceOperationCounter.WithLabelValues("disconnect").Inc()

	claims, ok := tenantClaims(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	instanceID, err := parseUintParam(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid instance ID"})
	}

	instance, err := h.instances.Disconnect(c.Request().Context(), claims.TenantID, instanceID)
	if err != nil {
		log.Warn("Disconnect failed",
			zap.Uint("instance_id", instanceID),
			zap.Error(err))
		return errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, instance)
}

// Delete removes the instance from the gateway and locally
func (h *InstanceHandler) Delete(c echo.Context) error {
	log := logger.FromEcho(c)
	prometheus.InstanceOperationCounter.WithLabelValues("delete").Inc()

	claims, ok := tenantClaims(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	instanceID, err := parseUintParam(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid instance ID"})
	}

	if err := h.instances.Delete(c.Request().Context(), claims.TenantID, instanceID); err != nil {
		log.Warn("Instance delete failed",
			zap.Uint("instance_id", instanceID),
			zap.Error(err))
		return errorResponse(c, err)
	}

	log.Info("Instance deleted",
		zap.Uint("tenant_id", claims.TenantID),
		zap.Uint("instance_id", instanceID))

	return c.JSON(http.StatusOK, echo.Map{"message": "instance deleted"})
}
