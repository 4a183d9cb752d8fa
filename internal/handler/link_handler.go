package handler

import (
	"context"
	"net/http"
	"strconv"

	"walink-service/internal/service"
	"walink-service/pkg/crm"
	"walink-service/pkg/logger"
	"walink-service/prometheus"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// CodeExchanger exchanges CRM authorization codes for token pairs
type CodeExchanger interface {
	ExchangeCode(ctx context.Context, code string) (*crm.TokenResponse, error)
}

// LinkHandler serves the CRM location linking endpoints
type LinkHandler struct {
	linking *service.LinkingService
	crm     CodeExchanger
}

// NewLinkHandler creates a new LinkHandler
func NewLinkHandler(linking *service.LinkingService, crmClient CodeExchanger) *LinkHandler {
	return &LinkHandler{linking: linking, crm: crmClient}
}

// OAuthCallback completes an OAuth install: exchanges the code and
// records the link for the authenticated tenant
func (h *LinkHandler) OAuthCallback(c echo.Context) error {
	log := logger.FromEcho(c)
	prometheus.ClaimCounter.WithLabelValues("oauth").Inc()

	claims, ok := tenantClaims(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	var req struct {
		Code string `json:"code"`
	}
	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse OAuth callback request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	if req.Code == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "code is required"})
	}

	tokens, err := h.crm.ExchangeCode(c.Request().Context(), req.Code)
	if err != nil {
		log.Error("OAuth code exchange failed", zap.Error(err))
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "gateway_unavailable", "message": "code exchange failed"})
	}

	if tokens.LocationID == "" {
		log.Error("CRM token response carries no location id")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "no location in grant"})
	}

	link, err := h.linking.CompleteOAuthLink(c.Request().Context(), claims.TenantID,
		tokens.CompanyID, tokens.LocationID, service.TokenPair{
			AccessToken:  tokens.AccessToken,
			RefreshToken: tokens.RefreshToken,
			ExpiresAt:    tokens.ExpiresAt(),
		})
	if err != nil {
		log.Warn("OAuth link failed",
			zap.Uint("tenant_id", claims.TenantID),
			zap.String("location_id", tokens.LocationID),
			zap.Error(err))
		return errorResponse(c, err)
	}

	log.Info("Location linked via OAuth",
		zap.Uint("tenant_id", claims.TenantID),
		zap.String("location_id", link.ExternalLocationID))

	return c.JSON(http.StatusCreated, link)
}

// Claim links a location discovered out-of-band, reusing stored tokens
func (h *LinkHandler) Claim(c echo.Context) error {
	log := logger.FromEcho(c)
	prometheus.ClaimCounter.WithLabelValues("manual").Inc()

	claims, ok := tenantClaims(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	var req struct {
		LocationID string `json:"location_id"`
	}
	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse claim request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	if req.LocationID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "location_id is required"})
	}

	link, err := h.linking.ClaimLocation(c.Request().Context(), claims.TenantID, req.LocationID)
	if err != nil {
		log.Warn("Location claim failed",
			zap.Uint("tenant_id", claims.TenantID),
			zap.String("location_id", req.LocationID),
			zap.Error(err))
		return errorResponse(c, err)
	}

	log.Info("Location claimed",
		zap.Uint("tenant_id", claims.TenantID),
		zap.String("location_id", link.ExternalLocationID))

	return c.JSON(http.StatusOK, link)
}

// List returns the tenant's links
func (h *LinkHandler) List(c echo.Context) error {
	claims, ok := tenantClaims(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	links, err := h.linking.ListLinks(c.Request().Context(), claims.TenantID)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, links)
}

// RefreshTokens refreshes the token pair on a link
func (h *LinkHandler) RefreshTokens(c echo.Context) error {
	log := logger.FromEcho(c)

	claims, ok := tenantClaims(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	linkID, err := parseUintParam(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid link ID"})
	}

	link, err := h.linking.RefreshTokens(c.Request().Context(), claims.TenantID, linkID)
	if err != nil {
		log.Warn("Token refresh failed",
			zap.Uint("link_id", linkID),
			zap.Error(err))
		return errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, link)
}

// Revoke soft-revokes a link on uninstall
func (h *LinkHandler) Revoke(c echo.Context) error {
	log := logger.FromEcho(c)

	claims, ok := tenantClaims(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	linkID, err := parseUintParam(c, "id")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid link ID"})
	}

	if err := h.linking.RevokeLink(c.Request().Context(), claims.TenantID, linkID); err != nil {
		log.Warn("Link revoke failed",
			zap.Uint("link_id", linkID),
			zap.Error(err))
		return errorResponse(c, err)
	}

	log.Info("Link revoked",
		zap.Uint("tenant_id", claims.TenantID),
		zap.Uint("link_id", linkID))

	return c.JSON(http.StatusOK, echo.Map{"message": "link revoked"})
}

func parseUintParam(c echo.Context, name string) (uint, error) {
	value, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint(value), nil
}
