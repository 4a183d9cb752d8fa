package handler

import (
	"net/http"

	"walink-service/internal/model"
	"walink-service/pkg/database"
	"walink-service/pkg/jwtutil"
	"walink-service/pkg/logger"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// AuthHandler serves tenant signup and login
type AuthHandler struct {
	jwt *jwtutil.JWTUtil
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(jwt *jwtutil.JWTUtil) *AuthHandler {
	return &AuthHandler{jwt: jwt}
}

// Register creates a new tenant with its first user
func (h *AuthHandler) Register(c echo.Context) error {
	log := logger.FromEcho(c)

	var req struct {
		CompanyName string `json:"company_name"`
		Email       string `json:"email"`
		Password    string `json:"password"`
	}

	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse registration request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	if req.CompanyName == "" || req.Email == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "company_name, email and password are required"})
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		log.Error("Failed to hash password", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "registration failed"})
	}

	tenant := model.Tenant{
		Name:   req.CompanyName,
		Email:  req.Email,
		Active: true,
	}

	// Tenant and first user are created together
	err = database.GetDB().Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&tenant).Error; err != nil {
			return err
		}
		user := model.User{
			Email:    req.Email,
			Password: string(hashed),
			TenantID: tenant.ID,
		}
		return tx.Create(&user).Error
	})
	if err != nil {
		log.Error("Failed to create tenant", zap.Error(err))
		return c.JSON(http.StatusConflict, echo.Map{"error": "registration failed, email may already be in use"})
	}

	log.Info("Tenant registered",
		zap.Uint("tenant_id", tenant.ID),
		zap.String("email", tenant.Email))

	return c.JSON(http.StatusCreated, echo.Map{
		"message": "registration successful",
		"tenant":  tenant,
	})
}

// Login authenticates a user and returns a tenant-scoped token
func (h *AuthHandler) Login(c echo.Context) error {
	log := logger.FromEcho(c)

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse login request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	var user model.User
	if result := database.GetDB().Where("email = ?", req.Email).First(&user); result.Error != nil {
		log.Error("User not found", zap.String("email", req.Email))
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		log.Error("Invalid password", zap.String("email", req.Email))
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}

	var tenant model.Tenant
	if result := database.GetDB().First(&tenant, user.TenantID); result.Error != nil {
		log.Error("Tenant not found for user",
			zap.Uint("user_id", user.ID),
			zap.Uint("tenant_id", user.TenantID))
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}

	if !tenant.Active {
		log.Warn("Login attempt for deactivated tenant",
			zap.Uint("tenant_id", tenant.ID))
		return c.JSON(http.StatusForbidden, echo.Map{"error": "tenant is deactivated"})
	}

	token, err := h.jwt.GenerateToken(user.Email, user.ID, tenant.ID, tenant.Name)
	if err != nil {
		log.Error("Failed to generate token", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "token error"})
	}

	log.Info("User logged in",
		zap.String("email", user.Email),
		zap.Uint("tenant_id", tenant.ID))

	return c.JSON(http.StatusOK, echo.Map{
		"token": token,
		"user": echo.Map{
			"id":    user.ID,
			"email": user.Email,
		},
		"tenant": echo.Map{
			"id":   tenant.ID,
			"name": tenant.Name,
		},
	})
}
