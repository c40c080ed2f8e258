package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dealerdesk/marketplace/internal/ledger"
	"github.com/dealerdesk/marketplace/internal/logging"
	"github.com/dealerdesk/marketplace/internal/validation"
)

// Handler provides HTTP endpoints for dealer registration, key
// management, and admin login.
type Handler struct {
	manager         *Manager
	admin           *AdminAuth
	engine          *ledger.Engine
	onboardingBonus int64
}

// NewHandler creates a new auth handler. engine and onboardingBonus
// drive the signup credit grant.
func NewHandler(m *Manager, admin *AdminAuth, engine *ledger.Engine, onboardingBonus int64) *Handler {
	return &Handler{
		manager:         m,
		admin:           admin,
		engine:          engine,
		onboardingBonus: onboardingBonus,
	}
}

// RegisterPublicRoutes sets up registration and admin login routes.
func (h *Handler) RegisterPublicRoutes(r *gin.RouterGroup) {
	r.POST("/dealers", h.RegisterDealer)
	r.POST("/auth/admin/login", h.AdminLogin)
}

// RegisterDealerRoutes sets up routes that require dealer authentication.
func (h *Handler) RegisterDealerRoutes(r *gin.RouterGroup) {
	r.GET("/dealers/me", h.GetProfile)
	r.GET("/dealers/me/keys", h.ListKeys)
	r.POST("/dealers/me/keys", h.CreateKey)
	r.DELETE("/dealers/me/keys/:id", h.RevokeKey)
}

// RegisterAdminRoutes sets up admin session routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/logout", h.AdminLogout)
}

type registerRequest struct {
	BusinessName string `json:"businessName" binding:"required"`
	Phone        string `json:"phone" binding:"required"`
	Email        string `json:"email"`
	City         string `json:"city"`
}

// RegisterDealer handles POST /api/dealers
//
// Creates the account, issues the first API key, and grants the
// onboarding credit bonus. The raw key appears only in this response.
func (h *Handler) RegisterDealer(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "businessName and phone are required",
		})
		return
	}
	if !validation.ValidPhone(req.Phone) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_phone",
			"message": "phone must be a valid mobile number",
		})
		return
	}

	dealer := &Dealer{
		BusinessName: validation.Sanitize(req.BusinessName),
		Phone:        strings.TrimSpace(req.Phone),
		Email:        strings.TrimSpace(req.Email),
		City:         validation.Sanitize(req.City),
	}

	rawKey, key, err := h.manager.RegisterDealer(c.Request.Context(), dealer)
	if err != nil {
		if errors.Is(err, ErrDealerExists) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "already_registered",
				"message": "a dealer with this phone already exists",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "registration failed",
		})
		return
	}

	balance := int64(0)
	if h.onboardingBonus > 0 {
		res, err := h.engine.CreditWithReason(c.Request.Context(), dealer.ID,
			h.onboardingBonus, ledger.ReasonOnboardingBonus, "onboarding:"+dealer.ID)
		if err != nil {
			// Account exists; the bonus can be granted manually later.
			logging.L(c.Request.Context()).Error("onboarding bonus grant failed",
				"dealer_id", dealer.ID, "error", err)
		} else {
			balance = res.Balance
		}
	}

	c.JSON(http.StatusCreated, gin.H{
		"dealer":  dealer,
		"apiKey":  rawKey,
		"keyId":   key.ID,
		"balance": balance,
		"note":    "store the API key securely, it is not shown again",
	})
}

// GetProfile handles GET /api/dealers/me
func (h *Handler) GetProfile(c *gin.Context) {
	dealerID := GetDealerID(c)

	dealer, err := h.manager.GetDealer(c.Request.Context(), dealerID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "dealer not found",
		})
		return
	}

	balance, err := h.engine.Balance(c.Request.Context(), dealerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "failed to read balance",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"dealer":  dealer,
		"balance": balance,
	})
}

// ListKeys handles GET /api/dealers/me/keys
func (h *Handler) ListKeys(c *gin.Context) {
	dealerID := GetDealerID(c)

	keys, err := h.manager.ListKeys(c.Request.Context(), dealerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "failed to list keys",
		})
		return
	}

	// Don't expose hashes
	safeKeys := make([]gin.H, len(keys))
	for i, k := range keys {
		safeKeys[i] = gin.H{
			"id":        k.ID,
			"name":      k.Name,
			"createdAt": k.CreatedAt,
			"lastUsed":  k.LastUsed,
			"revoked":   k.Revoked,
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"keys":  safeKeys,
		"count": len(safeKeys),
	})
}

type createKeyRequest struct {
	Name string `json:"name"`
}

// CreateKey handles POST /api/dealers/me/keys
func (h *Handler) CreateKey(c *gin.Context) {
	dealerID := GetDealerID(c)

	var req createKeyRequest
	_ = c.ShouldBindJSON(&req)
	if req.Name == "" {
		req.Name = "unnamed"
	}

	rawKey, key, err := h.manager.GenerateKey(c.Request.Context(), dealerID, validation.Sanitize(req.Name))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "failed to create key",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"apiKey": rawKey,
		"keyId":  key.ID,
		"name":   key.Name,
	})
}

// RevokeKey handles DELETE /api/dealers/me/keys/:id
func (h *Handler) RevokeKey(c *gin.Context) {
	dealerID := GetDealerID(c)

	if err := h.manager.RevokeKey(c.Request.Context(), c.Param("id"), dealerID); err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "key not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "failed to revoke key",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"revoked": c.Param("id")})
}

type adminLoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// AdminLogin handles POST /api/admin/login
func (h *Handler) AdminLogin(c *gin.Context) {
	var req adminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "email and password are required",
		})
		return
	}

	token, err := h.admin.Login(req.Email, req.Password, c.ClientIP())
	if err != nil {
		switch {
		case errors.Is(err, ErrTooManyAttempts):
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "too_many_attempts",
				"message": err.Error(),
			})
		case errors.Is(err, ErrInvalidCredentials):
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "invalid_credentials",
				"message": err.Error(),
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "login failed",
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}

// AdminLogout handles POST /api/admin/logout
func (h *Handler) AdminLogout(c *gin.Context) {
	token := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
	h.admin.Logout(token)
	c.JSON(http.StatusOK, gin.H{"loggedOut": true})
}
