package leads

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dealerdesk/marketplace/internal/ledger"
	"github.com/dealerdesk/marketplace/internal/validation"
)

// Handler provides HTTP endpoints for inquiries and unlocks.
type Handler struct {
	service *Service
}

// NewHandler creates a new leads handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterPublicRoutes sets up the buyer-facing inquiry route.
func (h *Handler) RegisterPublicRoutes(r *gin.RouterGroup) {
	r.POST("/leads", h.CreateInquiry)
}

// RegisterDealerRoutes sets up routes that require dealer authentication.
func (h *Handler) RegisterDealerRoutes(r *gin.RouterGroup) {
	r.GET("/leads", h.ListLeads)
	r.GET("/leads/:id", h.GetLead)
	r.POST("/leads/unlock", h.UnlockLead)
	r.GET("/leads/check-unlock", h.CheckUnlock)
	r.GET("/dealers/me/unlocks", h.ListUnlocks)
}

type inquiryRequest struct {
	ListingID string `json:"listingId" binding:"required"`
	Name      string `json:"name" binding:"required"`
	Phone     string `json:"phone" binding:"required"`
	Email     string `json:"email"`
	Message   string `json:"message"`
	City      string `json:"city"`
}

// CreateInquiry handles POST /api/leads
func (h *Handler) CreateInquiry(c *gin.Context) {
	var req inquiryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "listingId, name and phone are required",
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

	lead, err := h.service.CreateInquiry(c.Request.Context(), &Lead{
		ListingID:  req.ListingID,
		BuyerName:  validation.Sanitize(req.Name),
		BuyerPhone: req.Phone,
		BuyerEmail: req.Email,
		Message:    validation.Sanitize(req.Message),
		City:       validation.Sanitize(req.City),
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateInquiry) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "duplicate_inquiry",
				"message": "an inquiry for this listing was already submitted from this phone",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "failed to capture inquiry",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":        lead.ID,
		"status":    lead.Status,
		"createdAt": lead.CreatedAt,
	})
}

// ListLeads handles GET /api/leads
func (h *Handler) ListLeads(c *gin.Context) {
	page := 1
	if p := c.Query("page"); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil && parsed > 0 {
			page = parsed
		}
	}
	limit := 20
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	leads, total, err := h.service.List(c.Request.Context(), limit, (page-1)*limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "failed to list leads",
		})
		return
	}

	totalPages := (total + limit - 1) / limit
	c.JSON(http.StatusOK, gin.H{
		"leads": leads,
		"metadata": gin.H{
			"total":      total,
			"page":       page,
			"totalPages": totalPages,
		},
	})
}

// GetLead handles GET /api/leads/:id
func (h *Handler) GetLead(c *gin.Context) {
	dealerID := c.GetString("dealerID")

	lead, err := h.service.Get(c.Request.Context(), dealerID, c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrLeadNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "lead not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "failed to load lead",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"lead": lead})
}

// UnlockLead handles POST /api/leads/unlock?leadId=...
func (h *Handler) UnlockLead(c *gin.Context) {
	dealerID := c.GetString("dealerID")

	leadID := c.Query("leadId")
	if leadID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "leadId query parameter is required",
		})
		return
	}

	result, err := h.service.Unlock(c.Request.Context(), dealerID, leadID)
	if err != nil {
		switch {
		case errors.Is(err, ErrLeadNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "lead not found",
			})
		case errors.Is(err, ledger.ErrInsufficientCredits):
			c.JSON(http.StatusPaymentRequired, gin.H{
				"error":   "insufficient_credits",
				"message": "not enough credits to unlock this lead",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "failed to unlock lead",
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"lead": result.Lead,
		"contact_info": gin.H{
			"name":  result.Lead.BuyerName,
			"phone": result.Lead.BuyerPhone,
			"email": result.Lead.BuyerEmail,
		},
		"remaining_credits": result.CreditsRemaining,
		"costCredits":       result.CostCredits,
		"alreadyUnlocked":   result.AlreadyUnlocked,
	})
}

// CheckUnlock handles GET /api/leads/check-unlock?leadId=...
func (h *Handler) CheckUnlock(c *gin.Context) {
	dealerID := c.GetString("dealerID")

	leadID := c.Query("leadId")
	if leadID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "leadId query parameter is required",
		})
		return
	}

	unlocked, err := h.service.IsUnlocked(c.Request.Context(), dealerID, leadID)
	if err != nil {
		if errors.Is(err, ErrLeadNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "lead not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "failed to check unlock",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"leadId":   leadID,
		"unlocked": unlocked,
	})
}

// ListUnlocks handles GET /api/dealers/me/unlocks
func (h *Handler) ListUnlocks(c *gin.Context) {
	dealerID := c.GetString("dealerID")

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	unlocks, err := h.service.Unlocks(c.Request.Context(), dealerID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "failed to list unlocks",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"unlocks": unlocks,
		"count":   len(unlocks),
	})
}
