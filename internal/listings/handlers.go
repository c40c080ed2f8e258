package listings

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/dealerdesk/marketplace/internal/validation"
)

// Handler provides HTTP endpoints for listings.
type Handler struct {
	service *Service
}

// NewHandler creates a new listings handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterPublicRoutes sets up the public search and detail routes.
func (h *Handler) RegisterPublicRoutes(r *gin.RouterGroup) {
	r.GET("/listings", h.SearchListings)
	r.GET("/listings/:id", h.GetListing)
}

// RegisterDealerRoutes sets up routes that require dealer authentication.
func (h *Handler) RegisterDealerRoutes(r *gin.RouterGroup) {
	r.POST("/listings", h.CreateListing)
	r.GET("/dealers/me/listings", h.ListOwnListings)
	r.PUT("/listings/:id/status", h.UpdateStatus)
}

// SearchListings handles GET /api/listings
//
// Supported filters: q, brand, city, price_max, page, limit. A
// price_max that does not parse as a number is a 422, not a silent
// unbounded search.
func (h *Handler) SearchListings(c *gin.Context) {
	q := Query{
		Q:     validation.Sanitize(c.Query("q")),
		Brand: validation.Sanitize(c.Query("brand")),
		City:  validation.Sanitize(c.Query("city")),
	}

	if raw := c.Query("price_max"); raw != "" {
		priceMax, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || priceMax < 0 {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":   "invalid_price_max",
				"message": "price_max must be a non-negative number",
			})
			return
		}
		q.PriceMax = priceMax
	}

	page := 1
	if p := c.Query("page"); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil && parsed > 0 {
			page = parsed
		}
	}
	limit := 12
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}
	q.Limit = limit
	q.Offset = (page - 1) * limit

	results, total, err := h.service.Search(c.Request.Context(), q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "search failed",
		})
		return
	}

	totalPages := (total + limit - 1) / limit
	c.JSON(http.StatusOK, gin.H{
		"listings": results,
		"pagination": gin.H{
			"total":      total,
			"page":       page,
			"totalPages": totalPages,
		},
	})
}

// GetListing handles GET /api/listings/:id
func (h *Handler) GetListing(c *gin.Context) {
	listing, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrListingNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "listing not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "failed to load listing",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"listing": listing})
}

type createListingRequest struct {
	Title       string `json:"title" binding:"required"`
	Brand       string `json:"brand" binding:"required"`
	Model       string `json:"model"`
	Year        int    `json:"year"`
	Price       int64  `json:"price" binding:"required"`
	KmsDriven   int    `json:"kmsDriven"`
	City        string `json:"city"`
	Description string `json:"description"`
}

// CreateListing handles POST /api/listings
func (h *Handler) CreateListing(c *gin.Context) {
	dealerID := c.GetString("dealerID")

	var req createListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "title, brand and price are required",
		})
		return
	}

	listing, err := h.service.Create(c.Request.Context(), &Listing{
		DealerID:    dealerID,
		Title:       validation.Sanitize(req.Title),
		Brand:       validation.Sanitize(req.Brand),
		Model:       validation.Sanitize(req.Model),
		Year:        req.Year,
		Price:       req.Price,
		KmsDriven:   req.KmsDriven,
		City:        validation.Sanitize(req.City),
		Description: validation.Sanitize(req.Description),
	})
	if err != nil {
		if errors.Is(err, ErrInvalidListing) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_listing",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "failed to create listing",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"listing": listing})
}

// ListOwnListings handles GET /api/dealers/me/listings
func (h *Handler) ListOwnListings(c *gin.Context) {
	dealerID := c.GetString("dealerID")

	results, err := h.service.ListByDealer(c.Request.Context(), dealerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "failed to list listings",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"listings": results,
		"count":    len(results),
	})
}

type updateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdateStatus handles PUT /api/listings/:id/status
func (h *Handler) UpdateStatus(c *gin.Context) {
	dealerID := c.GetString("dealerID")

	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "status is required",
		})
		return
	}

	err := h.service.UpdateStatus(c.Request.Context(), c.Param("id"), dealerID, req.Status)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidStatus):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_status",
				"message": err.Error(),
			})
		case errors.Is(err, ErrListingNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "listing not found",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "failed to update listing",
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "status": req.Status})
}
