package handler

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"snaplink/internal/model"
	"snaplink/internal/service"
)

// shortCodeRe disambiguates short-code paths from application routes
var shortCodeRe = regexp.MustCompile(`^[A-Za-z0-9_-]{3,10}$`)

// OwnerHeader carries the opaque caller identity; auth is upstream
const OwnerHeader = "X-Owner-ID"

// LinkHandler handles HTTP requests for short link operations
type LinkHandler struct {
	service *service.LinkService
	baseURL string
}

// NewLinkHandler creates a new link handler instance
func NewLinkHandler(service *service.LinkService, baseURL string) *LinkHandler {
	return &LinkHandler{
		service: service,
		baseURL: baseURL,
	}
}

// CreateLinkRequest represents the request body for creating a short link
type CreateLinkRequest struct {
	URL       string     `json:"url" binding:"required"`
	Alias     string     `json:"alias,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// CreateLinkResponse represents the response for creating a short link
type CreateLinkResponse struct {
	ShortCode string     `json:"short_code"`
	ShortURL  string     `json:"short_url"`
	TargetURL string     `json:"target_url"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// ListLinksResponse represents one page of an owner's links
type ListLinksResponse struct {
	Items    []model.ShortLink `json:"items"`
	Total    int64             `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
}

// Response represents a generic API response
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// CreateLink handles POST /api/v1/links
func (h *LinkHandler) CreateLink(c *gin.Context) {
	var req CreateLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Code:    http.StatusBadRequest,
			Message: "Invalid request: " + err.Error(),
		})
		return
	}

	link, err := h.service.Create(c.Request.Context(), req.URL, c.GetHeader(OwnerHeader), req.Alias, req.ExpiresAt)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidURL):
			c.JSON(http.StatusBadRequest, Response{
				Code:    http.StatusBadRequest,
				Message: "Target must be an absolute http or https URL",
			})
		case errors.Is(err, service.ErrGenerationExhausted):
			c.JSON(http.StatusInternalServerError, Response{
				Code:    http.StatusInternalServerError,
				Message: "Could not allocate a short code, please retry",
			})
		default:
			c.JSON(http.StatusInternalServerError, Response{
				Code:    http.StatusInternalServerError,
				Message: "Failed to create short link",
			})
		}
		return
	}

	c.JSON(http.StatusOK, Response{
		Code: http.StatusOK,
		Data: CreateLinkResponse{
			ShortCode: link.ShortCode,
			ShortURL:  h.buildShortURL(link.ShortCode),
			TargetURL: link.TargetURL,
			ExpiresAt: link.ExpiresAt,
		},
	})
}

// ListLinks handles GET /api/v1/links
func (h *LinkHandler) ListLinks(c *gin.Context) {
	ownerID := c.GetHeader(OwnerHeader)
	if ownerID == "" {
		c.JSON(http.StatusBadRequest, Response{
			Code:    http.StatusBadRequest,
			Message: OwnerHeader + " header is required",
		})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	items, total, err := h.service.ListByOwner(c.Request.Context(), ownerID, page, pageSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, Response{
			Code:    http.StatusInternalServerError,
			Message: "Failed to list short links",
		})
		return
	}

	c.JSON(http.StatusOK, Response{
		Code: http.StatusOK,
		Data: ListLinksResponse{
			Items:    items,
			Total:    total,
			Page:     page,
			PageSize: pageSize,
		},
	})
}

// DeleteLink handles DELETE /api/v1/links/:code
func (h *LinkHandler) DeleteLink(c *gin.Context) {
	ownerID := c.GetHeader(OwnerHeader)
	if ownerID == "" {
		c.JSON(http.StatusBadRequest, Response{
			Code:    http.StatusBadRequest,
			Message: OwnerHeader + " header is required",
		})
		return
	}

	ok, err := h.service.Delete(c.Request.Context(), c.Param("code"), ownerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, Response{
			Code:    http.StatusInternalServerError,
			Message: "Failed to delete short link",
		})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, Response{
			Code:    http.StatusNotFound,
			Message: "Short link not found",
		})
		return
	}
	c.Status(http.StatusNoContent)
}

// GetLinkDetails handles GET /api/v1/links/:code
func (h *LinkHandler) GetLinkDetails(c *gin.Context) {
	details, err := h.service.Details(c.Request.Context(), c.Param("code"))
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusNotFound, Response{
				Code:    http.StatusNotFound,
				Message: "Short link not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, Response{
			Code:    http.StatusInternalServerError,
			Message: "Failed to get short link details",
		})
		return
	}

	c.JSON(http.StatusOK, Response{
		Code: http.StatusOK,
		Data: details,
	})
}

// Redirect handles GET /:code
func (h *LinkHandler) Redirect(c *gin.Context) {
	shortCode := c.Param("code")
	if !shortCodeRe.MatchString(shortCode) {
		c.JSON(http.StatusNotFound, Response{
			Code:    http.StatusNotFound,
			Message: "Short URL not found",
		})
		return
	}

	targetURL, err := h.service.Resolve(c.Request.Context(), shortCode)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusNotFound, Response{
				Code:    http.StatusNotFound,
				Message: "Short URL not found or expired",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, Response{
			Code:    http.StatusInternalServerError,
			Message: "Redirect service error",
		})
		return
	}

	// Click accounting is fire-and-forget; the redirect never waits on it.
	h.service.RecordClick(shortCode, c.ClientIP(), c.Request.UserAgent(), c.Request.Referer())

	c.Redirect(http.StatusFound, targetURL)
}

// HealthCheck handles GET /health
func (h *LinkHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "OK",
	})
}

// buildShortURL builds the full short URL
func (h *LinkHandler) buildShortURL(shortCode string) string {
	return fmt.Sprintf("%s/%s", h.baseURL, shortCode)
}
