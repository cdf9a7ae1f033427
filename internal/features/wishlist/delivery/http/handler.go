package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"gift-exchange-backend/internal/common/middleware"
	"gift-exchange-backend/internal/common/validation"
	"gift-exchange-backend/internal/features/event/models"
	"gift-exchange-backend/internal/features/wishlist/service"
)

type WishlistHandler struct {
	service service.WishlistService
}

func NewWishlistHandler(service service.WishlistService) *WishlistHandler {
	return &WishlistHandler{
		service: service,
	}
}

func (h *WishlistHandler) RegisterRoutes(router *gin.RouterGroup) {
	wishlist := router.Group("/participants/me/wishlist", middleware.RequireParticipantToken())
	{
		wishlist.PUT("", h.submit)
		wishlist.DELETE("", h.removeItem)
		wishlist.POST("/skip", h.skip)
	}
}

// @Summary Заменить список желаний
// @Router /participants/me/wishlist [put]
func (h *WishlistHandler) submit(c *gin.Context) {
	var input models.WishlistRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		_ = c.Error(validation.BindError(err))
		return
	}

	resp, err := h.service.Submit(c.Request.Context(), middleware.ParticipantToken(c), input.Items)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *WishlistHandler) removeItem(c *gin.Context) {
	var input models.WishlistItemRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		_ = c.Error(validation.BindError(err))
		return
	}

	resp, err := h.service.RemoveItem(c.Request.Context(), middleware.ParticipantToken(c), input.Item)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *WishlistHandler) skip(c *gin.Context) {
	resp, err := h.service.Skip(c.Request.Context(), middleware.ParticipantToken(c))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
