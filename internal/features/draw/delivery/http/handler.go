package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"gift-exchange-backend/internal/common/middleware"
	"gift-exchange-backend/internal/features/draw/service"
)

type DrawHandler struct {
	service service.DrawService
}

func NewDrawHandler(service service.DrawService) *DrawHandler {
	return &DrawHandler{
		service: service,
	}
}

func (h *DrawHandler) RegisterRoutes(router *gin.RouterGroup) {
	admin := router.Group("/events/:slug/participants/:id", middleware.RequireAdminToken())
	{
		admin.DELETE("", h.removeParticipant)
		admin.POST("/regenerate", h.regenerate)
	}

	router.POST("/participants/me/draw", middleware.RequireParticipantToken(), h.draw)
}

// @Summary Вытянуть получателя подарка
// @Description Повторный вызов возвращает уже назначенного получателя
// @Router /participants/me/draw [post]
func (h *DrawHandler) draw(c *gin.Context) {
	resp, err := h.service.Draw(c.Request.Context(), middleware.ParticipantToken(c))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Перевыпустить ссылку участника
// @Router /events/{slug}/participants/{id}/regenerate [post]
func (h *DrawHandler) regenerate(c *gin.Context) {
	resp, err := h.service.Regenerate(c.Request.Context(), c.Param("slug"), middleware.AdminToken(c), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *DrawHandler) removeParticipant(c *gin.Context) {
	resp, err := h.service.RemoveParticipant(c.Request.Context(), c.Param("slug"), middleware.AdminToken(c), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
