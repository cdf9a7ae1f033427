package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"gift-exchange-backend/internal/common/errors"
	"gift-exchange-backend/internal/common/middleware"
	"gift-exchange-backend/internal/common/validation"
	"gift-exchange-backend/internal/features/event/models"
	"gift-exchange-backend/internal/features/event/service"
)

type EventHandler struct {
	service service.EventService
}

func NewEventHandler(service service.EventService) *EventHandler {
	return &EventHandler{
		service: service,
	}
}

func (h *EventHandler) RegisterRoutes(router *gin.RouterGroup) {
	events := router.Group("/events")
	{
		events.POST("", h.create)

		admin := events.Group("/:slug", middleware.RequireAdminToken())
		admin.GET("", h.get)
		admin.DELETE("", h.delete)
		admin.POST("/unlock", h.unlock)
		admin.POST("/participants", h.addParticipant)
	}

	me := router.Group("/participants/me", middleware.RequireParticipantToken())
	{
		me.GET("", h.participantInfo)
	}
}

// @Summary Создать событие
// @Router /events [post]
func (h *EventHandler) create(c *gin.Context) {
	var input models.CreateEventRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		_ = c.Error(validation.BindError(err))
		return
	}

	eventDate, err := time.Parse(models.DateLayout, input.EventDate)
	if err != nil {
		_ = c.Error(errors.NewValidationError("event_date", "expected YYYY-MM-DD"))
		return
	}
	lockDate, err := time.Parse(models.DateLayout, input.LockDate)
	if err != nil {
		_ = c.Error(errors.NewValidationError("lock_date", "expected YYYY-MM-DD"))
		return
	}

	resp, err := h.service.CreateEvent(c.Request.Context(), service.CreateEventInput{
		Name:         input.Name,
		EventDate:    eventDate,
		LockDate:     lockDate,
		Participants: input.Participants,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// @Summary Данные события для администратора
// @Router /events/{slug} [get]
func (h *EventHandler) get(c *gin.Context) {
	details, err := h.service.GetEvent(c.Request.Context(), c.Param("slug"), middleware.AdminToken(c))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, details)
}

func (h *EventHandler) delete(c *gin.Context) {
	if err := h.service.DeleteEvent(c.Request.Context(), c.Param("slug"), middleware.AdminToken(c)); err != nil {
		_ = c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

// unlock переносит дату блокировки на сегодня
func (h *EventHandler) unlock(c *gin.Context) {
	lockDate, err := h.service.Unlock(c.Request.Context(), c.Param("slug"), middleware.AdminToken(c))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, models.UnlockResponse{LockDate: lockDate.Format(models.DateLayout)})
}

func (h *EventHandler) addParticipant(c *gin.Context) {
	var input models.AddParticipantRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		_ = c.Error(validation.BindError(err))
		return
	}

	creds, err := h.service.AddParticipant(c.Request.Context(), c.Param("slug"), middleware.AdminToken(c), input.Name)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, creds)
}

// @Summary Страница участника
// @Router /participants/me [get]
func (h *EventHandler) participantInfo(c *gin.Context) {
	info, err := h.service.GetParticipantInfo(c.Request.Context(), middleware.ParticipantToken(c))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, info)
}
