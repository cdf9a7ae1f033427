package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"gift-exchange-backend/internal/common/errors"
)

const (
	AdminTokenHeader       = "X-Admin-Token"
	ParticipantTokenHeader = "X-Participant-Token"

	adminTokenKey       = "admin_token"
	participantTokenKey = "participant_token"
)

// RequireAdminToken требует заголовок X-Admin-Token. Владение событием
// проверяется уже в сервисе.
func RequireAdminToken() gin.HandlerFunc {
	return requireHeader(AdminTokenHeader, adminTokenKey)
}

// RequireParticipantToken требует заголовок X-Participant-Token.
func RequireParticipantToken() gin.HandlerFunc {
	return requireHeader(ParticipantTokenHeader, participantTokenKey)
}

func requireHeader(header, key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		value := strings.TrimSpace(c.GetHeader(header))
		if value == "" {
			_ = c.Error(errors.NewUnauthorizedError(header + " header required"))
			c.Abort()
			return
		}

		c.Set(key, value)
		c.Next()
	}
}

func AdminToken(c *gin.Context) string {
	return c.GetString(adminTokenKey)
}

func ParticipantToken(c *gin.Context) string {
	return c.GetString(participantTokenKey)
}
