// Package middleware содержит HTTP middleware операторского API.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"example.com/commerce-sync/pkg/jwt"
	"example.com/commerce-sync/pkg/logger"
)

// TokenValidator — интерфейс для валидации операторских токенов.
// Позволяет мокировать jwt.Manager в тестах.
type TokenValidator interface {
	ValidateWithBlacklist(ctx context.Context, accessToken string) (*jwt.Claims, error)
}

// AuthMiddleware — middleware для проверки JWT токенов операторов.
// Webhook endpoint аутентификацию не использует — платформа
// подписывает тело запроса HMAC.
type AuthMiddleware struct {
	validator TokenValidator
}

// NewAuthMiddleware создаёт новый middleware для аутентификации.
func NewAuthMiddleware(validator TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: validator}
}

// Handle возвращает Gin handler function для middleware.
func (m *AuthMiddleware) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		log := logger.FromContext(ctx)

		token := extractBearerToken(c)
		if token == "" {
			log.Debug().Msg("Отсутствует токен авторизации")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Требуется авторизация",
			})
			return
		}

		claims, err := m.validator.ValidateWithBlacklist(ctx, token)
		if err != nil {
			log.Warn().Err(err).Msg("Ошибка валидации токена")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Невалидный токен",
			})
			return
		}

		// Сохраняем данные оператора в контекст Gin
		c.Set("operator_id", claims.OperatorID)
		c.Set("role", claims.Role)

		log.Debug().
			Str("operator_id", claims.OperatorID).
			Str("role", claims.Role).
			Msg("Оператор аутентифицирован")

		c.Next()
	}
}

// extractBearerToken достаёт токен из заголовка Authorization.
func extractBearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
