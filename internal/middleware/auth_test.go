package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"example.com/commerce-sync/pkg/jwt"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// MockTokenValidator — мок для TokenValidator интерфейса.
type MockTokenValidator struct {
	ValidateFunc func(ctx context.Context, accessToken string) (*jwt.Claims, error)
}

func (m *MockTokenValidator) ValidateWithBlacklist(ctx context.Context, accessToken string) (*jwt.Claims, error) {
	if m.ValidateFunc != nil {
		return m.ValidateFunc(ctx, accessToken)
	}
	return nil, errors.New("ValidateFunc not set")
}

// TestAuthMiddleware проверяет все сценарии аутентификации оператора.
func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		authHeader     string
		setupMock      func(*MockTokenValidator)
		expectedStatus int
		checkContext   func(*testing.T, *gin.Context)
	}{
		{
			name:       "Успешная аутентификация",
			authHeader: "Bearer valid-token-123",
			setupMock: func(m *MockTokenValidator) {
				m.ValidateFunc = func(ctx context.Context, token string) (*jwt.Claims, error) {
					if token != "valid-token-123" {
						return nil, errors.New("unexpected token")
					}
					return &jwt.Claims{OperatorID: "op-456", Role: "admin"}, nil
				}
			},
			expectedStatus: http.StatusOK,
			checkContext: func(t *testing.T, c *gin.Context) {
				operatorID, exists := c.Get("operator_id")
				assert.True(t, exists, "operator_id должен быть в контексте")
				assert.Equal(t, "op-456", operatorID)

				role, exists := c.Get("role")
				assert.True(t, exists, "role должен быть в контексте")
				assert.Equal(t, "admin", role)
			},
		},
		{
			name:           "Отсутствует токен",
			authHeader:     "",
			setupMock:      func(m *MockTokenValidator) {},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Пустой Bearer токен",
			authHeader:     "Bearer ",
			setupMock:      func(m *MockTokenValidator) {},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Неверный формат — без Bearer",
			authHeader:     "just-a-token",
			setupMock:      func(m *MockTokenValidator) {},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:       "Токен отклонён валидатором",
			authHeader: "Bearer expired-token",
			setupMock: func(m *MockTokenValidator) {
				m.ValidateFunc = func(ctx context.Context, token string) (*jwt.Claims, error) {
					return nil, errors.New("ошибка валидации токена: token is expired")
				}
			},
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:       "Токен в blacklist",
			authHeader: "Bearer revoked-token",
			setupMock: func(m *MockTokenValidator) {
				m.ValidateFunc = func(ctx context.Context, token string) (*jwt.Claims, error) {
					return nil, errors.New("токен отозван")
				}
			},
			expectedStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			validator := &MockTokenValidator{}
			tt.setupMock(validator)
			mw := NewAuthMiddleware(validator)

			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/admin/dead-letters", nil)
			if tt.authHeader != "" {
				c.Request.Header.Set("Authorization", tt.authHeader)
			}

			mw.Handle()(c)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedStatus == http.StatusUnauthorized {
				assert.Contains(t, w.Body.String(), "unauthorized")
				assert.True(t, c.IsAborted())
			}
			if tt.checkContext != nil {
				tt.checkContext(t, c)
			}
		})
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		expected string
	}{
		{"Обычный Bearer", "Bearer abc123", "abc123"},
		{"Регистронезависимый префикс", "bearer abc123", "abc123"},
		{"Пустой заголовок", "", ""},
		{"Без префикса", "abc123", ""},
		{"Только префикс", "Bearer", ""},
		{"Пробелы вокруг токена", "Bearer   abc123", "abc123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				c.Request.Header.Set("Authorization", tt.header)
			}

			assert.Equal(t, tt.expected, extractBearerToken(c))
		})
	}
}
