// Package jwt предоставляет проверку JWT токенов операторов на основе RS256.
// Сервис только валидирует токены публичным ключом; выдаёт их внешняя
// система авторизации. Отзыв токенов — через Redis blacklist.
package jwt

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Claims содержит данные JWT токена оператора.
type Claims struct {
	jwtlib.RegisteredClaims
	OperatorID string `json:"operator_id"`
	Role       string `json:"role,omitempty"` // Роль оператора (например "admin")
}

// Manager проверяет JWT токены операторов (RS256).
type Manager struct {
	publicKey *rsa.PublicKey // Публичный ключ для верификации
	blacklist *Blacklist     // Blacklist для отзыва токенов (опционально)
	issuer    string         // Ожидаемый издатель токена
}

// Config содержит параметры для создания Manager.
type Config struct {
	PublicKeyPath string // Путь к публичному ключу (PEM)
	Issuer        string // Ожидаемый издатель токена
}

// NewManager создаёт новый менеджер проверки JWT токенов.
func NewManager(cfg Config) (*Manager, error) {
	publicKey, err := LoadPublicKey(cfg.PublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки публичного ключа: %w", err)
	}

	return &Manager{
		publicKey: publicKey,
		issuer:    cfg.Issuer,
	}, nil
}

// SetBlacklist устанавливает blacklist для проверки отозванных токенов.
func (m *Manager) SetBlacklist(bl *Blacklist) {
	m.blacklist = bl
}

// ValidateToken проверяет подпись и claims токена.
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwtlib.ParseWithClaims(tokenString, &Claims{}, func(token *jwtlib.Token) (interface{}, error) {
		// Проверяем, что используется правильный алгоритм
		if _, ok := token.Method.(*jwtlib.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("неожиданный алгоритм подписи: %v", token.Header["alg"])
		}
		return m.publicKey, nil
	})

	if err != nil {
		return nil, fmt.Errorf("ошибка валидации токена: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("невалидные claims токена")
	}

	// Проверяем издателя, если он настроен
	if m.issuer != "" && claims.Issuer != m.issuer {
		return nil, fmt.Errorf("неожиданный издатель токена: %s", claims.Issuer)
	}

	return claims, nil
}

// ValidateWithBlacklist проверяет токен + blacklist.
// Возвращает ошибку, если токен отозван или невалиден.
func (m *Manager) ValidateWithBlacklist(ctx context.Context, tokenString string) (*Claims, error) {
	// Сначала валидируем подпись и claims
	claims, err := m.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}

	// Если blacklist не настроен — возвращаем claims
	if m.blacklist == nil {
		return claims, nil
	}

	// Проверяем blacklist по jti (конкретный токен)
	blacklisted, err := m.blacklist.Check(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("ошибка проверки blacklist: %w", err)
	}
	if blacklisted {
		return nil, fmt.Errorf("токен отозван")
	}

	// Проверяем массовый отзыв токенов оператора
	if claims.IssuedAt != nil {
		invalidated, err := m.blacklist.IsOperatorInvalidated(ctx, claims.Subject, claims.IssuedAt.Time)
		if err != nil {
			return nil, fmt.Errorf("ошибка проверки инвалидации оператора: %w", err)
		}
		if invalidated {
			return nil, fmt.Errorf("все токены оператора отозваны")
		}
	}

	return claims, nil
}

// LoadPublicKey загружает RSA публичный ключ из PEM файла.
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла %s: %w", path, err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("не удалось декодировать PEM блок из %s", path)
	}

	// Пробуем PKIX формат (PUBLIC KEY)
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		// Пробуем PKCS#1 формат (RSA PUBLIC KEY)
		rsaKey, err2 := x509.ParsePKCS1PublicKey(block.Bytes)
		if err2 != nil {
			return nil, fmt.Errorf("ошибка парсинга публичного ключа: %w", err)
		}
		return rsaKey, nil
	}

	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("ключ не является RSA публичным ключом")
	}

	return rsaKey, nil
}
