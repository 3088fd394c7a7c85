package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// VerifySignature проверяет HMAC-SHA256 подпись сырого тела доставки.
// signature — base64 от HMAC-SHA256(rawBody, secret).
// Сравнение выполняется за константное время (hmac.Equal), чтобы исключить
// timing side-channel. Пустой secret или пустая подпись — сразу false:
// решение "пропускать ли без секрета" принимает вызывающий код.
func VerifySignature(rawBody []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}

// ComputeSignature вычисляет подпись тела под заданным секретом.
// Используется в тестах и при формировании исходящих запросов к платформе.
func ComputeSignature(rawBody []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
