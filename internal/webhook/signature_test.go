package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifySignature(t *testing.T) {
	secret := "test-secret"
	body := []byte(`{"id":123,"status":"processing"}`)

	t.Run("корректная подпись", func(t *testing.T) {
		sig := ComputeSignature(body, secret)
		assert.True(t, VerifySignature(body, sig, secret))
	})

	t.Run("неверная подпись", func(t *testing.T) {
		assert.False(t, VerifySignature(body, "bm90LXRoZS1zaWduYXR1cmU=", secret))
	})

	t.Run("подпись от другого секрета", func(t *testing.T) {
		sig := ComputeSignature(body, "other-secret")
		assert.False(t, VerifySignature(body, sig, secret))
	})

	t.Run("подпись от другого тела", func(t *testing.T) {
		sig := ComputeSignature([]byte(`{"id":456}`), secret)
		assert.False(t, VerifySignature(body, sig, secret))
	})

	t.Run("пустой секрет", func(t *testing.T) {
		sig := ComputeSignature(body, secret)
		assert.False(t, VerifySignature(body, sig, ""))
	})

	t.Run("пустая подпись", func(t *testing.T) {
		assert.False(t, VerifySignature(body, "", secret))
	})

	t.Run("подпись чувствительна к байтам тела", func(t *testing.T) {
		sig := ComputeSignature(body, secret)
		reordered := []byte(`{"status":"processing","id":123}`)
		assert.False(t, VerifySignature(reordered, sig, secret))
	})
}
