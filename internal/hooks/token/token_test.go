package token

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "vcr/pkg/domain-errors"
)

func TestSignAndVerify(t *testing.T) {
	subID := uuid.New()
	signer := NewSigner(time.Minute)

	signed, err := signer.Sign("hook-secret", subID, "event-1", "https://hooks.example.com/cb")
	require.NoError(t, err)

	claims, err := Verify("hook-secret", signed)
	require.NoError(t, err)
	assert.Equal(t, subID.String(), claims.SubscriptionID)
	assert.Equal(t, "event-1", claims.EventID)
	assert.Equal(t, []string{"https://hooks.example.com/cb"}, []string(claims.Audience))
	assert.WithinDuration(t, time.Now().Add(time.Minute), claims.ExpiresAt.Time, 5*time.Second)
}

func TestVerifyRejects(t *testing.T) {
	signer := NewSigner(time.Minute)
	signed, err := signer.Sign("hook-secret", uuid.New(), "event-1", "https://hooks.example.com/cb")
	require.NoError(t, err)

	t.Run("wrong key", func(t *testing.T) {
		_, err := Verify("other-secret", signed)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("expired", func(t *testing.T) {
		expired := NewSigner(time.Minute)
		expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
		old, err := expired.Sign("hook-secret", uuid.New(), "event-1", "https://hooks.example.com/cb")
		require.NoError(t, err)

		_, err = Verify("hook-secret", old)
		require.Error(t, err)
		assert.Equal(t, "token has expired", err.Error())
	})

	t.Run("empty key", func(t *testing.T) {
		_, err := signer.Sign("", uuid.New(), "event-1", "https://hooks.example.com/cb")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}
