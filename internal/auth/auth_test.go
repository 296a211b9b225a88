package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/fhenergy-api/internal/wallet"
)

func signedCredentials(t *testing.T, w *wallet.Wallet, ts int64) Credentials {
	t.Helper()
	sig, err := w.Sign(context.Background(), LoginMessage(w.Address(), ts))
	require.NoError(t, err)
	return Credentials{Address: w.Address(), Timestamp: ts, Signature: sig}
}

func TestGenerateToken_UsesServiceClock(t *testing.T) {
	w, err := wallet.Generate()
	require.NoError(t, err)
	now := time.Unix(1760000000, 0)
	svc := NewService("test-secret")
	svc.now = func() time.Time { return now }

	token, err := svc.GenerateToken(signedCredentials(t, w, now.Unix()-60))
	require.NoError(t, err)
	assert.Equal(t, now.Add(24*time.Hour), token.Expiration)
	assert.NotEmpty(t, token.Token)
}

func TestGenerateToken_ValidatesWithCurrentClock(t *testing.T) {
	w, err := wallet.Generate()
	require.NoError(t, err)
	svc := NewService("test-secret")

	token, err := svc.GenerateToken(signedCredentials(t, w, time.Now().Unix()))
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token.Token)
	require.NoError(t, err)
	assert.Equal(t, w.Address(), claims.ClientID)
	assert.Equal(t, []string{"trade"}, claims.Permissions)

	_, err = NewService("other-secret").ValidateToken(token.Token)
	assert.Error(t, err)
}

func TestGenerateToken_Rejections(t *testing.T) {
	alice, err := wallet.Generate()
	require.NoError(t, err)
	bob, err := wallet.Generate()
	require.NoError(t, err)
	now := time.Now()
	svc := NewService("test-secret")

	stale := signedCredentials(t, alice, now.Add(-10*time.Minute).Unix())
	_, err = svc.GenerateToken(stale)
	assert.ErrorIs(t, err, ErrStaleLogin)

	forged := signedCredentials(t, alice, now.Unix())
	forged.Address = bob.Address()
	_, err = svc.GenerateToken(forged)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	garbage := Credentials{Address: alice.Address(), Timestamp: now.Unix(), Signature: "0xdead"}
	_, err = svc.GenerateToken(garbage)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestIssueOperatorToken(t *testing.T) {
	token, err := IssueOperatorToken("internal-secret", "ops", time.Hour)
	require.NoError(t, err)

	claims, err := NewService("internal-secret").ValidateToken(token.Token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.ClientID)
	assert.Equal(t, []string{"internal"}, claims.Permissions)

	_, err = NewService("public-secret").ValidateToken(token.Token)
	assert.Error(t, err)

	_, err = IssueOperatorToken("", "ops", time.Hour)
	assert.ErrorIs(t, err, ErrTokenGeneration)
}
