package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedNow(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestSigner_IssueAndVerify(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	s, err := NewSigner("test-secret", fixedNow(now))
	require.NoError(t, err)

	token, err := s.Issue("clerk@example.com", []string{"Staff", "staff", " "}, time.Hour)
	require.NoError(t, err)

	claims, err := s.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "clerk@example.com", claims.Subject)
	assert.Equal(t, []string{"staff"}, claims.Roles)
	assert.Equal(t, DefaultIssuer, claims.Issuer)
}

func TestSigner_RejectsExpired(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	issuer, err := NewSigner("test-secret", fixedNow(now))
	require.NoError(t, err)
	token, err := issuer.Issue("clerk", nil, time.Minute)
	require.NoError(t, err)

	later, err := NewSigner("test-secret", fixedNow(now.Add(2*time.Minute)))
	require.NoError(t, err)
	_, err = later.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSigner_RejectsWrongSecret(t *testing.T) {
	a, err := NewSigner("secret-a", nil)
	require.NoError(t, err)
	b, err := NewSigner("secret-b", nil)
	require.NoError(t, err)

	token, err := a.Issue("clerk", nil, time.Hour)
	require.NoError(t, err)
	_, err = b.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = b.Verify("   ")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSigner_Arguments(t *testing.T) {
	_, err := NewSigner(" ", nil)
	assert.ErrorIs(t, err, ErrMissingSecret)

	s, err := NewSigner("x", nil)
	require.NoError(t, err)
	_, err = s.Issue("", nil, time.Hour)
	assert.Error(t, err)
	_, err = s.Issue("clerk", nil, 0)
	assert.Error(t, err)
}

func TestTokenContext(t *testing.T) {
	ctx := context.Background()
	_, ok := TokenFromContext(ctx)
	assert.False(t, ok)

	assert.Equal(t, ctx, ContextWithToken(ctx, ""))

	tok, ok := TokenFromContext(ContextWithToken(ctx, "abc"))
	assert.True(t, ok)
	assert.Equal(t, "abc", tok)

	sub, ok := SubjectFromContext(ContextWithSubject(ctx, "clerk"))
	assert.True(t, ok)
	assert.Equal(t, "clerk", sub)
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("s3cret!")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret!", hash)
	assert.NoError(t, VerifyPassword(hash, "s3cret!"))
	assert.Error(t, VerifyPassword(hash, "wrong"))

	_, err = HashPassword("")
	assert.Error(t, err)
}
