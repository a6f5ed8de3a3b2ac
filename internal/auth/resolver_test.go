package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/maroonops/signal-console/internal/apierr"
	"github.com/maroonops/signal-console/internal/config"
	"github.com/maroonops/signal-console/internal/policy"
)

type stubVerifier struct {
	claims *Claims
	err    error
}

func (s *stubVerifier) VerifyIDToken(context.Context, string) (*Claims, error) {
	return s.claims, s.err
}

func resolverWith(cfg *config.Config, verifier TokenVerifier) *Resolver {
	return NewResolver(cfg, verifier, zap.NewNop())
}

func baseConfig() *config.Config {
	return &config.Config{
		AuthRequired:         true,
		RequireEmailVerified: true,
		DefaultRole:          "engineer",
	}
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc.def", BearerToken("Bearer abc.def"))
	assert.Equal(t, "abc", BearerToken("  bearer abc  "))
	assert.Equal(t, "", BearerToken(""))
	assert.Equal(t, "", BearerToken("Basic abc"))
	assert.Equal(t, "", BearerToken("Bearer"))
}

func TestResolveBypass(t *testing.T) {
	cfg := baseConfig()
	cfg.AuthRequired = false
	r := resolverWith(cfg, nil)

	op, aerr := r.Resolve(context.Background(), "")
	require.Nil(t, aerr)
	assert.Equal(t, "auth_bypass", op.UID)
	assert.Equal(t, "bypass", op.Provider)
	assert.Equal(t, policy.RoleFounder, op.Role)
}

func TestResolveErrors(t *testing.T) {
	t.Run("missing token", func(t *testing.T) {
		r := resolverWith(baseConfig(), &stubVerifier{})
		_, aerr := r.Resolve(context.Background(), "")
		require.NotNil(t, aerr)
		assert.Equal(t, apierr.CodeAuthRequired, aerr.Code)
		assert.Equal(t, 401, aerr.Status)
	})

	t.Run("invalid token", func(t *testing.T) {
		r := resolverWith(baseConfig(), &stubVerifier{err: errors.New("expired")})
		_, aerr := r.Resolve(context.Background(), "Bearer bad")
		require.NotNil(t, aerr)
		assert.Equal(t, apierr.CodeAuthInvalid, aerr.Code)
		assert.NotContains(t, aerr.Detail, "expired", "verifier causes are never echoed")
	})

	t.Run("unverified email", func(t *testing.T) {
		r := resolverWith(baseConfig(), &stubVerifier{claims: &Claims{
			UID: "u1", Email: "a@maroon.dev", EmailVerified: false,
		}})
		_, aerr := r.Resolve(context.Background(), "Bearer tok")
		require.NotNil(t, aerr)
		assert.Equal(t, apierr.CodeAuthUnverifiedEmail, aerr.Code)
		assert.Equal(t, 403, aerr.Status)
	})

	t.Run("email not allowlisted", func(t *testing.T) {
		cfg := baseConfig()
		cfg.AllowedEmails = []string{"ceo@maroon.dev"}
		r := resolverWith(cfg, &stubVerifier{claims: &Claims{
			UID: "u1", Email: "other@maroon.dev", EmailVerified: true,
		}})
		_, aerr := r.Resolve(context.Background(), "Bearer tok")
		require.NotNil(t, aerr)
		assert.Equal(t, apierr.CodeEmailNotAllowed, aerr.Code)
	})

	t.Run("domain not allowlisted", func(t *testing.T) {
		cfg := baseConfig()
		cfg.AllowedDomains = []string{"maroon.dev"}
		r := resolverWith(cfg, &stubVerifier{claims: &Claims{
			UID: "u1", Email: "spy@rival.io", EmailVerified: true,
		}})
		_, aerr := r.Resolve(context.Background(), "Bearer tok")
		require.NotNil(t, aerr)
		assert.Equal(t, apierr.CodeDomainNotAllowed, aerr.Code)
	})
}

func TestResolveRoles(t *testing.T) {
	t.Run("claims drive the role set", func(t *testing.T) {
		r := resolverWith(baseConfig(), &stubVerifier{claims: &Claims{
			UID:           "u1",
			Email:         "Counsel@Maroon.dev",
			EmailVerified: true,
			Custom: map[string]any{
				policy.ClaimRole:  "counsel",
				policy.ClaimRoles: []any{"counsel"},
			},
		}})
		op, aerr := r.Resolve(context.Background(), "Bearer tok")
		require.Nil(t, aerr)
		assert.Equal(t, policy.RoleCounsel, op.Role)
		assert.Equal(t, []policy.Role{policy.RoleCounsel}, op.Roles)
		assert.Equal(t, "counsel@maroon.dev", op.Email, "emails are lowercased")
	})

	t.Run("no claims fall back to default role", func(t *testing.T) {
		r := resolverWith(baseConfig(), &stubVerifier{claims: &Claims{
			UID: "u2", Email: "new@maroon.dev", EmailVerified: true,
		}})
		op, aerr := r.Resolve(context.Background(), "Bearer tok")
		require.Nil(t, aerr)
		assert.Equal(t, policy.RoleEngineer, op.Role)
	})

	t.Run("case-insensitive email allowlist", func(t *testing.T) {
		cfg := baseConfig()
		cfg.AllowedEmails = []string{"CEO@maroon.dev"}
		r := resolverWith(cfg, &stubVerifier{claims: &Claims{
			UID: "u3", Email: "ceo@MAROON.dev", EmailVerified: true,
		}})
		_, aerr := r.Resolve(context.Background(), "Bearer tok")
		assert.Nil(t, aerr)
	})
}
