package auth

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/maroonops/signal-console/internal/apierr"
	"github.com/maroonops/signal-console/internal/policy"
)

type fakeDirectory struct {
	users   map[string]*UserRecord // by uid
	written map[string]map[string]any
}

func newFakeDirectory(users ...*UserRecord) *fakeDirectory {
	d := &fakeDirectory{
		users:   make(map[string]*UserRecord),
		written: make(map[string]map[string]any),
	}
	for _, u := range users {
		d.users[u.UID] = u
	}
	return d
}

func (d *fakeDirectory) GetUser(_ context.Context, uid string) (*UserRecord, error) {
	if u, ok := d.users[uid]; ok {
		return u, nil
	}
	return nil, errors.New("no such user")
}

func (d *fakeDirectory) GetUserByEmail(_ context.Context, email string) (*UserRecord, error) {
	for _, u := range d.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return nil, errors.New("no such user")
}

func (d *fakeDirectory) SetCustomClaims(_ context.Context, uid string, claims map[string]any) error {
	if _, ok := d.users[uid]; !ok {
		return errors.New("no such user")
	}
	d.written[uid] = claims
	d.users[uid].CustomClaims = claims
	return nil
}

func (d *fakeDirectory) ListUsers(_ context.Context, pageToken string, _ int) ([]*UserRecord, string, error) {
	if pageToken != "" {
		return nil, "", nil
	}
	out := make([]*UserRecord, 0, len(d.users))
	for _, u := range d.users {
		out = append(out, u)
	}
	return out, "", nil
}

func rolePolicy() *policy.Policy {
	return policy.New([]string{"executive_data_plane_overview"}, "engineer")
}

func TestBootstrapKeyMatches(t *testing.T) {
	assert.True(t, BootstrapKeyMatches("s3cret", "s3cret"))
	assert.False(t, BootstrapKeyMatches("s3cret", "S3cret"))
	assert.False(t, BootstrapKeyMatches("s3cret", "s3cret "))
	assert.False(t, BootstrapKeyMatches("", ""), "an empty configured key disables bootstrap")
	assert.False(t, BootstrapKeyMatches("", "anything"))
	assert.False(t, BootstrapKeyMatches("s3cret", ""))
}

func TestAssignRoleViaBootstrapKey(t *testing.T) {
	dir := newFakeDirectory(&UserRecord{UID: "u1", Email: "eng@maroon.dev"})
	svc := NewRoleService(dir, rolePolicy(), zap.NewNop())

	result, aerr := svc.AssignRole(context.Background(), AssignRoleRequest{
		BootstrapKey: true,
		UID:          "u1",
		Role:         "counsel",
	})
	require.Nil(t, aerr)
	assert.Equal(t, ViaBootstrapKey, result.AuthorizedVia)
	assert.Equal(t, "counsel", result.Role)

	claims := dir.written["u1"]
	require.NotNil(t, claims)
	assert.Equal(t, "counsel", claims[policy.ClaimRole])
	assert.Equal(t, []string{"counsel"}, claims[policy.ClaimRoles])
	assert.NotEmpty(t, claims[policy.ClaimUpdatedAt])
}

func TestAssignRoleViaFounderClaim(t *testing.T) {
	dir := newFakeDirectory(
		&UserRecord{UID: "founder1", Email: "ceo@maroon.dev", CustomClaims: map[string]any{policy.ClaimRole: "founder"}},
		&UserRecord{UID: "u2", Email: "new@maroon.dev"},
	)
	svc := NewRoleService(dir, rolePolicy(), zap.NewNop())

	result, aerr := svc.AssignRole(context.Background(), AssignRoleRequest{
		Actor: &Operator{UID: "founder1", Role: policy.RoleFounder},
		Email: "new@maroon.dev",
		Role:  "engineer",
	})
	require.Nil(t, aerr)
	assert.Equal(t, ViaFounderClaim, result.AuthorizedVia)
	assert.Equal(t, "u2", result.UID)
}

func TestAssignRoleSelfBootstrap(t *testing.T) {
	t.Run("first founder may claim founder for themselves", func(t *testing.T) {
		dir := newFakeDirectory(&UserRecord{UID: "u1", Email: "ceo@maroon.dev"})
		svc := NewRoleService(dir, rolePolicy(), zap.NewNop())

		result, aerr := svc.AssignRole(context.Background(), AssignRoleRequest{
			Actor: &Operator{UID: "u1", Email: "ceo@maroon.dev", Role: policy.RoleEngineer},
			UID:   "u1",
			Role:  "founder",
		})
		require.Nil(t, aerr)
		assert.Equal(t, ViaSelfBootstrap, result.AuthorizedVia)
	})

	t.Run("denied once a founder exists", func(t *testing.T) {
		dir := newFakeDirectory(
			&UserRecord{UID: "founder1", CustomClaims: map[string]any{policy.ClaimRole: "founder"}},
			&UserRecord{UID: "u2", Email: "new@maroon.dev"},
		)
		svc := NewRoleService(dir, rolePolicy(), zap.NewNop())

		_, aerr := svc.AssignRole(context.Background(), AssignRoleRequest{
			Actor: &Operator{UID: "u2", Email: "new@maroon.dev", Role: policy.RoleEngineer},
			UID:   "u2",
			Role:  "founder",
		})
		require.NotNil(t, aerr)
		assert.Equal(t, apierr.CodeRoleNotAllowed, aerr.Code)
	})

	t.Run("denied for another target", func(t *testing.T) {
		dir := newFakeDirectory(
			&UserRecord{UID: "u1", Email: "a@maroon.dev"},
			&UserRecord{UID: "u2", Email: "b@maroon.dev"},
		)
		svc := NewRoleService(dir, rolePolicy(), zap.NewNop())

		_, aerr := svc.AssignRole(context.Background(), AssignRoleRequest{
			Actor: &Operator{UID: "u1", Email: "a@maroon.dev", Role: policy.RoleEngineer},
			UID:   "u2",
			Role:  "founder",
		})
		require.NotNil(t, aerr)
		assert.Equal(t, apierr.CodeRoleNotAllowed, aerr.Code)
	})

	t.Run("denied for a non-founder role", func(t *testing.T) {
		dir := newFakeDirectory(&UserRecord{UID: "u1", Email: "a@maroon.dev"})
		svc := NewRoleService(dir, rolePolicy(), zap.NewNop())

		_, aerr := svc.AssignRole(context.Background(), AssignRoleRequest{
			Actor: &Operator{UID: "u1", Email: "a@maroon.dev", Role: policy.RoleEngineer},
			UID:   "u1",
			Role:  "counsel",
		})
		require.NotNil(t, aerr)
		assert.Equal(t, apierr.CodeRoleNotAllowed, aerr.Code)
	})
}

func TestAssignRoleValidation(t *testing.T) {
	dir := newFakeDirectory(&UserRecord{UID: "u1", Email: "a@maroon.dev"})
	svc := NewRoleService(dir, rolePolicy(), zap.NewNop())

	t.Run("invalid role", func(t *testing.T) {
		_, aerr := svc.AssignRole(context.Background(), AssignRoleRequest{
			BootstrapKey: true, UID: "u1", Role: "admin",
		})
		require.NotNil(t, aerr)
		assert.Equal(t, apierr.CodeInvalidRole, aerr.Code)
	})

	t.Run("missing target", func(t *testing.T) {
		_, aerr := svc.AssignRole(context.Background(), AssignRoleRequest{
			BootstrapKey: true, Role: "counsel",
		})
		require.NotNil(t, aerr)
		assert.Equal(t, apierr.CodeMissingTarget, aerr.Code)
	})

	t.Run("unknown target", func(t *testing.T) {
		_, aerr := svc.AssignRole(context.Background(), AssignRoleRequest{
			BootstrapKey: true, UID: "ghost", Role: "counsel",
		})
		require.NotNil(t, aerr)
		assert.Equal(t, apierr.CodeMissingTarget, aerr.Code)
		assert.Equal(t, 404, aerr.Status)
	})

	t.Run("no actor and no key", func(t *testing.T) {
		_, aerr := svc.AssignRole(context.Background(), AssignRoleRequest{
			UID: "u1", Role: "counsel",
		})
		require.NotNil(t, aerr)
		assert.Equal(t, apierr.CodeAuthRequired, aerr.Code)
	})
}

func TestHasFounder(t *testing.T) {
	t.Run("present via roles list", func(t *testing.T) {
		dir := newFakeDirectory(&UserRecord{
			UID:          "u1",
			CustomClaims: map[string]any{policy.ClaimRoles: []any{"founder"}},
		})
		svc := NewRoleService(dir, rolePolicy(), zap.NewNop())
		found, err := svc.HasFounder(context.Background())
		require.NoError(t, err)
		assert.True(t, found)
	})

	t.Run("absent", func(t *testing.T) {
		dir := newFakeDirectory(&UserRecord{UID: "u1"})
		svc := NewRoleService(dir, rolePolicy(), zap.NewNop())
		found, err := svc.HasFounder(context.Background())
		require.NoError(t, err)
		assert.False(t, found)
	})
}
