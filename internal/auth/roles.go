package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/maroonops/signal-console/internal/apierr"
	"github.com/maroonops/signal-console/internal/policy"
)

// UserRecord is an identity-provider user entry.
type UserRecord struct {
	UID           string
	Email         string
	EmailVerified bool
	CustomClaims  map[string]any
}

// Directory is the admin surface of the identity provider: user
// lookup, custom-claims writes and paginated listing.
type Directory interface {
	GetUser(ctx context.Context, uid string) (*UserRecord, error)
	GetUserByEmail(ctx context.Context, email string) (*UserRecord, error)
	SetCustomClaims(ctx context.Context, uid string, claims map[string]any) error
	// ListUsers returns one page of users plus the next page token, or
	// "" when the listing is exhausted.
	ListUsers(ctx context.Context, pageToken string, pageSize int) ([]*UserRecord, string, error)
}

// Authorization paths for a role assignment.
const (
	ViaBootstrapKey  = "bootstrap_key"
	ViaSelfBootstrap = "self_bootstrap_first_founder"
	ViaFounderClaim  = "founder_claim"
)

// RoleService assigns operator role claims.
type RoleService struct {
	dir    Directory
	policy *policy.Policy
	log    *zap.Logger
	now    func() time.Time
}

func NewRoleService(dir Directory, pol *policy.Policy, log *zap.Logger) *RoleService {
	return &RoleService{dir: dir, policy: pol, log: log, now: time.Now}
}

// AssignRoleRequest targets a user by uid or email. Actor is nil when
// the caller authenticated with the bootstrap key.
type AssignRoleRequest struct {
	Actor        *Operator
	BootstrapKey bool
	UID          string
	Email        string
	Role         string
}

// AssignRoleResult reports the updated user and the authorization path
// that permitted the write.
type AssignRoleResult struct {
	UID           string `json:"uid"`
	Email         string `json:"email"`
	Role          string `json:"role"`
	AuthorizedVia string `json:"authorized_via"`
}

// AssignRole writes the role custom claims for the target user.
// Authorization order: bootstrap key, founder claim, then first-founder
// self-bootstrap (no founder exists yet, the target is the actor, and
// the requested role is founder).
func (s *RoleService) AssignRole(ctx context.Context, req AssignRoleRequest) (*AssignRoleResult, *apierr.Error) {
	role := policy.NormalizeRole(req.Role, "")
	if role == "" {
		return nil, apierr.BadRequest(apierr.CodeInvalidRole,
			"role must be one of founder, counsel, engineer")
	}
	uid := strings.TrimSpace(req.UID)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if uid == "" && email == "" {
		return nil, apierr.BadRequest(apierr.CodeMissingTarget, "Provide uid or email.")
	}

	via := ViaBootstrapKey
	if !req.BootstrapKey {
		if req.Actor == nil {
			return nil, apierr.Unauthorized(apierr.CodeAuthRequired, "Operator identity is required.")
		}
		switch {
		case s.policy.IsEndpointAllowed(req.Actor.Role, policy.EndpointSetOperatorRole):
			via = ViaFounderClaim
		default:
			founderExists, err := s.HasFounder(ctx)
			if err != nil {
				return nil, apierr.Internal("founder lookup failed")
			}
			targetIsActor := (uid != "" && uid == req.Actor.UID) ||
				(uid == "" && email != "" && email == req.Actor.Email)
			if founderExists || !targetIsActor || role != policy.RoleFounder {
				return nil, apierr.Forbidden(apierr.CodeRoleNotAllowed,
					"Role %s is not allowed for %s.", req.Actor.Role, policy.EndpointSetOperatorRole).
					WithMeta("allowed_roles", s.policy.EndpointRoles(policy.EndpointSetOperatorRole))
			}
			via = ViaSelfBootstrap
		}
	}

	var (
		record *UserRecord
		err    error
	)
	if uid != "" {
		record, err = s.dir.GetUser(ctx, uid)
	} else {
		record, err = s.dir.GetUserByEmail(ctx, email)
	}
	if err != nil {
		s.log.Warn("role_target_lookup_failed", zap.String("uid", uid), zap.Error(err))
		return nil, apierr.New(http.StatusNotFound, apierr.CodeMissingTarget, "Target user not found.")
	}

	next := make(map[string]any, len(record.CustomClaims)+3)
	for k, v := range record.CustomClaims {
		next[k] = v
	}
	next[policy.ClaimRole] = string(role)
	next[policy.ClaimRoles] = []string{string(role)}
	next[policy.ClaimUpdatedAt] = s.now().UTC().Format(time.RFC3339)

	if err := s.dir.SetCustomClaims(ctx, record.UID, next); err != nil {
		s.log.Error("set_custom_claims_failed", zap.String("uid", record.UID), zap.Error(err))
		return nil, apierr.Internal("failed to update role claims")
	}

	return &AssignRoleResult{
		UID:           record.UID,
		Email:         record.Email,
		Role:          string(role),
		AuthorizedVia: via,
	}, nil
}

// HasFounder reports whether any user currently carries the founder
// role claim. The listing is capped at ten pages of one thousand.
func (s *RoleService) HasFounder(ctx context.Context) (bool, error) {
	pageToken := ""
	for i := 0; i < 10; i++ {
		users, next, err := s.dir.ListUsers(ctx, pageToken, 1000)
		if err != nil {
			return false, err
		}
		for _, user := range users {
			if userHasFounderClaim(user.CustomClaims) {
				return true, nil
			}
		}
		if next == "" {
			return false, nil
		}
		pageToken = next
	}
	return false, nil
}

func userHasFounderClaim(claims map[string]any) bool {
	if policy.PrimaryRole(claims, "") == policy.RoleFounder {
		return true
	}
	for _, r := range policy.ExtractRoles(claims, "") {
		if r == policy.RoleFounder {
			return true
		}
	}
	return false
}
