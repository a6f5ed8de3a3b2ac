// Package policy holds the static role, endpoint and table access
// tables. All lookups are pure; the tables are built once at process
// start and read-only thereafter.
package policy

import (
	"sort"
	"strings"
)

// Role is one of a closed set of operator privilege levels.
type Role string

const (
	RoleFounder  Role = "founder"
	RoleCounsel  Role = "counsel"
	RoleEngineer Role = "engineer"
)

// Custom-claim keys written to the identity provider.
const (
	ClaimRole      = "maroon_role"
	ClaimRoles     = "maroon_roles"
	ClaimUpdatedAt = "maroon_role_updated_at"
)

// Endpoint policy keys.
const (
	EndpointCommandCenterSnapshot = "command_center_snapshot"
	EndpointWarehouseRead         = "warehouse_read"
	EndpointAssistantQuery        = "assistant_query"
	EndpointModelGenerate         = "model_generate"
	EndpointVectorUpsert          = "vector_upsert"
	EndpointVectorSearch          = "vector_search"
	EndpointOperatorProfile       = "operator_profile"
	EndpointSetOperatorRole       = "set_operator_role"
)

// ValidRole reports whether value names a role in the closed set.
func ValidRole(value string) bool {
	switch Role(strings.ToLower(strings.TrimSpace(value))) {
	case RoleFounder, RoleCounsel, RoleEngineer:
		return true
	}
	return false
}

// NormalizeRole lowercases and validates a role value, returning
// fallback for anything outside the closed set.
func NormalizeRole(value string, fallback Role) Role {
	candidate := Role(strings.ToLower(strings.TrimSpace(value)))
	switch candidate {
	case RoleFounder, RoleCounsel, RoleEngineer:
		return candidate
	}
	return fallback
}

// ExtractRoles derives the operator's role list from decoded custom
// claims. Unrecognized values are discarded; the primary-claim role is
// appended if missing; an empty result falls back to defaultRole.
func ExtractRoles(claims map[string]any, defaultRole Role) []Role {
	var roles []Role
	if raw, ok := claims[ClaimRoles].([]any); ok {
		for _, entry := range raw {
			if s, ok := entry.(string); ok {
				if r := NormalizeRole(s, ""); r != "" {
					roles = append(roles, r)
				}
			}
		}
	}
	primary := primaryClaimRole(claims)
	if primary != "" && !containsRole(roles, primary) {
		roles = append(roles, primary)
	}
	if len(roles) == 0 {
		roles = append(roles, defaultRole)
	}
	return roles
}

// PrimaryRole picks the operator's primary role: the explicit primary
// claim when recognized, else the first derived role.
func PrimaryRole(claims map[string]any, defaultRole Role) Role {
	if primary := primaryClaimRole(claims); primary != "" {
		return primary
	}
	roles := ExtractRoles(claims, defaultRole)
	return roles[0]
}

func primaryClaimRole(claims map[string]any) Role {
	for _, key := range []string{ClaimRole, "role"} {
		if s, ok := claims[key].(string); ok {
			if r := NormalizeRole(s, ""); r != "" {
				return r
			}
		}
	}
	return ""
}

func containsRole(roles []Role, r Role) bool {
	for _, have := range roles {
		if have == r {
			return true
		}
	}
	return false
}

// Policy is the process-wide access table set.
type Policy struct {
	defaultRole    Role
	tableAllowlist map[string]struct{}
	roleTables     map[Role]map[string]struct{}
	endpointRoles  map[string]map[Role]struct{}
}

// counsel holds the strict subset of warehouse tables readable by the
// counsel role. Founder and engineer read the full allowlist.
var counselTables = []string{
	"executive_data_plane_overview",
	"maroon_complete_picture_runs",
	"maroon_counsel_ip_queue",
	"maroon_asset_ownership_registry",
}

// New builds the policy tables from the configured table allowlist and
// default role.
func New(tableAllowlist []string, defaultRole string) *Policy {
	allow := make(map[string]struct{}, len(tableAllowlist))
	for _, t := range tableAllowlist {
		allow[t] = struct{}{}
	}

	full := make(map[string]struct{}, len(allow))
	for t := range allow {
		full[t] = struct{}{}
	}
	counsel := make(map[string]struct{}, len(counselTables))
	for _, t := range counselTables {
		counsel[t] = struct{}{}
	}

	p := &Policy{
		defaultRole:    NormalizeRole(defaultRole, RoleEngineer),
		tableAllowlist: allow,
		roleTables: map[Role]map[string]struct{}{
			RoleFounder:  full,
			RoleCounsel:  counsel,
			RoleEngineer: full,
		},
		endpointRoles: map[string]map[Role]struct{}{
			EndpointCommandCenterSnapshot: anyRole(),
			EndpointWarehouseRead:         anyRole(),
			EndpointAssistantQuery:        anyRole(),
			EndpointModelGenerate:         anyRole(),
			EndpointVectorUpsert:          anyRole(),
			EndpointVectorSearch:          anyRole(),
			EndpointOperatorProfile:       anyRole(),
			EndpointSetOperatorRole:       {RoleFounder: {}},
		},
	}
	return p
}

func anyRole() map[Role]struct{} {
	return map[Role]struct{}{RoleFounder: {}, RoleCounsel: {}, RoleEngineer: {}}
}

// DefaultRole returns the configured fallback role.
func (p *Policy) DefaultRole() Role { return p.defaultRole }

// IsEndpointAllowed reports whether role may call the named endpoint.
// An endpoint with no configured role set is open to any resolved
// operator.
func (p *Policy) IsEndpointAllowed(role Role, endpoint string) bool {
	allowed, ok := p.endpointRoles[endpoint]
	if !ok || len(allowed) == 0 {
		return true
	}
	_, ok = allowed[NormalizeRole(string(role), p.defaultRole)]
	return ok
}

// EndpointRoles returns the sorted role names allowed for endpoint.
func (p *Policy) EndpointRoles(endpoint string) []string {
	allowed := p.endpointRoles[endpoint]
	out := make([]string, 0, len(allowed))
	for r := range allowed {
		out = append(out, string(r))
	}
	sort.Strings(out)
	return out
}

// IsTableAllowlisted reports whether the table exists in the global
// allowlist, independent of role.
func (p *Policy) IsTableAllowlisted(table string) bool {
	_, ok := p.tableAllowlist[table]
	return ok
}

// IsTableAllowed reports whether role may read table. The role set is
// a strict subset filter over the global allowlist: both must admit
// the table.
func (p *Policy) IsTableAllowed(role Role, table string) bool {
	if !p.IsTableAllowlisted(table) {
		return false
	}
	tables, ok := p.roleTables[NormalizeRole(string(role), p.defaultRole)]
	if !ok {
		return false
	}
	_, ok = tables[table]
	return ok
}

// AllowedTables returns the sorted tables readable by role, for error
// self-correction hints.
func (p *Policy) AllowedTables(role Role) []string {
	tables := p.roleTables[NormalizeRole(string(role), p.defaultRole)]
	out := make([]string, 0, len(tables))
	for t := range tables {
		if p.IsTableAllowlisted(t) {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

// AllowlistedTables returns the sorted global allowlist.
func (p *Policy) AllowlistedTables() []string {
	out := make([]string, 0, len(p.tableAllowlist))
	for t := range p.tableAllowlist {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// AllowlistSize returns the number of allowlisted tables.
func (p *Policy) AllowlistSize() int { return len(p.tableAllowlist) }
