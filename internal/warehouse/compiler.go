// Package warehouse compiles declarative read requests into
// parameterized analytical queries and runs them with a hard
// bytes-billed ceiling.
package warehouse

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/maroonops/signal-console/internal/apierr"
	"github.com/maroonops/signal-console/internal/policy"
)

const (
	maxFilters       = 10
	maxArrayValues   = 100
	minLimit         = 1
	maxLimit         = 200
	defaultLimit     = 25
	limitParamName   = "limit"
	filterParamStem  = "f"
	previewValueSize = 80
)

var (
	identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	projectIDRe  = regexp.MustCompile(`^[a-z][a-z0-9-]{4,62}$`)
)

// scalarOps maps comparison operators to their SQL form. Values are
// always bound as named parameters, never interpolated.
var scalarOps = map[string]string{
	"eq":  "=",
	"neq": "!=",
	"gt":  ">",
	"gte": ">=",
	"lt":  "<",
	"lte": "<=",
}

// Filter is one client-supplied predicate.
type Filter struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value"`
}

// Request is a declarative read over one allowlisted table.
type Request struct {
	Table    string   `json:"table"`
	Fields   []string `json:"fields"`
	Filters  []Filter `json:"filters"`
	OrderBy  string   `json:"order_by"`
	OrderDir string   `json:"order_dir"`
	Limit    int      `json:"limit"`
}

// AppliedFilter echoes a validated predicate back to the caller with
// values clipped to previews.
type AppliedFilter struct {
	Field        string `json:"field"`
	Op           string `json:"op"`
	ValueCount   int    `json:"value_count,omitempty"`
	ValuePreview string `json:"value_preview,omitempty"`
}

// Compiled is a parameterized query plus its bound values. No
// user-controlled string appears inside SQL; only identifiers that
// passed the closed-set grammar check do.
type Compiled struct {
	SQL            string
	Params         map[string]any
	Limit          int
	AppliedFilters []AppliedFilter
}

// Compiler validates requests against the policy tables and emits
// parameterized SQL for one fixed project and dataset.
type Compiler struct {
	project string
	dataset string
	policy  *policy.Policy
}

func NewCompiler(project, dataset string, pol *policy.Policy) (*Compiler, error) {
	if !projectIDRe.MatchString(project) {
		return nil, fmt.Errorf("invalid warehouse project id: %q", project)
	}
	if !identifierRe.MatchString(dataset) {
		return nil, fmt.Errorf("invalid warehouse dataset: %q", dataset)
	}
	return &Compiler{project: project, dataset: dataset, policy: pol}, nil
}

// ValidIdentifier reports whether value matches the identifier grammar.
func ValidIdentifier(value string) bool {
	return identifierRe.MatchString(value)
}

func sanitizeIdentifier(value string) (string, *apierr.Error) {
	candidate := strings.TrimSpace(value)
	if !identifierRe.MatchString(candidate) {
		return "", apierr.BadRequest(apierr.CodeInvalidIdentifier, "invalid identifier: %s", candidate)
	}
	return candidate, nil
}

// QualifiedTable returns the fully qualified, backtick-quoted table
// reference after allowlist validation.
func (c *Compiler) QualifiedTable(table string) (string, *apierr.Error) {
	normalized, aerr := sanitizeIdentifier(table)
	if aerr != nil {
		return "", aerr
	}
	if !c.policy.IsTableAllowlisted(normalized) {
		return "", apierr.BadRequest(apierr.CodeTableNotAllowlisted, "table not allowlisted: %s", normalized).
			WithMeta("allowed_tables", c.policy.AllowlistedTables())
	}
	return fmt.Sprintf("`%s.%s.%s`", c.project, c.dataset, normalized), nil
}

// Compile validates the whole request and produces the parameterized
// query. Any identifier or filter failure rejects the entire request;
// there is no partial compilation.
func (c *Compiler) Compile(role policy.Role, req Request) (*Compiled, *apierr.Error) {
	table, aerr := sanitizeIdentifier(req.Table)
	if aerr != nil {
		return nil, aerr
	}
	if !c.policy.IsTableAllowlisted(table) {
		return nil, apierr.BadRequest(apierr.CodeTableNotAllowlisted, "table not allowlisted: %s", table).
			WithMeta("allowed_tables", c.policy.AllowlistedTables())
	}
	if !c.policy.IsTableAllowed(role, table) {
		return nil, apierr.Forbidden(apierr.CodeRoleForbidden,
			"role %s cannot read table %s", role, table).
			WithMeta("allowed_tables", c.policy.AllowedTables(role))
	}
	qualified := fmt.Sprintf("`%s.%s.%s`", c.project, c.dataset, table)

	fieldsSQL := "*"
	if len(req.Fields) > 0 {
		quoted := make([]string, 0, len(req.Fields))
		for _, field := range req.Fields {
			name, aerr := sanitizeIdentifier(field)
			if aerr != nil {
				return nil, aerr
			}
			quoted = append(quoted, "`"+name+"`")
		}
		fieldsSQL = strings.Join(quoted, ", ")
	}

	if len(req.Filters) > maxFilters {
		return nil, apierr.BadRequest(apierr.CodeTooManyFilters,
			"too many filters: %d (max %d)", len(req.Filters), maxFilters)
	}

	params := map[string]any{}
	var whereClauses []string
	applied := make([]AppliedFilter, 0, len(req.Filters))

	// Filters combine with AND in input order; duplicates all apply.
	for i, raw := range req.Filters {
		field, aerr := sanitizeIdentifier(raw.Field)
		if aerr != nil {
			return nil, aerr
		}
		op := strings.ToLower(strings.TrimSpace(raw.Op))
		paramName := fmt.Sprintf("%s%d", filterParamStem, i)
		paramRef := "@" + paramName

		switch {
		case op == "is_null" || op == "is_not_null":
			not := ""
			if op == "is_not_null" {
				not = "NOT "
			}
			whereClauses = append(whereClauses, fmt.Sprintf("`%s` IS %sNULL", field, not))
			applied = append(applied, AppliedFilter{Field: field, Op: op})

		case op == "in" || op == "not_in":
			values, ok := raw.Value.([]any)
			if !ok {
				return nil, apierr.BadRequest(apierr.CodeFilterValueMismatch,
					"operator %s requires an array value", op)
			}
			if len(values) == 0 || len(values) > maxArrayValues {
				return nil, apierr.BadRequest(apierr.CodeArrayValueOutOfRange,
					"operator %s requires 1-%d array values, got %d", op, maxArrayValues, len(values))
			}
			for _, v := range values {
				if !isScalarFilterValue(v) {
					return nil, apierr.BadRequest(apierr.CodeFilterValueMismatch,
						"operator %s requires scalar array values", op)
				}
			}
			params[paramName] = values
			not := ""
			if op == "not_in" {
				not = "NOT "
			}
			whereClauses = append(whereClauses,
				fmt.Sprintf("`%s` %sIN UNNEST(%s)", field, not, paramRef))
			applied = append(applied, AppliedFilter{Field: field, Op: op, ValueCount: len(values)})

		case op == "contains":
			s, ok := raw.Value.(string)
			if !ok || s == "" {
				return nil, apierr.BadRequest(apierr.CodeFilterValueMismatch,
					"operator contains requires a non-empty string value")
			}
			params[paramName] = s
			whereClauses = append(whereClauses,
				fmt.Sprintf("CONTAINS_SUBSTR(CAST(`%s` AS STRING), %s)", field, paramRef))
			applied = append(applied, AppliedFilter{
				Field: field, Op: op, ValuePreview: apierr.Clip(s, previewValueSize),
			})

		default:
			opSQL, ok := scalarOps[op]
			if !ok {
				return nil, apierr.BadRequest(apierr.CodeUnsupportedFilterOp,
					"unsupported filter operator: %s", op)
			}
			if !isScalarFilterValue(raw.Value) {
				return nil, apierr.BadRequest(apierr.CodeFilterValueMismatch,
					"operator %s requires a scalar value", op)
			}
			params[paramName] = raw.Value
			whereClauses = append(whereClauses,
				fmt.Sprintf("`%s` %s %s", field, opSQL, paramRef))
			applied = append(applied, AppliedFilter{
				Field: field, Op: op,
				ValuePreview: apierr.Clip(fmt.Sprintf("%v", raw.Value), previewValueSize),
			})
		}
	}

	orderSQL := ""
	if strings.TrimSpace(req.OrderBy) != "" {
		orderField, aerr := sanitizeIdentifier(req.OrderBy)
		if aerr != nil {
			return nil, aerr
		}
		dir := "DESC"
		if strings.EqualFold(strings.TrimSpace(req.OrderDir), "ASC") {
			dir = "ASC"
		}
		orderSQL = fmt.Sprintf(" ORDER BY `%s` %s", orderField, dir)
	}

	limit := req.Limit
	if limit == 0 {
		limit = defaultLimit
	}
	limit = clampInt(limit, minLimit, maxLimit)
	params[limitParamName] = limit

	whereSQL := ""
	if len(whereClauses) > 0 {
		whereSQL = " WHERE " + strings.Join(whereClauses, " AND ")
	}

	return &Compiled{
		SQL: fmt.Sprintf("SELECT %s FROM %s%s%s LIMIT @%s",
			fieldsSQL, qualified, whereSQL, orderSQL, limitParamName),
		Params:         params,
		Limit:          limit,
		AppliedFilters: applied,
	}, nil
}

func isScalarFilterValue(v any) bool {
	switch v.(type) {
	case string, bool, float64, float32, int, int32, int64:
		return true
	}
	return false
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
