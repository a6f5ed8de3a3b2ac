package apierr

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClip(t *testing.T) {
	assert.Equal(t, "short", Clip("short", 10))
	assert.Equal(t, "exact", Clip("exact", 5))
	assert.Equal(t, "abc...", Clip("abcdef", 3))
	assert.Equal(t, "", Clip("", 5))
}

func TestNewClipsDetail(t *testing.T) {
	long := strings.Repeat("x", 5000)
	err := BadRequest(CodeInvalidRequest, "%s", long)
	assert.Equal(t, 400, err.Status)
	assert.Equal(t, CodeInvalidRequest, err.Code)
	assert.LessOrEqual(t, len(err.Detail), 1203, "detail is bounded plus the ellipsis marker")
}

func TestWithMeta(t *testing.T) {
	err := Forbidden(CodeRoleForbidden, "no").
		WithMeta("allowed_tables", []string{"a", "b"}).
		WithMeta("hint", "use a listed table")
	assert.Equal(t, []string{"a", "b"}, err.Meta["allowed_tables"])
	assert.Equal(t, "use a listed table", err.Meta["hint"])
}

func TestErrorString(t *testing.T) {
	err := Unauthorized(CodeAuthRequired, "token missing")
	assert.Equal(t, "auth_required: token missing", err.Error())
}
