package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitCamelCase_HandlesAcronyms(t *testing.T) {
	assert.Equal(t, []string{"HTTP", "Handler"}, SplitCamelCase("HTTPHandler"))
	assert.Equal(t, []string{"parse", "HTTP", "Request"}, SplitCamelCase("parseHTTPRequest"))
	assert.Equal(t, []string{"get", "User", "By", "Id"}, SplitCamelCase("getUserById"))
}

func TestTokenizeCode_SplitsSnakeAndCamel(t *testing.T) {
	tokens := TokenizeCode("get_user_by_id parseHTTPRequest")
	assert.Contains(t, tokens, "get")
	assert.Contains(t, tokens, "user")
	assert.Contains(t, tokens, "http")
	assert.Contains(t, tokens, "request")
}

func TestNormalize_StripsFTSSpecialChars(t *testing.T) {
	out := normalize(`func (s *Store) Search(query string) *Result`)
	assert.NotContains(t, out, "*")
	assert.NotContains(t, out, "(")
	assert.NotContains(t, out, ")")
}

func TestNormalize_Lowercases(t *testing.T) {
	out := normalize("GetUserByID")
	assert.Equal(t, strings.ToLower(out), out)
}
