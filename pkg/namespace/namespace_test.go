package namespace

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name     string
		prefix   string
		scope    Scope
		id       string
		expected string
	}{
		{
			name:     "with prefix",
			prefix:   "acme",
			scope:    ScopeThread,
			id:       "thread-42",
			expected: "acme:thread:thread-42",
		},
		{
			name:     "empty prefix drops leading colon",
			prefix:   "",
			scope:    ScopeThread,
			id:       "thread-42",
			expected: "thread:thread-42",
		},
		{
			name:     "agent scope",
			prefix:   "tenant-a",
			scope:    ScopeAgent,
			id:       "researcher",
			expected: "tenant-a:agent:researcher",
		},
		{
			name:     "global scope with empty prefix",
			prefix:   "",
			scope:    ScopeGlobal,
			id:       "shared",
			expected: "global:shared",
		},
		{
			name:     "empty id drops trailing colon",
			prefix:   "acme",
			scope:    ScopeGlobal,
			id:       "",
			expected: "acme:global",
		},
		{
			name:     "empty prefix and id",
			prefix:   "",
			scope:    ScopeGlobal,
			id:       "",
			expected: "global",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Resolve(tc.prefix, tc.scope, tc.id))
		})
	}
}

func TestScopeValid(t *testing.T) {
	assert.True(t, ScopeThread.Valid())
	assert.True(t, ScopeAgent.Valid())
	assert.True(t, ScopeGlobal.Valid())
	assert.False(t, Scope("tenant").Valid())
	assert.False(t, Scope("").Valid())
}
