// Package namespace resolves the effective namespace string that scopes
// events, nodes, chunks, and documents created during a run.
package namespace

import "strings"

// Scope selects what a namespace is keyed by.
type Scope string

// Scope constants.
const (
	ScopeThread Scope = "thread"
	ScopeAgent  Scope = "agent"
	ScopeGlobal Scope = "global"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	switch s {
	case ScopeThread, ScopeAgent, ScopeGlobal:
		return true
	}
	return false
}

// Resolve builds the effective namespace "{prefix}:{scope}:{id}". An empty
// prefix drops the leading colon, yielding "{scope}:{id}"; an empty id drops
// the trailing colon, so the global scope resolves to "{prefix}:global".
func Resolve(prefix string, scope Scope, id string) string {
	ns := prefix + ":" + string(scope) + ":" + id
	return strings.TrimSuffix(strings.TrimPrefix(ns, ":"), ":")
}
