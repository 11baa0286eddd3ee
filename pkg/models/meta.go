package models

import "encoding/json"

// Well-known metadata keys. Everything else under Meta is opaque to the
// runtime and round-trips through the jsonb column untouched.
const (
	MetaTargetID     = "targetId"
	MetaTargetQueue  = "targetQueue"
	MetaBatch        = "batch"
	MetaAgentID      = "agentId"
	MetaError        = "error"
	MetaErrorKind    = "errorKind"
	MetaSourceEvent  = "sourceEventId"
	MetaSourceSender = "sourceSenderId"
	MetaDedupeKey    = "dedupeKey"
)

// Meta is an open string-keyed metadata map stored as jsonb.
type Meta map[string]any

// Clone returns a shallow copy, never nil.
func (m Meta) Clone() Meta {
	out := make(Meta, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// String returns the value under key if it is a string.
func (m Meta) String(key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// StringSlice returns the value under key as a string slice. It accepts both
// []string (in-process) and []any of strings (after a jsonb round trip).
func (m Meta) StringSlice(key string) []string {
	if m == nil {
		return nil
	}
	switch v := m[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// BatchMeta tracks explicit tool-batch completion on tool-result events.
// Completed is recomputed from persisted tool-result rows, not trusted from
// the stored value.
type BatchMeta struct {
	ID        string `json:"id"`
	Size      int    `json:"size"`
	Completed int    `json:"completed"`
}

// Batch decodes the batch metadata, reporting false when absent.
func (m Meta) Batch() (BatchMeta, bool) {
	if m == nil {
		return BatchMeta{}, false
	}
	raw, ok := m[MetaBatch]
	if !ok {
		return BatchMeta{}, false
	}
	// In-process the value is a BatchMeta; after a jsonb round trip it is a map.
	if b, ok := raw.(BatchMeta); ok {
		return b, true
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return BatchMeta{}, false
	}
	var b BatchMeta
	if err := json.Unmarshal(buf, &b); err != nil || b.ID == "" {
		return BatchMeta{}, false
	}
	return b, true
}
