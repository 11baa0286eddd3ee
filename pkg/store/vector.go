package store

import (
	"strconv"
	"strings"
)

// encodeVector converts []float32 to pgvector's text input format,
// e.g. "[0.1,0.2,0.3]". A nil or empty slice encodes as SQL NULL via
// the *string return.
func encodeVector(v []float32) *string {
	if len(v) == 0 {
		return nil
	}
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.FormatFloat(float64(f), 'f', -1, 32)
	}
	s := "[" + strings.Join(parts, ",") + "]"
	return &s
}

// decodeVector parses pgvector's text output format back into []float32.
// A nil input (SQL NULL) decodes to nil.
func decodeVector(s *string) []float32 {
	if s == nil {
		return nil
	}
	trimmed := strings.Trim(*s, "[]")
	if trimmed == "" {
		return nil
	}
	parts := strings.Split(trimmed, ",")
	out := make([]float32, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil
		}
		out = append(out, float32(f))
	}
	return out
}
