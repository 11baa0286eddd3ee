package processor

import (
	"regexp"
	"strings"
)

// mentionRe finds @handles. The boundary group stands in for a
// no-word-char-before lookbehind, which RE2 does not support: a handle
// starts at the beginning of the text or after a non-word character, so
// "user@example.com" yields no mention. Handles are word characters with
// dots and dashes inside, never at the edge.
var mentionRe = regexp.MustCompile(`(?:^|\W)@(\w(?:[\w.-]*\w)?)`)

// ExtractMentions returns the @handles in order of appearance, deduplicated
// case-insensitively on first occurrence.
func ExtractMentions(content string) []string {
	matches := mentionRe.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		key := strings.ToLower(m[1])
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, m[1])
	}
	return out
}

// ResolveAgentTarget computes the routing for an agent's reply: the first
// mention becomes the target and the rest queue up behind it. With no
// mentions the pending queue advances by one; with nothing queued the reply
// goes back to whoever triggered the call.
func ResolveAgentTarget(answer string, pendingQueue []string, sourceSenderID string) (targetID string, targetQueue []string) {
	if mentions := ExtractMentions(answer); len(mentions) > 0 {
		return mentions[0], mentions[1:]
	}
	if len(pendingQueue) > 0 {
		return pendingQueue[0], pendingQueue[1:]
	}
	return sourceSenderID, nil
}

// StripSelfPrefix removes the model's habit of prefixing its reply with its
// own name, either "[Name]:" or "@Name" followed by a separator.
func StripSelfPrefix(answer, agentName string) string {
	trimmed := strings.TrimSpace(answer)
	if agentName == "" {
		return trimmed
	}
	lower := strings.ToLower(trimmed)
	name := strings.ToLower(agentName)

	if bracket := "[" + name + "]:"; strings.HasPrefix(lower, bracket) {
		return strings.TrimSpace(trimmed[len(bracket):])
	}

	if at := "@" + name; strings.HasPrefix(lower, at) {
		rest := trimmed[len(at):]
		if rest == "" {
			return ""
		}
		// Only strip when a separator follows, so a mention of a longer
		// handle ("@WriterPro" vs agent "Writer") stays intact.
		switch rest[0] {
		case ' ', ',', ':':
			return strings.TrimSpace(strings.TrimLeft(rest, " ,:"))
		}
	}
	return trimmed
}
