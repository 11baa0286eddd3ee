package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractMentions(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected []string
	}{
		{
			name:     "single mention",
			content:  "Hey @Researcher, can you look into this?",
			expected: []string{"Researcher"},
		},
		{
			name:     "mention at start",
			content:  "@Writer please draft the summary",
			expected: []string{"Writer"},
		},
		{
			name:     "multiple mentions in order",
			content:  "@Researcher find sources, then @Writer and @Reviewer take over",
			expected: []string{"Researcher", "Writer", "Reviewer"},
		},
		{
			name:     "case-insensitive dedup keeps first form",
			content:  "@Writer then @writer then @WRITER",
			expected: []string{"Writer"},
		},
		{
			name:     "email address is not a mention",
			content:  "reach me at alice@example.com",
			expected: nil,
		},
		{
			name:     "dots and dashes inside a handle",
			content:  "ping @ops-team.eu about it",
			expected: []string{"ops-team.eu"},
		},
		{
			name:     "trailing punctuation excluded",
			content:  "thanks @Writer.",
			expected: []string{"Writer"},
		},
		{
			name:     "handle in parentheses",
			content:  "someone (@Reviewer) should check",
			expected: []string{"Reviewer"},
		},
		{
			name:     "bare at sign",
			content:  "meet @ noon",
			expected: nil,
		},
		{
			name:     "no mentions",
			content:  "just a plain message",
			expected: nil,
		},
		{
			name:     "single character handle",
			content:  "@a go",
			expected: []string{"a"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ExtractMentions(tc.content))
		})
	}
}

func TestResolveAgentTarget(t *testing.T) {
	tests := []struct {
		name          string
		answer        string
		pendingQueue  []string
		sourceSender  string
		expectedID    string
		expectedQueue []string
	}{
		{
			name:          "mentions set target and queue",
			answer:        "@Researcher and @Writer should handle this",
			sourceSender:  "user-1",
			expectedID:    "Researcher",
			expectedQueue: []string{"Writer"},
		},
		{
			name:          "no mentions advances the queue",
			answer:        "Done with my part.",
			pendingQueue:  []string{"Writer", "Reviewer"},
			sourceSender:  "user-1",
			expectedID:    "Writer",
			expectedQueue: []string{"Reviewer"},
		},
		{
			name:          "mentions override a pending queue",
			answer:        "Actually @Reviewer should see this first",
			pendingQueue:  []string{"Writer"},
			sourceSender:  "user-1",
			expectedID:    "Reviewer",
			expectedQueue: []string{},
		},
		{
			name:         "nothing left replies to the source sender",
			answer:       "Here is the final report.",
			sourceSender: "user-1",
			expectedID:   "user-1",
		},
		{
			name:   "no mentions, no queue, no source ends the chain",
			answer: "All done.",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			id, queue := ResolveAgentTarget(tc.answer, tc.pendingQueue, tc.sourceSender)
			assert.Equal(t, tc.expectedID, id)
			assert.Equal(t, tc.expectedQueue, queue)
		})
	}
}

func TestStripSelfPrefix(t *testing.T) {
	tests := []struct {
		name     string
		answer   string
		agent    string
		expected string
	}{
		{
			name:     "bracket prefix",
			answer:   "[Writer]: here is the draft",
			agent:    "Writer",
			expected: "here is the draft",
		},
		{
			name:     "bracket prefix case-insensitive",
			answer:   "[writer]: here is the draft",
			agent:    "Writer",
			expected: "here is the draft",
		},
		{
			name:     "at prefix with colon",
			answer:   "@Writer: here is the draft",
			agent:    "Writer",
			expected: "here is the draft",
		},
		{
			name:     "at prefix with space",
			answer:   "@Writer here is the draft",
			agent:    "Writer",
			expected: "here is the draft",
		},
		{
			name:     "longer handle stays intact",
			answer:   "@WriterPro should review this",
			agent:    "Writer",
			expected: "@WriterPro should review this",
		},
		{
			name:     "mention of another agent stays",
			answer:   "@Reviewer take a look",
			agent:    "Writer",
			expected: "@Reviewer take a look",
		},
		{
			name:     "no prefix unchanged",
			answer:   "plain answer",
			agent:    "Writer",
			expected: "plain answer",
		},
		{
			name:     "whitespace trimmed",
			answer:   "  spaced out  ",
			agent:    "Writer",
			expected: "spaced out",
		},
		{
			name:     "only the prefix leaves nothing",
			answer:   "@Writer",
			agent:    "Writer",
			expected: "",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, StripSelfPrefix(tc.answer, tc.agent))
		})
	}
}
