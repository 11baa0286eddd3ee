package rag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEntities(t *testing.T) {
	t.Run("plain json", func(t *testing.T) {
		specs := parseEntities(`{"entities":[{"name":"Ada","type":"person","description":"a mathematician"}]}`, nil)
		require.Len(t, specs, 1)
		assert.Equal(t, "Ada", specs[0].Name)
		assert.Equal(t, "person", specs[0].Type)
	})

	t.Run("fenced json", func(t *testing.T) {
		raw := "```json\n{\"entities\":[{\"name\":\"Weft\",\"type\":\"project\"}]}\n```"
		specs := parseEntities(raw, nil)
		require.Len(t, specs, 1)
		assert.Equal(t, "Weft", specs[0].Name)
	})

	t.Run("garbage yields zero entities", func(t *testing.T) {
		assert.Nil(t, parseEntities("I found Ada and Weft in the text.", nil))
		assert.Nil(t, parseEntities("", nil))
		assert.Nil(t, parseEntities(`{"entities": "not a list"}`, nil))
	})

	t.Run("empty names dropped", func(t *testing.T) {
		specs := parseEntities(`{"entities":[{"name":"  ","type":"person"},{"name":"Ok","type":"person"}]}`, nil)
		require.Len(t, specs, 1)
		assert.Equal(t, "Ok", specs[0].Name)
	})

	t.Run("type filter", func(t *testing.T) {
		raw := `{"entities":[{"name":"Ada","type":"person"},{"name":"Lisp","type":"language"}]}`
		specs := parseEntities(raw, []string{"person"})
		require.Len(t, specs, 1)
		assert.Equal(t, "Ada", specs[0].Name)
	})

	t.Run("missing type defaults to entity", func(t *testing.T) {
		specs := parseEntities(`{"entities":[{"name":"Thing"}]}`, nil)
		require.Len(t, specs, 1)
		assert.Equal(t, "entity", specs[0].Type)
	})
}

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no fence", `{"a":1}`, `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"language tag", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"fence with json on first line", "```{\"a\":1}\n```", `{"a":1}`},
		{"surrounding whitespace", "  ```json\n{\"a\":1}\n```  ", `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stripCodeFence(tt.in))
		})
	}
}

func TestEntitySpecEmbedText(t *testing.T) {
	assert.Equal(t, "Ada", entitySpec{Name: "Ada"}.embedText())
	assert.Equal(t, "Ada: a mathematician",
		entitySpec{Name: "Ada", Description: "a mathematician"}.embedText())
}

func TestBuildExtractionPrompt(t *testing.T) {
	p := buildExtractionPrompt("some text", nil)
	assert.Contains(t, p, "some text")
	assert.NotContains(t, p, "one of:")

	p = buildExtractionPrompt("some text", []string{"person", "project"})
	assert.Contains(t, p, "one of: person, project")
}
