package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allanpk716/docmerge/pkg/docx"
)

func TestNewFieldMatcher(t *testing.T) {
	assert.NotNil(t, NewFieldMatcher())
	assert.NotNil(t, NewFieldMatcherWithDelimiters(docx.Delimiters{}))
}

func TestFieldMatcher_FindMatches(t *testing.T) {
	names := []string{"name", "age", "company"}
	matcher := NewFieldMatcher()

	tests := []struct {
		name     string
		text     string
		expected int
	}{
		{name: "single match", text: "Hello {{name}}, welcome!", expected: 1},
		{name: "multiple matches", text: "{{name}} is {{age}} years old and works at {{company}}", expected: 3},
		{name: "no matches", text: "This is a normal text without fields", expected: 0},
		{name: "duplicate matches", text: "{{name}} and {{ name }} again", expected: 2},
		{name: "partial matches", text: "{name} and name}} are not valid", expected: 0},
		{name: "section tags", text: "{{#company}}x{{/company}}{{^age}}y{{/age}}", expected: 2},
		{name: "unknown field", text: "{{other}}", expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matches := matcher.FindMatches(tt.text, names)
			assert.Len(t, matches, tt.expected)
		})
	}
}

func TestFieldMatcher_Positions(t *testing.T) {
	text := "a {{ b }} c {{#d}}"
	matches := NewFieldMatcher().FindMatches(text, nil)
	require.Len(t, matches, 2)

	assert.Equal(t, "b", matches[0].Name)
	assert.Equal(t, "{{ b }}", matches[0].Marker)
	assert.Equal(t, "{{ b }}", text[matches[0].StartPos:matches[0].EndPos])
	assert.Equal(t, "d", matches[1].Name)
	assert.Less(t, matches[0].StartPos, matches[1].StartPos)
}

func TestFieldMatcher_CountOccurrences(t *testing.T) {
	stats := NewFieldMatcher().CountOccurrences("{{a}} {{b}} {{a}}", []string{"a", "b", " c "})
	assert.Equal(t, map[string]int{"a": 2, "b": 1, "c": 0}, stats)
}

func TestFieldMatcher_CustomDelimiters(t *testing.T) {
	matcher := NewFieldMatcherWithDelimiters(docx.Delimiters{Open: "[[", Close: "]]"})
	stats := matcher.CountOccurrences("[[a]] {{a}} [[ a ]]", []string{"a"})
	assert.Equal(t, 2, stats["a"])
}

func TestValidateFieldName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{name: "name", valid: true},
		{name: " 客户名称 ", valid: true},
		{name: "", valid: false},
		{name: "   ", valid: false},
		{name: "#items", valid: false},
		{name: "/items", valid: false},
		{name: "a}}b", valid: false},
		{name: "{{a", valid: false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.valid, ValidateFieldName(tt.name), "name=%q", tt.name)
	}
}

func TestFormatMarker(t *testing.T) {
	assert.Equal(t, "{{name}}", FormatMarker(" name "))
}

func BenchmarkFieldMatcher_FindMatches(b *testing.B) {
	names := []string{"name", "age", "city"}
	matcher := NewFieldMatcher()
	text := "Hello {{name}}, you are {{age}} years old and live in {{city}}. {{name}} is a great person!"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		matcher.FindMatches(text, names)
	}
}
