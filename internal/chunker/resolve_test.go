package chunker

import (
	"testing"

	"github.com/fyerfyer/contract-qa/internal/layout"
	"github.com/stretchr/testify/assert"
)

// TestResolve 测试引用解析
func TestResolve(t *testing.T) {
	doc := &layout.Document{
		Paragraphs: []layout.Paragraph{{Content: "A"}, {Content: "B"}, {Content: "C"}},
		Tables:     []layout.Table{{RowCount: 1}},
		Sections:   []layout.Section{{Elements: []string{"/paragraphs/0"}}},
	}

	t.Run("leading separator", func(t *testing.T) {
		ref := Resolve("/paragraphs/1", doc)
		assert.Equal(t, RefParagraph, ref.Kind)
		assert.Equal(t, "B", ref.Paragraph.Content)
		assert.Equal(t, 1, ref.Index)
	})

	t.Run("without separator", func(t *testing.T) {
		ref := Resolve("paragraphs/2", doc)
		assert.True(t, ref.Found())
		assert.Equal(t, "C", ref.Paragraph.Content)
	})

	t.Run("table and section", func(t *testing.T) {
		assert.Equal(t, RefTable, Resolve("/tables/0", doc).Kind)
		assert.Equal(t, RefSection, Resolve("/sections/0", doc).Kind)
	})

	t.Run("not found", func(t *testing.T) {
		cases := []string{
			"paragraphs/9",
			"bad-format",
			"paragraphs/1/2",
			"paragraphs/x",
			"paragraphs/-1",
			"paragraphs/",
			"figures/0",
			"",
			"/",
		}
		for _, ref := range cases {
			assert.Equal(t, RefNotFound, Resolve(ref, doc).Kind, ref)
		}
	})

	t.Run("scopes", func(t *testing.T) {
		assert.Equal(t, RefNotFound, Resolve("/tables/0", doc, layout.CollectionParagraphs).Kind)
		assert.Equal(t, RefParagraph, Resolve("/paragraphs/0", doc, layout.CollectionParagraphs).Kind)
	})

	t.Run("nil document", func(t *testing.T) {
		assert.False(t, Resolve("/paragraphs/0", nil).Found())
	})
}
