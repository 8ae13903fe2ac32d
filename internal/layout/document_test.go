package layout

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParse 测试版面JSON解析
func TestParse(t *testing.T) {
	t.Run("bare analyze result", func(t *testing.T) {
		input := `{
			"paragraphs": [
				{"content": "Master Services Agreement", "role": "title", "boundingRegions": [{"pageNumber": 1}]},
				{"content": "Body text", "boundingRegions": [{"pageNumber": 2}]}
			],
			"tables": [
				{"rowCount": 1, "columnCount": 1, "cells": [{"rowIndex": 0, "columnIndex": 0, "kind": "columnHeader", "elements": ["/paragraphs/1"]}]}
			],
			"sections": [{"elements": ["/paragraphs/0", "/tables/0"]}],
			"pages": [{}, {}]
		}`

		doc, err := Parse(strings.NewReader(input))
		require.NoError(t, err)
		assert.Len(t, doc.Paragraphs, 2)
		assert.Equal(t, RoleTitle, doc.Paragraphs[0].Role)
		assert.Equal(t, 2, doc.Paragraphs[1].BoundingRegions[0].PageNumber)
		require.Len(t, doc.Tables, 1)
		assert.True(t, doc.Tables[0].Cells[0].IsHeader())
		assert.Equal(t, []string{"/paragraphs/0", "/tables/0"}, doc.Sections[0].Elements)
		assert.Equal(t, 2, doc.PageCount)
	})

	t.Run("operation envelope", func(t *testing.T) {
		input := `{"status": "succeeded", "analyzeResult": {"paragraphs": [{"content": "x"}]}}`
		doc, err := Parse(strings.NewReader(input))
		require.NoError(t, err)
		assert.Len(t, doc.Paragraphs, 1)
		assert.Empty(t, doc.Tables)
		assert.Empty(t, doc.Sections)
	})

	t.Run("missing keys become empty", func(t *testing.T) {
		doc, err := Parse(strings.NewReader(`{}`))
		require.NoError(t, err)
		assert.NotNil(t, doc.Paragraphs)
		assert.NotNil(t, doc.Tables)
		assert.NotNil(t, doc.Sections)
		assert.True(t, doc.Empty())
	})

	t.Run("malformed keys become empty", func(t *testing.T) {
		doc, err := Parse(strings.NewReader(`{"paragraphs": "oops", "tables": 5, "sections": null}`))
		require.NoError(t, err)
		assert.Empty(t, doc.Paragraphs)
		assert.Empty(t, doc.Tables)
		assert.Empty(t, doc.Sections)
	})

	t.Run("malformed element keeps index", func(t *testing.T) {
		doc, err := Parse(strings.NewReader(`{"paragraphs": [{"content": 12}, {"content": "second"}]}`))
		require.NoError(t, err)
		require.Len(t, doc.Paragraphs, 2)
		assert.Equal(t, "", doc.Paragraphs[0].Content)
		assert.Equal(t, "second", doc.Paragraphs[1].Content)
	})

	t.Run("page count", func(t *testing.T) {
		cases := []struct {
			name  string
			input string
			want  int
		}{
			{"pages array", `{"pages": [{}, {}, {}]}`, 3},
			{"pageCount key", `{"pageCount": 4, "paragraphs": [{"content": "a", "boundingRegions": [{"pageNumber": 1}]}]}`, 4},
			{"bounding regions", `{"paragraphs": [{"content": "a", "boundingRegions": [{"pageNumber": 2}]}],
				"tables": [{"rowCount": 0, "columnCount": 0, "cells": [], "boundingRegions": [{"pageNumber": 5}]}]}`, 5},
			{"no pages at all", `{"paragraphs": [{"content": "a"}]}`, 0},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				doc, err := Parse(strings.NewReader(tc.input))
				require.NoError(t, err)
				assert.Equal(t, tc.want, doc.PageCount)
			})
		}
	})

	t.Run("round trip keeps page count", func(t *testing.T) {
		original := &Document{
			Paragraphs: []Paragraph{{Content: "Rent", BoundingRegions: []BoundingRegion{{PageNumber: 1}}}},
			Tables:     []Table{},
			Sections:   []Section{{Elements: []string{"/paragraphs/0"}}},
			PageCount:  7,
		}
		data, err := json.Marshal(original)
		require.NoError(t, err)

		doc, err := ParseBytes(data)
		require.NoError(t, err)
		assert.Equal(t, 7, doc.PageCount)
		assert.Equal(t, original.Paragraphs, doc.Paragraphs)
	})

	t.Run("not json", func(t *testing.T) {
		_, err := Parse(strings.NewReader(`not json`))
		assert.ErrorIs(t, err, ErrInvalidLayout)
	})
}

// TestPageNumbers 测试页码提取
func TestPageNumbers(t *testing.T) {
	pages := PageNumbers([]BoundingRegion{{PageNumber: 3}, {PageNumber: 1}, {PageNumber: 3}, {PageNumber: 0}})
	assert.Equal(t, []int{1, 3}, pages)
	assert.Empty(t, PageNumbers(nil))
}

// TestDetectContentType 测试文件类型检测
func TestDetectContentType(t *testing.T) {
	assert.Equal(t, PDF, DetectContentType("contract.PDF"))
	assert.Equal(t, Markdown, DetectContentType("notes.md"))
	assert.Equal(t, PlainText, DetectContentType("a.txt"))
	assert.Equal(t, JSON, DetectContentType("layout.json"))
	assert.Equal(t, Unknown, DetectContentType("a.docx"))
}
