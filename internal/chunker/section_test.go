package chunker

import (
	"testing"

	"github.com/fyerfyer/contract-qa/internal/layout"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDocument() *layout.Document {
	return &layout.Document{
		Paragraphs: []layout.Paragraph{
			{Content: "Service Agreement", Role: layout.RoleTitle, BoundingRegions: pageRegion(1)},
			{Content: "  The supplier shall deliver goods.  ", BoundingRegions: pageRegion(1)},
			{Content: "Payment", Role: layout.RoleSectionHeading, BoundingRegions: pageRegion(2)},
			{Content: "Item", BoundingRegions: pageRegion(3)},
			{Content: "Price", BoundingRegions: pageRegion(3)},
		},
		Tables: []layout.Table{
			{Cells: []layout.Cell{
				{RowIndex: 0, ColumnIndex: 0, Kind: layout.CellKindColumnHeader, Elements: []string{"/paragraphs/3"}},
				{RowIndex: 0, ColumnIndex: 1, Kind: layout.CellKindColumnHeader, Elements: []string{"/paragraphs/4"}},
			}},
		},
		Sections: []layout.Section{
			{Elements: []string{"/sections/1", "/sections/2"}},
			{Elements: []string{"/paragraphs/0", "/paragraphs/1"}, BoundingRegions: pageRegion(1)},
			{Elements: []string{"/paragraphs/2", "/tables/0"}, BoundingRegions: pageRegion(2, 4)},
		},
	}
}

// TestProcessSection 测试章节展开
func TestProcessSection(t *testing.T) {
	doc := sampleDocument()

	t.Run("only sections is skipped", func(t *testing.T) {
		ps := ProcessSection(0, doc.Sections[0], doc)
		assert.Equal(t, OnlySections, ps.Classification)
		assert.True(t, ps.Skipped())
		assert.Empty(t, ps.Text)
		assert.Zero(t, ps.Tokens)
		assert.Empty(t, ps.Warnings)
	})

	t.Run("paragraphs with roles", func(t *testing.T) {
		ps := ProcessSection(1, doc.Sections[1], doc)
		assert.Equal(t, OnlyNonSections, ps.Classification)
		assert.Equal(t, "[TITLE] Service Agreement\nThe supplier shall deliver goods.", ps.Text)
		assert.Equal(t, 8, ps.Tokens)
		assert.Equal(t, []string{layout.RoleTitle}, ps.Roles)
		assert.Equal(t, []int{1}, ps.Pages)
	})

	t.Run("paragraph and table", func(t *testing.T) {
		ps := ProcessSection(2, doc.Sections[2], doc)
		assert.Equal(t, "[SECTIONHEADING] Payment\n<table>\n  <tr>\n    <th>Item</th>\n    <th>Price</th>\n  </tr>\n</table>\n", ps.Text)
		assert.Equal(t, []string{layout.RoleSectionHeading}, ps.Roles)
		assert.Equal(t, []int{2, 3, 4}, ps.Pages)
	})

	t.Run("only tables", func(t *testing.T) {
		section := layout.Section{Elements: []string{"table0", "table7"}}
		ps := ProcessSection(5, section, doc)
		assert.Equal(t, OnlyTables, ps.Classification)
		assert.Contains(t, ps.Text, "<th>Item</th>")
		assert.Equal(t, []int{3}, ps.Pages)
		require.Len(t, ps.Warnings, 1)
		assert.Equal(t, Warning{SectionIndex: 5, Ref: "table7", Reason: ReasonTableOutOfRange}, ps.Warnings[0])
	})

	t.Run("mixed keeps recognized references", func(t *testing.T) {
		section := layout.Section{Elements: []string{"/sections/1", "/paragraphs/1", "/paragraphs/42", "table0"}}
		ps := ProcessSection(3, section, doc)
		assert.Equal(t, Mixed, ps.Classification)
		assert.Contains(t, ps.Text, "The supplier shall deliver goods.")
		assert.Contains(t, ps.Text, "<table>")
		require.Len(t, ps.Warnings, 2)
		assert.Equal(t, ReasonUnsupportedRef, ps.Warnings[0].Reason)
		assert.Equal(t, ReasonUnresolvedRef, ps.Warnings[1].Reason)
		assert.Equal(t, "/paragraphs/42", ps.Warnings[1].Ref)
	})

	t.Run("empty section", func(t *testing.T) {
		ps := ProcessSection(4, layout.Section{}, doc)
		assert.Equal(t, EmptyOrUnknown, ps.Classification)
		assert.True(t, ps.Skipped())
		require.Len(t, ps.Warnings, 1)
		assert.Equal(t, ReasonUnknownStructure, ps.Warnings[0].Reason)
	})
}

// TestAccumulatorFold 测试累积状态折叠
func TestAccumulatorFold(t *testing.T) {
	doc := sampleDocument()

	acc := Accumulator{}
	for idx, section := range doc.Sections {
		acc = Step(acc, idx, section, doc)
	}

	assert.Equal(t, []int{1, 2}, acc.SectionIndexes)
	assert.Len(t, acc.Texts, 2)
	assert.Equal(t, []string{layout.RoleTitle, layout.RoleSectionHeading}, acc.Roles)
	assert.Equal(t, CountTokens(acc.Texts[0])+CountTokens(acc.Texts[1]), acc.Tokens)

	t.Run("fold does not mutate previous state", func(t *testing.T) {
		before := Accumulator{}.Fold(ProcessSection(1, doc.Sections[1], doc))
		after := before.Fold(ProcessSection(2, doc.Sections[2], doc))
		assert.Equal(t, []int{1}, before.SectionIndexes)
		assert.Equal(t, []int{1, 2}, after.SectionIndexes)
	})

	t.Run("reset keeps warnings", func(t *testing.T) {
		withWarning := Accumulator{}.Fold(ProcessSection(9, layout.Section{}, doc))
		reset := withWarning.Reset()
		assert.True(t, reset.Empty())
		assert.Len(t, reset.Warnings, 1)
	})
}

// TestCountTokens 测试词数统计
func TestCountTokens(t *testing.T) {
	assert.Equal(t, 0, CountTokens(""))
	assert.Equal(t, 0, CountTokens(" \n\t "))
	assert.Equal(t, 4, CountTokens("one two\nthree   four"))
}
