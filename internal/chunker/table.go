package chunker

import (
	"html"
	"sort"
	"strings"

	"github.com/fyerfyer/contract-qa/internal/layout"
)

// RenderTable 把表格单元格重建为HTML表格
// 单元格按rowIndex分组、按columnIndex排序，单元格文本来自其引用的段落。
// 无法解析的单元格引用被跳过并记录诊断，返回的页码去重升序。
func RenderTable(table layout.Table, paragraphs []layout.Paragraph) (string, []int, []Warning) {
	scope := &layout.Document{Paragraphs: paragraphs}

	rows := make(map[int][]layout.Cell)
	for _, cell := range table.Cells {
		rows[cell.RowIndex] = append(rows[cell.RowIndex], cell)
	}
	rowIndexes := make([]int, 0, len(rows))
	for idx := range rows {
		rowIndexes = append(rowIndexes, idx)
	}
	sort.Ints(rowIndexes)

	pages := newPageSet()
	var warnings []Warning

	var sb strings.Builder
	sb.WriteString("<table>\n")
	for _, rowIndex := range rowIndexes {
		cells := rows[rowIndex]
		sort.SliceStable(cells, func(i, j int) bool {
			return cells[i].ColumnIndex < cells[j].ColumnIndex
		})

		sb.WriteString("  <tr>\n")
		for _, cell := range cells {
			var parts []string
			for _, ref := range cell.Elements {
				resolved := Resolve(ref, scope, layout.CollectionParagraphs)
				if resolved.Kind != RefParagraph {
					warnings = append(warnings, Warning{SectionIndex: -1, Ref: ref, Reason: ReasonUnresolvedCellRef})
					continue
				}
				parts = append(parts, strings.TrimSpace(resolved.Paragraph.Content))
				pages.addRegions(resolved.Paragraph.BoundingRegions)
			}

			tag := "td"
			if cell.IsHeader() {
				tag = "th"
			}
			sb.WriteString("    <" + tag + ">")
			sb.WriteString(html.EscapeString(strings.Join(parts, " ")))
			sb.WriteString("</" + tag + ">\n")
		}
		sb.WriteString("  </tr>\n")
	}
	sb.WriteString("</table>\n")

	return sb.String(), pages.sorted(), warnings
}

// pageSet 页码集合
type pageSet map[int]struct{}

func newPageSet() pageSet {
	return make(pageSet)
}

func (s pageSet) add(pages ...int) {
	for _, p := range pages {
		if p > 0 {
			s[p] = struct{}{}
		}
	}
}

func (s pageSet) addRegions(regions []layout.BoundingRegion) {
	s.add(layout.PageNumbers(regions)...)
}

// sorted 返回升序页码
func (s pageSet) sorted() []int {
	out := make([]int, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}
