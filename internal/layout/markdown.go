package layout

import (
	"strings"

	"github.com/gomarkdown/markdown/ast"
	"github.com/gomarkdown/markdown/parser"
)

// analyzeMarkdown 基于Markdown AST重建版面结构
// 一级标题中的第一个作为title，其余标题为sectionHeading，每个标题开启一个章节；
// 表格按单元格拆分，表头行的单元格标记为columnHeader。Markdown没有分页，统一记为第1页。
func analyzeMarkdown(content []byte) *Document {
	extensions := parser.CommonExtensions | parser.AutoHeadingIDs
	mdParser := parser.NewWithExtensions(extensions)
	root := mdParser.Parse(content)

	b := newBuilder()
	titleSeen := false

	for _, node := range root.GetChildren() {
		switch n := node.(type) {
		case *ast.Heading:
			role := RoleSectionHeading
			if n.Level == 1 && !titleSeen {
				role = RoleTitle
				titleSeen = true
			}
			b.addHeading(nodeText(n), role, 1)
		case *ast.Table:
			b.addTable(markdownTable(b, n), 1)
		case *ast.List:
			for _, item := range n.GetChildren() {
				b.addParagraph(nodeText(item), "", 1)
			}
		case *ast.HorizontalRule, *ast.HTMLBlock:
		default:
			b.addParagraph(nodeText(n), "", 1)
		}
	}

	return b.build(1)
}

// markdownTable 把表格节点转为单元格列表，单元格文本登记为独立段落
func markdownTable(b *builder, table *ast.Table) Table {
	var t Table
	row := 0

	ast.WalkFunc(table, func(node ast.Node, entering bool) ast.WalkStatus {
		tr, ok := node.(*ast.TableRow)
		if !ok || !entering {
			return ast.GoToNext
		}

		col := 0
		for _, c := range tr.GetChildren() {
			cell, ok := c.(*ast.TableCell)
			if !ok {
				continue
			}
			kind := CellKindContent
			if cell.IsHeader {
				kind = CellKindColumnHeader
			}
			text := nodeText(cell)
			var elements []string
			if text != "" {
				elements = []string{b.newParagraph(text, "", 1)}
			}
			t.Cells = append(t.Cells, Cell{
				RowIndex:    row,
				ColumnIndex: col,
				Kind:        kind,
				Content:     text,
				Elements:    elements,
			})
			col++
		}
		if col > t.ColumnCount {
			t.ColumnCount = col
		}
		row++
		return ast.SkipChildren
	})

	t.RowCount = row
	return t
}

// nodeText 提取节点下所有叶子文本
func nodeText(node ast.Node) string {
	var sb strings.Builder
	ast.WalkFunc(node, func(n ast.Node, entering bool) ast.WalkStatus {
		if !entering {
			return ast.GoToNext
		}
		switch v := n.(type) {
		case *ast.Softbreak, *ast.Hardbreak:
			sb.WriteByte(' ')
		case *ast.Text, *ast.Code, *ast.CodeBlock:
			if leaf := v.AsLeaf(); leaf != nil {
				sb.Write(leaf.Literal)
			}
		}
		return ast.GoToNext
	})
	return strings.Join(strings.Fields(sb.String()), " ")
}
