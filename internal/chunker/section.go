package chunker

import (
	"fmt"
	"strings"

	"github.com/fyerfyer/contract-qa/internal/layout"
)

// 诊断原因
const (
	ReasonUnresolvedRef     = "unresolved reference"
	ReasonUnsupportedRef    = "reference is neither paragraph nor table"
	ReasonTableOutOfRange   = "table index out of range"
	ReasonUnknownStructure  = "unknown reference structure"
	ReasonUnresolvedCellRef = "unresolved table cell reference"
)

// Warning 可恢复问题的诊断记录
// 对应的片段被省略，不影响分块流程
type Warning struct {
	SectionIndex int    `json:"section_index"` // -1表示不属于具体章节
	Ref          string `json:"ref,omitempty"`
	Reason       string `json:"reason"`
}

func (w Warning) String() string {
	if w.Ref == "" {
		return fmt.Sprintf("section %d: %s", w.SectionIndex, w.Reason)
	}
	return fmt.Sprintf("section %d: %s (%s)", w.SectionIndex, w.Reason, w.Ref)
}

// ProcessedSection 单个章节展开后的结果
type ProcessedSection struct {
	Index          int
	Classification Classification
	Text           string
	Tokens         int
	Roles          []string
	Pages          []int
	Warnings       []Warning
}

// Skipped 该章节是否不参与分块
func (p ProcessedSection) Skipped() bool {
	return p.Classification.Skipped()
}

// ProcessSection 把一个章节展开为纯文本
// 段落带角色时加上 "[ROLE] " 前缀，表格渲染为HTML，各片段以换行连接。
// 只包含子章节引用的章节以及结构无法识别的章节不产生文本。
func ProcessSection(idx int, section layout.Section, doc *layout.Document) ProcessedSection {
	if doc == nil {
		doc = &layout.Document{}
	}

	ps := ProcessedSection{
		Index:          idx,
		Classification: Classify(section.Elements),
	}

	switch ps.Classification {
	case OnlySections:
		return ps
	case EmptyOrUnknown:
		ps.Warnings = append(ps.Warnings, Warning{SectionIndex: idx, Reason: ReasonUnknownStructure})
		return ps
	}

	pages := newPageSet()
	pages.addRegions(section.BoundingRegions)

	var pieces []string
	for _, ref := range section.Elements {
		n := normalizeRef(ref)

		// 表格简写引用 "table<N>"
		if tableIndex, ok := tableRefIndex(n); ok {
			if tableIndex >= len(doc.Tables) {
				ps.Warnings = append(ps.Warnings, Warning{SectionIndex: idx, Ref: ref, Reason: ReasonTableOutOfRange})
				continue
			}
			pieces = append(pieces, ps.renderTable(doc.Tables[tableIndex], doc, pages))
			continue
		}

		resolved := Resolve(ref, doc)
		switch resolved.Kind {
		case RefParagraph:
			content := strings.TrimSpace(resolved.Paragraph.Content)
			if role := resolved.Paragraph.Role; role != "" {
				ps.Roles = append(ps.Roles, role)
				content = "[" + strings.ToUpper(role) + "] " + content
			}
			pages.addRegions(resolved.Paragraph.BoundingRegions)
			pieces = append(pieces, content)
		case RefTable:
			pieces = append(pieces, ps.renderTable(*resolved.Table, doc, pages))
		case RefSection:
			ps.Warnings = append(ps.Warnings, Warning{SectionIndex: idx, Ref: ref, Reason: ReasonUnsupportedRef})
		default:
			ps.Warnings = append(ps.Warnings, Warning{SectionIndex: idx, Ref: ref, Reason: ReasonUnresolvedRef})
		}
	}

	ps.Text = strings.Join(pieces, "\n")
	ps.Tokens = CountTokens(ps.Text)
	ps.Pages = pages.sorted()
	return ps
}

// renderTable 渲染表格并合并页码与诊断
func (p *ProcessedSection) renderTable(table layout.Table, doc *layout.Document, pages pageSet) string {
	html, tablePages, warnings := RenderTable(table, doc.Paragraphs)
	pages.add(tablePages...)
	for _, w := range warnings {
		w.SectionIndex = p.Index
		p.Warnings = append(p.Warnings, w)
	}
	return html
}

// CountTokens 以空白切分的词数近似token数
func CountTokens(text string) int {
	return len(strings.Fields(text))
}

// Accumulator 正在累积的分块状态
// 按值在章节序列上折叠传递，每次Fold返回新的状态
type Accumulator struct {
	Texts          []string
	Roles          []string
	Tokens         int
	SectionIndexes []int
	Pages          []int
	Warnings       []Warning
}

// Empty 是否没有累积任何章节
func (a Accumulator) Empty() bool {
	return len(a.SectionIndexes) == 0
}

// Fold 把一个章节的结果合入累积状态
// 被跳过的章节只贡献诊断信息
func (a Accumulator) Fold(ps ProcessedSection) Accumulator {
	next := Accumulator{
		Texts:          a.Texts,
		Roles:          a.Roles,
		Tokens:         a.Tokens,
		SectionIndexes: a.SectionIndexes,
		Pages:          a.Pages,
		Warnings:       appendCopy(a.Warnings, ps.Warnings...),
	}
	if ps.Skipped() {
		return next
	}

	next.Texts = appendCopy(a.Texts, ps.Text)
	next.Roles = appendCopy(a.Roles, ps.Roles...)
	next.Tokens += ps.Tokens
	next.SectionIndexes = appendCopy(a.SectionIndexes, ps.Index)
	next.Pages = appendCopy(a.Pages, ps.Pages...)
	return next
}

// Reset 清空分块内容，保留诊断信息
func (a Accumulator) Reset() Accumulator {
	return Accumulator{Warnings: a.Warnings}
}

// Step 展开章节并合入累积状态
func Step(acc Accumulator, idx int, section layout.Section, doc *layout.Document) Accumulator {
	return acc.Fold(ProcessSection(idx, section, doc))
}

// appendCopy 追加元素到新切片，避免与旧状态共享底层数组
func appendCopy[T any](base []T, items ...T) []T {
	if len(items) == 0 {
		return base
	}
	out := make([]T, 0, len(base)+len(items))
	out = append(out, base...)
	return append(out, items...)
}
