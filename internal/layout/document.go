package layout

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
)

// 常用错误定义
var (
	ErrInvalidLayout       = errors.New("invalid layout document")
	ErrUnsupportedFormat   = errors.New("unsupported document format")
	ErrAnalysisFailed      = errors.New("layout analysis failed")
	ErrEmptyDocument       = errors.New("layout contains no extractable content")
	ErrAnalyzerUnavailable = errors.New("layout analyzer unavailable")
)

// 集合名称，用于引用解析
const (
	CollectionParagraphs = "paragraphs"
	CollectionTables     = "tables"
	CollectionSections   = "sections"
)

// 段落角色
const (
	RoleTitle          = "title"
	RoleSectionHeading = "sectionHeading"
	RolePageHeader     = "pageHeader"
	RolePageFooter     = "pageFooter"
	RolePageNumber     = "pageNumber"
	RoleFootnote       = "footnote"
)

// 单元格类型
const (
	CellKindColumnHeader = "columnHeader"
	CellKindRowHeader    = "rowHeader"
	CellKindContent      = "content"
)

// BoundingRegion 元素所在页面区域
type BoundingRegion struct {
	PageNumber int       `json:"pageNumber"`        // 页码，从1开始
	Polygon    []float64 `json:"polygon,omitempty"` // 坐标多边形
}

// Paragraph 段落
type Paragraph struct {
	Content         string           `json:"content"`
	Role            string           `json:"role,omitempty"`
	BoundingRegions []BoundingRegion `json:"boundingRegions,omitempty"`
}

// Cell 表格单元格
type Cell struct {
	RowIndex    int      `json:"rowIndex"`
	ColumnIndex int      `json:"columnIndex"`
	RowSpan     int      `json:"rowSpan,omitempty"`
	ColumnSpan  int      `json:"columnSpan,omitempty"`
	Kind        string   `json:"kind,omitempty"`
	Content     string   `json:"content,omitempty"`
	Elements    []string `json:"elements,omitempty"` // 指向段落的引用
}

// IsHeader 是否为列表头单元格
func (c Cell) IsHeader() bool {
	return c.Kind == CellKindColumnHeader
}

// Table 表格
type Table struct {
	RowCount        int              `json:"rowCount"`
	ColumnCount     int              `json:"columnCount"`
	Cells           []Cell           `json:"cells"`
	BoundingRegions []BoundingRegion `json:"boundingRegions,omitempty"`
}

// Section 结构分组节点
type Section struct {
	Elements        []string         `json:"elements"`
	BoundingRegions []BoundingRegion `json:"boundingRegions,omitempty"`
}

// Document 版面分析结果
// 三个有序集合通过 "collection/index" 形式的引用互相关联
type Document struct {
	Paragraphs []Paragraph `json:"paragraphs"`
	Tables     []Table     `json:"tables"`
	Sections   []Section   `json:"sections"`
	PageCount  int         `json:"pageCount,omitempty"`
}

// Empty 文档是否没有任何可提取内容
func (d *Document) Empty() bool {
	return d == nil || (len(d.Paragraphs) == 0 && len(d.Tables) == 0 && len(d.Sections) == 0)
}

// PageNumbers 返回区域列表涉及的页码，去重并升序
// 缺失或非法的页码(<=0)会被忽略
func PageNumbers(regions []BoundingRegion) []int {
	seen := make(map[int]struct{}, len(regions))
	pages := make([]int, 0, len(regions))
	for _, r := range regions {
		if r.PageNumber <= 0 {
			continue
		}
		if _, ok := seen[r.PageNumber]; ok {
			continue
		}
		seen[r.PageNumber] = struct{}{}
		pages = append(pages, r.PageNumber)
	}
	sort.Ints(pages)
	return pages
}

// Parse 解析版面分析JSON
// 支持裸的analyzeResult对象，也支持带status/analyzeResult的完整操作结果。
// 缺失或类型错误的顶层集合视为空集合；集合内无法解码的元素保留为零值，
// 以保证下标引用不发生偏移。只有输入不是JSON对象时才返回错误。
func Parse(r io.Reader) (*Document, error) {
	var top map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&top); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLayout, err)
	}

	if inner, ok := top["analyzeResult"]; ok {
		var nested map[string]json.RawMessage
		if err := json.Unmarshal(inner, &nested); err == nil && nested != nil {
			top = nested
		}
	}

	doc := &Document{
		Paragraphs: decodeCollection[Paragraph](top[CollectionParagraphs]),
		Tables:     decodeCollection[Table](top[CollectionTables]),
		Sections:   decodeCollection[Section](top[CollectionSections]),
	}

	doc.PageCount = pageCount(top, doc)
	return doc, nil
}

// pageCount 依次取pages数组长度、pageCount字段，都没有时取区域中的最大页码
func pageCount(top map[string]json.RawMessage, doc *Document) int {
	if raw, ok := top["pages"]; ok {
		var pages []json.RawMessage
		if err := json.Unmarshal(raw, &pages); err == nil && len(pages) > 0 {
			return len(pages)
		}
	}
	if raw, ok := top["pageCount"]; ok {
		var n int
		if err := json.Unmarshal(raw, &n); err == nil && n > 0 {
			return n
		}
	}
	return doc.MaxPageNumber()
}

// MaxPageNumber 返回段落、表格和章节区域中出现的最大页码
func (d *Document) MaxPageNumber() int {
	maxPage := 0
	visit := func(regions []BoundingRegion) {
		for _, r := range regions {
			if r.PageNumber > maxPage {
				maxPage = r.PageNumber
			}
		}
	}
	for _, p := range d.Paragraphs {
		visit(p.BoundingRegions)
	}
	for _, t := range d.Tables {
		visit(t.BoundingRegions)
	}
	for _, s := range d.Sections {
		visit(s.BoundingRegions)
	}
	return maxPage
}

// ParseBytes 从字节切片解析版面分析JSON
func ParseBytes(data []byte) (*Document, error) {
	return Parse(bytes.NewReader(data))
}

// decodeCollection 逐个解码集合元素
func decodeCollection[T any](raw json.RawMessage) []T {
	var items []json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &items) != nil {
		return []T{}
	}

	out := make([]T, len(items))
	for i, item := range items {
		// 类型不匹配的字段保留零值，其余字段照常填充
		var v T
		_ = json.Unmarshal(item, &v)
		out[i] = v
	}
	return out
}
