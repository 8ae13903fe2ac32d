package chunker

import (
	"strconv"
	"strings"

	"github.com/fyerfyer/contract-qa/internal/layout"
)

// RefKind 引用解析结果的类型
type RefKind int

const (
	RefNotFound RefKind = iota
	RefParagraph
	RefTable
	RefSection
)

func (k RefKind) String() string {
	switch k {
	case RefParagraph:
		return "paragraph"
	case RefTable:
		return "table"
	case RefSection:
		return "section"
	default:
		return "not_found"
	}
}

// Ref 引用解析结果
// 按Kind区分段落、表格、章节或未找到，对应的指针字段非空
type Ref struct {
	Kind      RefKind
	Index     int
	Paragraph *layout.Paragraph
	Table     *layout.Table
	Section   *layout.Section
}

// Found 是否解析成功
func (r Ref) Found() bool {
	return r.Kind != RefNotFound
}

var notFound = Ref{Kind: RefNotFound, Index: -1}

// allCollections 未指定范围时可解析的集合
var allCollections = []string{layout.CollectionParagraphs, layout.CollectionTables, layout.CollectionSections}

// normalizeRef 去掉引用前导的分隔符
func normalizeRef(ref string) string {
	return strings.TrimLeft(ref, "/")
}

// parseIndex 解析非负整数下标，只接受纯数字
func parseIndex(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Resolve 解析 "collection/index" 形式的引用
// scopes限定可解析的集合，为空时三个集合都可解析。
// 格式错误、集合未知、下标越界都返回RefNotFound，不会panic。
func Resolve(ref string, doc *layout.Document, scopes ...string) Ref {
	if doc == nil {
		return notFound
	}

	parts := strings.Split(normalizeRef(ref), "/")
	if len(parts) != 2 {
		return notFound
	}

	collection := parts[0]
	index, ok := parseIndex(parts[1])
	if !ok || !inScope(collection, scopes) {
		return notFound
	}

	switch collection {
	case layout.CollectionParagraphs:
		if index < len(doc.Paragraphs) {
			return Ref{Kind: RefParagraph, Index: index, Paragraph: &doc.Paragraphs[index]}
		}
	case layout.CollectionTables:
		if index < len(doc.Tables) {
			return Ref{Kind: RefTable, Index: index, Table: &doc.Tables[index]}
		}
	case layout.CollectionSections:
		if index < len(doc.Sections) {
			return Ref{Kind: RefSection, Index: index, Section: &doc.Sections[index]}
		}
	}
	return notFound
}

func inScope(collection string, scopes []string) bool {
	if len(scopes) == 0 {
		scopes = allCollections
	}
	for _, s := range scopes {
		if s == collection {
			return true
		}
	}
	return false
}
