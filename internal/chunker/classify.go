package chunker

import "strings"

// Classification 章节引用结构分类
type Classification string

const (
	OnlySections    Classification = "only_sections"
	OnlyTables      Classification = "only_tables"
	OnlyNonSections Classification = "only_non_sections"
	Mixed           Classification = "mixed"
	EmptyOrUnknown  Classification = "empty_or_unknown"
)

const (
	sectionPrefix = "sections/"
	tablePrefix   = "table"
)

// Skipped 该分类的章节是否不产生任何文本
func (c Classification) Skipped() bool {
	return c == OnlySections || c == EmptyOrUnknown
}

// isSectionRef 是否为章节引用
func isSectionRef(normalized string) bool {
	return strings.HasPrefix(normalized, sectionPrefix)
}

// tableRefIndex 解析 "table<N>" 形式的表格引用
func tableRefIndex(normalized string) (int, bool) {
	if !strings.HasPrefix(normalized, tablePrefix) {
		return 0, false
	}
	return parseIndex(strings.TrimPrefix(normalized, tablePrefix))
}

// Classify 根据章节的元素引用判断章节类型
// 优先级: OnlySections, OnlyTables, Mixed, OnlyNonSections, EmptyOrUnknown
func Classify(refs []string) Classification {
	var hasSections, hasTables, hasOther bool
	for _, ref := range refs {
		n := normalizeRef(ref)
		switch {
		case isSectionRef(n):
			hasSections = true
		case isTableForm(n):
			hasTables = true
		default:
			hasOther = true
		}
	}

	kinds := 0
	for _, has := range []bool{hasSections, hasTables, hasOther} {
		if has {
			kinds++
		}
	}

	switch {
	case hasSections && kinds == 1:
		return OnlySections
	case hasTables && kinds == 1:
		return OnlyTables
	case kinds > 1:
		return Mixed
	case hasOther:
		return OnlyNonSections
	default:
		return EmptyOrUnknown
	}
}

func isTableForm(normalized string) bool {
	_, ok := tableRefIndex(normalized)
	return ok
}
