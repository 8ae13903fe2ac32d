package layout

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode"

	"github.com/sirupsen/logrus"
)

// LocalAnalyzer 本地版面分析器
// 不依赖云服务，从Markdown、纯文本、PDF中重建段落/表格/章节结构
type LocalAnalyzer struct {
	logger *logrus.Logger
}

func init() {
	RegisterAnalyzer("local", func(cfg *Config) (Analyzer, error) {
		return NewLocalAnalyzer(), nil
	})
}

// NewLocalAnalyzer 创建本地分析器
func NewLocalAnalyzer() *LocalAnalyzer {
	return &LocalAnalyzer{logger: logrus.StandardLogger()}
}

// WithLogger 设置日志记录器
func (a *LocalAnalyzer) WithLogger(logger *logrus.Logger) *LocalAnalyzer {
	if logger != nil {
		a.logger = logger
	}
	return a
}

// Name 返回分析器名称
func (a *LocalAnalyzer) Name() string {
	return "local"
}

// Analyze 按文件类型分派到具体的解析实现
func (a *LocalAnalyzer) Analyze(ctx context.Context, r io.Reader, filename string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	contentType := DetectContentType(filename)
	if contentType == JSON {
		return Parse(r)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}

	var doc *Document
	switch contentType {
	case Markdown:
		doc = analyzeMarkdown(data)
	case PlainText:
		doc = analyzePlainText(string(data))
	case PDF:
		doc, err = analyzePDF(data)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filename)
	}

	a.logger.WithFields(logrus.Fields{
		"filename":   filename,
		"type":       contentType,
		"paragraphs": len(doc.Paragraphs),
		"tables":     len(doc.Tables),
		"sections":   len(doc.Sections),
	}).Debug("Local layout analysis completed")

	return doc, nil
}

// builder 逐步构建Document
// 第0个章节为根章节，只引用其余章节，与云端分析结果的结构保持一致
type builder struct {
	doc     *Document
	current int // 当前章节下标，-1表示尚未打开
}

func newBuilder() *builder {
	return &builder{
		doc: &Document{
			Paragraphs: []Paragraph{},
			Tables:     []Table{},
			Sections:   []Section{{Elements: []string{}}},
		},
		current: -1,
	}
}

func regions(page int) []BoundingRegion {
	if page <= 0 {
		return nil
	}
	return []BoundingRegion{{PageNumber: page}}
}

// openSection 打开一个新章节并挂到根章节下
func (b *builder) openSection(page int) {
	b.doc.Sections = append(b.doc.Sections, Section{Elements: []string{}, BoundingRegions: regions(page)})
	b.current = len(b.doc.Sections) - 1
	root := &b.doc.Sections[0]
	root.Elements = append(root.Elements, fmt.Sprintf("/%s/%d", CollectionSections, b.current))
}

// ensureSection 没有打开的章节时自动打开
func (b *builder) ensureSection(page int) {
	if b.current < 0 {
		b.openSection(page)
	}
}

// attach 把引用加入当前章节
func (b *builder) attach(ref string, page int) {
	b.ensureSection(page)
	sec := &b.doc.Sections[b.current]
	sec.Elements = append(sec.Elements, ref)
	for _, r := range sec.BoundingRegions {
		if r.PageNumber == page {
			return
		}
	}
	sec.BoundingRegions = append(sec.BoundingRegions, regions(page)...)
}

// newParagraph 只登记段落，不挂到章节（表格单元格使用）
func (b *builder) newParagraph(content, role string, page int) string {
	b.doc.Paragraphs = append(b.doc.Paragraphs, Paragraph{
		Content:         content,
		Role:            role,
		BoundingRegions: regions(page),
	})
	return fmt.Sprintf("/%s/%d", CollectionParagraphs, len(b.doc.Paragraphs)-1)
}

// addParagraph 登记段落并挂到当前章节
func (b *builder) addParagraph(content, role string, page int) {
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}
	b.attach(b.newParagraph(content, role, page), page)
}

// addHeading 标题开启新章节
func (b *builder) addHeading(content, role string, page int) {
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}
	b.openSection(page)
	b.addParagraph(content, role, page)
}

// addTable 登记表格并挂到当前章节
func (b *builder) addTable(t Table, page int) {
	t.BoundingRegions = regions(page)
	b.doc.Tables = append(b.doc.Tables, t)
	b.attach(fmt.Sprintf("/%s/%d", CollectionTables, len(b.doc.Tables)-1), page)
}

// build 返回结果，没有任何章节内容时去掉根章节
func (b *builder) build(pageCount int) *Document {
	if len(b.doc.Sections) == 1 {
		b.doc.Sections = []Section{}
	}
	b.doc.PageCount = pageCount
	return b.doc
}

var numberedHeading = regexp.MustCompile(`^(\d+(\.\d+)*\.?|[IVXLC]+\.|ARTICLE\s+\w+|Article\s+\w+|SECTION\s+\w+|Section\s+\d+)\s+\S`)

// looksLikeHeading 判断单行文本是否像章节标题
// 全大写短行或带编号的短行
func looksLikeHeading(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" || strings.Contains(line, "\n") {
		return false
	}
	words := strings.Fields(line)
	if len(words) > 10 {
		return false
	}
	if strings.HasSuffix(line, ".") && !numberedHeading.MatchString(line) {
		return false
	}
	if numberedHeading.MatchString(line) && len(words) <= 8 {
		return true
	}

	letters, upper := 0, 0
	for _, r := range line {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	return letters >= 3 && upper == letters
}

// splitBlocks 按空行切分文本块
func splitBlocks(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var blocks []string
	var current []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			if len(current) > 0 {
				blocks = append(blocks, strings.Join(current, "\n"))
				current = nil
			}
			continue
		}
		current = append(current, strings.TrimRight(line, " \t"))
	}
	if len(current) > 0 {
		blocks = append(blocks, strings.Join(current, "\n"))
	}
	return blocks
}

// analyzePlainText 纯文本：空行分段，标题样式的单行开启新章节
func analyzePlainText(text string) *Document {
	b := newBuilder()
	addTextBlocks(b, splitBlocks(text), 1, true)
	return b.build(1)
}

// addTextBlocks 把文本块加入构建器
// allowTitle为true时，文档中第一个标题样式的块标记为title
func addTextBlocks(b *builder, blocks []string, page int, allowTitle bool) {
	for _, block := range blocks {
		if looksLikeHeading(block) {
			role := RoleSectionHeading
			if allowTitle && len(b.doc.Paragraphs) == 0 {
				role = RoleTitle
			}
			b.addHeading(block, role, page)
			continue
		}
		b.addParagraph(strings.Join(strings.Fields(block), " "), "", page)
	}
}
