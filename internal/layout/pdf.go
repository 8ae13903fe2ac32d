package layout

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// pageText 单页文本
type pageText struct {
	Page int
	Text string
}

// analyzePDF 逐页提取文本并重建段落结构
// 优先使用ledongthuc/pdf提取纯文本，失败时退回pdfcpu导出的页面内容流
func analyzePDF(data []byte) (*Document, error) {
	conf := model.NewDefaultConfiguration()
	pageCount, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid pdf: %v", ErrUnsupportedFormat, err)
	}

	pages, err := extractPlainPages(data)
	if err != nil || totalLength(pages) == 0 {
		pages, err = extractContentStreams(data, conf)
		if err != nil {
			return nil, fmt.Errorf("failed to extract text from PDF: %w", err)
		}
	}

	b := newBuilder()
	for _, p := range pages {
		addTextBlocks(b, splitPDFBlocks(p.Text), p.Page, false)
	}

	doc := b.build(pageCount)
	if doc.Empty() {
		return nil, ErrEmptyDocument
	}
	return doc, nil
}

func totalLength(pages []pageText) int {
	n := 0
	for _, p := range pages {
		n += len(strings.TrimSpace(p.Text))
	}
	return n
}

// extractPlainPages 使用ledongthuc/pdf按页提取文本
func extractPlainPages(data []byte) ([]pageText, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to create PDF reader: %w", err)
	}

	var pages []pageText
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			continue
		}
		var lines []string
		for _, row := range rows {
			var sb strings.Builder
			for _, word := range row.Content {
				sb.WriteString(word.S)
			}
			lines = append(lines, sb.String())
		}
		pages = append(pages, pageText{Page: i, Text: strings.Join(lines, "\n")})
	}
	return pages, nil
}

var (
	contentPageFile = regexp.MustCompile(`_(\d+)\.txt$`)
	showTextOp      = regexp.MustCompile(`\((.*?)\)\s*Tj|\[(.*?)\]\s*TJ|T\*|Td|TD`)
	literalString   = regexp.MustCompile(`\(((?:\\.|[^\\)])*)\)`)
)

// extractContentStreams 使用pdfcpu导出页面内容流，从Tj/TJ操作符中取出文本
func extractContentStreams(data []byte, conf *model.Configuration) ([]pageText, error) {
	tmpDir, err := os.MkdirTemp("", "pdfcpu_extract_")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	if err := api.ExtractContent(bytes.NewReader(data), tmpDir, "content", nil, conf); err != nil {
		return nil, fmt.Errorf("failed to extract content: %w", err)
	}

	files, err := os.ReadDir(tmpDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read extracted content dir: %w", err)
	}

	var pages []pageText
	for _, f := range files {
		m := contentPageFile.FindStringSubmatch(f.Name())
		if m == nil {
			continue
		}
		page, _ := strconv.Atoi(m[1])
		raw, err := os.ReadFile(filepath.Join(tmpDir, f.Name()))
		if err != nil {
			continue
		}
		pages = append(pages, pageText{Page: page, Text: textFromContentStream(string(raw))})
	}

	sort.Slice(pages, func(i, j int) bool { return pages[i].Page < pages[j].Page })
	return pages, nil
}

// textFromContentStream 把内容流中的文本操作转为按行排列的文本
func textFromContentStream(stream string) string {
	var sb strings.Builder
	for _, m := range showTextOp.FindAllStringSubmatch(stream, -1) {
		switch {
		case m[1] != "":
			sb.WriteString(unescapePDFString(m[1]))
		case m[2] != "":
			for _, lit := range literalString.FindAllStringSubmatch(m[2], -1) {
				sb.WriteString(unescapePDFString(lit[1]))
			}
		default:
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

func unescapePDFString(s string) string {
	r := strings.NewReplacer(`\(`, "(", `\)`, ")", `\\`, `\`, `\n`, "\n", `\r`, "", `\t`, " ")
	return r.Replace(s)
}

// splitPDFBlocks PDF文本没有可靠的空行，单行标题单独成块，其余连续行合并
func splitPDFBlocks(text string) []string {
	var blocks []string
	for _, block := range splitBlocks(text) {
		var current []string
		for _, line := range strings.Split(block, "\n") {
			if looksLikeHeading(line) {
				if len(current) > 0 {
					blocks = append(blocks, strings.Join(current, " "))
					current = nil
				}
				blocks = append(blocks, strings.TrimSpace(line))
				continue
			}
			current = append(current, strings.TrimSpace(line))
		}
		if len(current) > 0 {
			blocks = append(blocks, strings.Join(current, " "))
		}
	}
	return blocks
}
