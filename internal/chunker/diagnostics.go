package chunker

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// WriteSections 写出全部章节的展开文本，用于人工检查
func WriteSections(w io.Writer, result *Result) error {
	bw := bufio.NewWriter(w)
	for _, ps := range result.Sections {
		if _, err := fmt.Fprintf(bw, "[SECTION %d]\n%s\n\n", ps.Index, ps.Text); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteChunks 写出每个分块的完整文本及其章节组成
func WriteChunks(w io.Writer, result *Result) error {
	bw := bufio.NewWriter(w)
	for i, chunk := range result.Chunks {
		text := chunk.Content
		if i < len(result.ChunkTexts) {
			text = result.ChunkTexts[i]
		}
		if _, err := fmt.Fprintf(bw, "[CHUNK composed of sections %s]\n%s\n\n", formatIndexes(chunk.SectionIndexes), text); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// DumpDiagnostics 把章节和分块文本写到目录下的 <文件名>.sections.txt 与 <文件名>.chunks.txt
func DumpDiagnostics(dir string, result *Result) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create diagnostics dir: %w", err)
	}

	base := filepath.Base(result.Filename)
	if base == "." || base == string(filepath.Separator) {
		base = "document"
	}

	writers := map[string]func(io.Writer, *Result) error{
		base + ".sections.txt": WriteSections,
		base + ".chunks.txt":   WriteChunks,
	}
	for name, write := range writers {
		if err := writeFile(filepath.Join(dir, name), result, write); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, result *Result, write func(io.Writer, *Result) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	if err := write(f, result); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// formatIndexes 格式化为 [0, 1, 2]
func formatIndexes(indexes []int) string {
	parts := make([]string, len(indexes))
	for i, idx := range indexes {
		parts[i] = fmt.Sprint(idx)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
