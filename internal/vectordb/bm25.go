package vectordb

import (
	"math"
	"strings"
	"unicode"
)

// BM25参数，与常见全文检索引擎默认值一致
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// Tokenize 小写化并按非字母数字切分
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// termStats 单个分块的词频统计
type termStats struct {
	freq   map[string]int
	length int
}

func newTermStats(text string) termStats {
	tokens := Tokenize(text)
	freq := make(map[string]int, len(tokens))
	for _, t := range tokens {
		freq[t]++
	}
	return termStats{freq: freq, length: len(tokens)}
}

// bm25Index 倒排统计，调用方负责加锁
type bm25Index struct {
	docs        map[string]termStats
	docFreq     map[string]int
	totalLength int
}

func newBM25Index() *bm25Index {
	return &bm25Index{
		docs:    make(map[string]termStats),
		docFreq: make(map[string]int),
	}
}

func (idx *bm25Index) add(id, text string) {
	idx.remove(id)
	stats := newTermStats(text)
	idx.docs[id] = stats
	idx.totalLength += stats.length
	for term := range stats.freq {
		idx.docFreq[term]++
	}
}

func (idx *bm25Index) remove(id string) {
	stats, ok := idx.docs[id]
	if !ok {
		return
	}
	delete(idx.docs, id)
	idx.totalLength -= stats.length
	for term := range stats.freq {
		idx.docFreq[term]--
		if idx.docFreq[term] <= 0 {
			delete(idx.docFreq, term)
		}
	}
}

// score 计算查询对单个分块的BM25得分
func (idx *bm25Index) score(id string, queryTerms []string) float64 {
	stats, ok := idx.docs[id]
	if !ok || len(idx.docs) == 0 {
		return 0
	}

	n := float64(len(idx.docs))
	avgLen := float64(idx.totalLength) / n
	if avgLen == 0 {
		return 0
	}

	var total float64
	seen := make(map[string]struct{}, len(queryTerms))
	for _, term := range queryTerms {
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}

		tf := float64(stats.freq[term])
		if tf == 0 {
			continue
		}
		df := float64(idx.docFreq[term])
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))
		norm := tf * (bm25K1 + 1) / (tf + bm25K1*(1-bm25B+bm25B*float64(stats.length)/avgLen))
		total += idf * norm
	}
	return total
}
