package vectordb

import (
	"fmt"
	"math"
	"sort"
)

// ComputeDistance 计算两个向量间的距离
func ComputeDistance(v1, v2 []float32, distType DistanceType) (float32, error) {
	if len(v1) != len(v2) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrInvalidDimension, len(v1), len(v2))
	}

	switch distType {
	case Cosine, "":
		return cosineDistance(v1, v2), nil
	case DotProduct:
		return dotProduct(v1, v2), nil
	case Euclidean:
		return euclideanDistance(v1, v2), nil
	default:
		return 0, fmt.Errorf("unsupported distance type: %s", distType)
	}
}

// cosineDistance 余弦距离 = 1 - 余弦相似度
func cosineDistance(v1, v2 []float32) float32 {
	norm1 := vectorNorm(v1)
	norm2 := vectorNorm(v2)
	if norm1 == 0 || norm2 == 0 {
		return 1.0
	}

	similarity := dotProduct(v1, v2) / (norm1 * norm2)
	if similarity > 1.0 {
		similarity = 1.0
	}
	return 1.0 - similarity
}

func dotProduct(v1, v2 []float32) float32 {
	var dot float32
	for i := range v1 {
		dot += v1[i] * v2[i]
	}
	return dot
}

func euclideanDistance(v1, v2 []float32) float32 {
	var sum float32
	for i := range v1 {
		d := v1[i] - v2[i]
		sum += d * d
	}
	return float32(math.Sqrt(float64(sum)))
}

func vectorNorm(v []float32) float32 {
	var sum float32
	for _, val := range v {
		sum += val * val
	}
	return float32(math.Sqrt(float64(sum)))
}

// DistanceToScore 将距离转换为越大越相似的分数
func DistanceToScore(distance float32, distType DistanceType) float32 {
	switch distType {
	case Cosine, "":
		return 1 - distance
	case DotProduct:
		return distance
	case Euclidean:
		return float32(math.Exp(-float64(distance)))
	default:
		return 0
	}
}

// ValidateVector 验证向量维度和有效性
func ValidateVector(vector []float32, expectedDim int) error {
	if len(vector) == 0 {
		return ErrEmptyVector
	}
	if expectedDim > 0 && len(vector) != expectedDim {
		return fmt.Errorf("%w: expected %d, got %d", ErrInvalidDimension, expectedDim, len(vector))
	}
	return nil
}

// Match 判断分块是否满足过滤条件
func (f Filter) Match(r Record) bool {
	if f.Filename != "" && r.Filename != f.Filename {
		return false
	}
	if len(f.DocumentIDs) > 0 && !containsString(f.DocumentIDs, r.DocumentID) {
		return false
	}
	if len(f.PageNumbers) > 0 && !intersectsInt(f.PageNumbers, r.PageNumbers) {
		return false
	}
	if len(f.Roles) > 0 && !intersectsString(f.Roles, r.Roles) {
		return false
	}
	return true
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func intersectsInt(a, b []int) bool {
	set := make(map[int]struct{}, len(a))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}

func intersectsString(a, b []string) bool {
	for _, v := range b {
		if containsString(a, v) {
			return true
		}
	}
	return false
}

// normalizeScores 按最小最大值归一化到[0,1]
// 所有分数相同时统一记为1
func normalizeScores(scores map[string]float64) map[string]float64 {
	if len(scores) == 0 {
		return scores
	}
	minScore, maxScore := math.Inf(1), math.Inf(-1)
	for _, s := range scores {
		minScore = math.Min(minScore, s)
		maxScore = math.Max(maxScore, s)
	}

	out := make(map[string]float64, len(scores))
	span := maxScore - minScore
	for id, s := range scores {
		if span == 0 {
			out[id] = 1
			continue
		}
		out[id] = (s - minScore) / span
	}
	return out
}

// SortSearchResults 按得分降序排序，同分按文件名和分块序号
func SortSearchResults(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Record.Filename != results[j].Record.Filename {
			return results[i].Record.Filename < results[j].Record.Filename
		}
		return results[i].Record.ChunkNumber < results[j].Record.ChunkNumber
	})
}
