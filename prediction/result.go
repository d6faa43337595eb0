package prediction

import (
	"sort"
	"strconv"
	"strings"
)

const (
	// Disclaimer 固定免责声明
	Disclaimer = "This is not a medical diagnosis"
	// TopN 返回的候选疾病数量
	TopN = 3
)

// Result 预测结果
// 字段按字母序声明，序列化后与原有接口的键顺序一致
type Result struct {
	ConfidencePercent Percent  `json:"confidence_percent"`
	Disclaimer        string   `json:"disclaimer"`
	PredictedDisease  string   `json:"predicted_disease"`
	TopDiseases       []string `json:"top_3_diseases"`
}

func (r *Result) clone() *Result {
	out := *r
	out.TopDiseases = append([]string(nil), r.TopDiseases...)
	return &out
}

// Percent is a percentage rounded to two decimals. It always marshals with a
// fractional part ("70.0", not "70") so clients parsing it as a float see
// the same text as before.
type Percent float64

func (p Percent) MarshalJSON() ([]byte, error) {
	s := strconv.FormatFloat(float64(p), 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return []byte(s), nil
}

// RoundPercent converts a probability to a percentage with two decimals.
// Exact halves round to even, so 3.125 becomes 3.12.
func RoundPercent(p float64) Percent {
	rounded, err := strconv.ParseFloat(strconv.FormatFloat(p*100, 'f', 2, 64), 64)
	if err != nil {
		return Percent(p * 100)
	}
	return Percent(rounded)
}

// Rank returns the indices of dist ordered by descending probability.
// Equal probabilities keep ascending index order.
func Rank(dist []float64) []int {
	idx := make([]int, len(dist))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return dist[idx[a]] > dist[idx[b]]
	})
	return idx
}
