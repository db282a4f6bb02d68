package analytics

import (
	"math"
	"sort"
)

// standing is the position of one group among all groups of an aggregation.
type standing struct {
	Rank       int     // 1 + number of groups with a strictly greater value
	Percentile float64 // groups strictly smaller / (n-1); 0 when n == 1
	Share      float64 // value / sum of values * 100
	Cumulative float64 // running Share in rank order
}

// rankGroups sorts rows by value descending (ties by key ascending) and
// calls apply with each row's standing.
func rankGroups[R any](rows []R, value func(*R) int64, key func(*R) string, apply func(*R, standing)) {
	sort.SliceStable(rows, func(i, j int) bool {
		vi, vj := value(&rows[i]), value(&rows[j])
		if vi != vj {
			return vi > vj
		}
		return key(&rows[i]) < key(&rows[j])
	})

	n := len(rows)
	var total int64
	for i := range rows {
		total += value(&rows[i])
	}

	var running int64
	rank, blockEnd := 0, 0
	for i := range rows {
		v := value(&rows[i])
		if i == 0 || v != value(&rows[i-1]) {
			rank = i + 1
			blockEnd = i
			for blockEnd+1 < n && value(&rows[blockEnd+1]) == v {
				blockEnd++
			}
		}
		running += v

		st := standing{Rank: rank}
		if n > 1 {
			st.Percentile = float64(n-1-blockEnd) / float64(n-1)
		}
		if total > 0 {
			st.Share = float64(v) * 100 / float64(total)
			st.Cumulative = float64(running) * 100 / float64(total)
		}
		apply(&rows[i], st)
	}
}

// round rounds half away from zero to the given number of decimals.
func round(v float64, decimals int) float64 {
	p := math.Pow10(decimals)
	return math.Round(v*p) / p
}

// mean is sum/count rounded to two decimals; 0 for an empty group.
func mean(sum, count int64) float64 {
	if count == 0 {
		return 0
	}
	return round(float64(sum)/float64(count), 2)
}
