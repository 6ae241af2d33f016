package vote

import (
	"math"
	"strconv"

	"github.com/samber/lo"
)

type Stats struct {
	TotalVotes int      `json:"totalVotes"`
	Average    *float64 `json:"average"`
	Min        *int     `json:"min"`
	Max        *int     `json:"max"`
	Consensus  bool     `json:"consensus"`
}

// ComputeStats ? 和 ∞ 不参与计算；共识 = 多于一票且剩下的牌面只有一种
func ComputeStats(votes []*Vote) Stats {
	values := lo.FilterMap(votes, func(v *Vote, _ int) (string, bool) {
		return v.Value, v.Value != CardUnsure && v.Value != CardInfinity
	})
	nums := lo.FilterMap(values, func(s string, _ int) (int, bool) {
		n, err := strconv.Atoi(s)
		return n, err == nil
	})

	st := Stats{
		TotalVotes: len(votes),
		Consensus:  len(votes) > 1 && len(lo.Uniq(values)) == 1,
	}
	if len(nums) > 0 {
		avg := math.Round(float64(lo.Sum(nums))/float64(len(nums))*10) / 10
		mn, mx := lo.Min(nums), lo.Max(nums)
		st.Average, st.Min, st.Max = &avg, &mn, &mx
	}
	return st
}
