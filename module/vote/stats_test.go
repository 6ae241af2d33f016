package vote

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func votesOf(values ...string) []*Vote {
	out := make([]*Vote, 0, len(values))
	for _, v := range values {
		out = append(out, &Vote{Value: v})
	}
	return out
}

func TestComputeStats(t *testing.T) {
	st := ComputeStats(votesOf("3", "5", "8", "?"))
	assert.Equal(t, 4, st.TotalVotes)
	require.NotNil(t, st.Average)
	assert.Equal(t, 5.3, *st.Average)
	assert.Equal(t, 3, *st.Min)
	assert.Equal(t, 8, *st.Max)
	assert.False(t, st.Consensus)

	st = ComputeStats(votesOf("5", "5"))
	assert.True(t, st.Consensus)
	assert.Equal(t, 5.0, *st.Average)

	// 只有一票不算共识
	st = ComputeStats(votesOf("5"))
	assert.False(t, st.Consensus)

	st = ComputeStats(votesOf("?", "∞"))
	assert.Nil(t, st.Average)
	assert.Nil(t, st.Min)
	assert.Nil(t, st.Max)
	assert.False(t, st.Consensus)

	st = ComputeStats(nil)
	assert.Equal(t, 0, st.TotalVotes)
	assert.False(t, st.Consensus)
}

func TestValidCard(t *testing.T) {
	for _, c := range Deck {
		assert.True(t, ValidCard(c), c)
	}
	assert.False(t, ValidCard("4"))
	assert.False(t, ValidCard(""))
}
