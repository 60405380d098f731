package ranker

import (
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wikisearch/search-engine/internal/searcher/scorer"
	apperrors "github.com/wikisearch/search-engine/pkg/errors"
)

func TestRank_RejectsNonPositiveTopK(t *testing.T) {
	for _, k := range []int{0, -3} {
		_, err := Rank(scorer.Accumulator{"a": 1}, k)
		assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
	}
}

func TestRank_OrdersByScoreThenDocID(t *testing.T) {
	scores := scorer.Accumulator{
		"charlie": 2.0,
		"alpha":   2.0,
		"bravo":   5.5,
		"delta":   0.1,
		"echo":    2.0,
	}
	got, err := Rank(scores, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"bravo", "alpha", "charlie", "echo", "delta"}, got.DocIDs())
}

func TestRank_TruncatesToTopK(t *testing.T) {
	scores := scorer.Accumulator{"a": 1, "b": 3, "c": 3, "d": 2}
	got, err := Rank(scores, 2)
	require.NoError(t, err)
	assert.Equal(t, RankedResult{{DocID: "b", Score: 3}, {DocID: "c", Score: 3}}, got)
}

func TestRank_EmptyScores(t *testing.T) {
	got, err := Rank(nil, 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRank_AgreesWithFullSort(t *testing.T) {
	scores := make(scorer.Accumulator)
	for i := 0; i < 500; i++ {
		scores[fmt.Sprintf("doc-%03d", i)] = float64((i * 37) % 23)
	}
	all := make(RankedResult, 0, len(scores))
	for id, s := range scores {
		all = append(all, ScoredDoc{DocID: id, Score: s})
	}
	sort.Slice(all, func(i, j int) bool { return better(all[i], all[j]) })

	for _, k := range []int{1, 7, 50, 500, 1000} {
		got, err := Rank(scores, k)
		require.NoError(t, err)
		want := all
		if k < len(all) {
			want = all[:k]
		}
		assert.Equal(t, want, got, "topK=%d", k)
	}
}
