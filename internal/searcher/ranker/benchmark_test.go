package ranker

import (
	"fmt"
	"testing"

	"github.com/wikisearch/search-engine/internal/searcher/scorer"
)

// BenchmarkRank measures top-K selection over growing candidate sets.
func BenchmarkRank(b *testing.B) {
	for _, numDocs := range []int{100, 10000, 100000} {
		scores := make(scorer.Accumulator, numDocs)
		for i := 0; i < numDocs; i++ {
			scores[fmt.Sprintf("doc-%d", i)] = float64((i*7919)%1000) / 10
		}
		for _, k := range []int{10, 100} {
			b.Run(fmt.Sprintf("docs_%d/top_%d", numDocs, k), func(b *testing.B) {
				b.ReportAllocs()
				b.ResetTimer()
				for i := 0; i < b.N; i++ {
					if _, err := Rank(scores, k); err != nil {
						b.Fatal(err)
					}
				}
			})
		}
	}
}
