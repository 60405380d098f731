package scorer

import (
	"fmt"
	"testing"

	"github.com/wikisearch/search-engine/internal/index"
)

func syntheticPostings(terms, docs int) ([]index.Term, map[index.Term]index.PostingList) {
	query := make([]index.Term, terms)
	postings := make(map[index.Term]index.PostingList, terms)
	for t := 0; t < terms; t++ {
		term := fmt.Sprintf("term%d", t)
		query[t] = term
		pl := make(index.PostingList, docs)
		for i := 0; i < docs; i++ {
			pl[i] = index.Posting{
				DocID:         fmt.Sprintf("doc-%d", (i*(t+1))%(docs*2)),
				TermFrequency: (i % 10) + 1,
				DocLength:     100 + (i % 400),
			}
		}
		postings[term] = pl
	}
	return query, postings
}

// BenchmarkScore measures scoring for different posting-list sizes under
// both methods.
func BenchmarkScore(b *testing.B) {
	for _, method := range []Method{TFIDF, BM25} {
		for _, numDocs := range []int{100, 1000, 10000} {
			b.Run(fmt.Sprintf("%s/docs_%d", method, numDocs), func(b *testing.B) {
				terms, postings := syntheticPostings(1, numDocs)
				stats := index.CollectionStats{DocumentCount: int64(numDocs * 2), AvgDocLength: 300}
				b.ReportAllocs()
				b.ResetTimer()
				for i := 0; i < b.N; i++ {
					if _, err := Score(terms, postings, stats, method); err != nil {
						b.Fatal(err)
					}
				}
			})
		}
	}
}

// BenchmarkScoreMultiTerm measures accumulation across an increasing number
// of query terms.
func BenchmarkScoreMultiTerm(b *testing.B) {
	for _, numTerms := range []int{1, 3, 5, 10} {
		b.Run(fmt.Sprintf("terms_%d", numTerms), func(b *testing.B) {
			terms, postings := syntheticPostings(numTerms, 1000)
			stats := index.CollectionStats{DocumentCount: 5000, AvgDocLength: 300}
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := Score(terms, postings, stats, BM25); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
