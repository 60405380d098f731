// Package scorer turns postings into additive per-document relevance scores.
package scorer

import (
	"math"
	"strings"

	"github.com/wikisearch/search-engine/internal/index"
	apperrors "github.com/wikisearch/search-engine/pkg/errors"
)

const (
	k1 = 1.5
	b  = 0.75
)

type Method string

const (
	TFIDF Method = "tfidf"
	BM25  Method = "bm25"
)

// ParseMethod never fails: empty and unknown names select TFIDF.
func ParseMethod(s string) Method {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(BM25):
		return BM25
	default:
		return TFIDF
	}
}

func (m Method) String() string { return string(m) }

// Accumulator maps a document id to its total score. Documents that received
// no contribution are absent.
type Accumulator map[string]float64

// Score sums the contribution of every term, in order, over its postings.
// Repeated terms contribute once per occurrence and terms without postings
// are skipped.
func Score(terms []index.Term, postings map[index.Term]index.PostingList, stats index.CollectionStats, method Method) (Accumulator, error) {
	scores := make(Accumulator)
	for _, term := range terms {
		list := postings[term]
		df := int64(len(list))
		if df == 0 {
			continue
		}
		if err := validate(term, df, stats, method); err != nil {
			return nil, err
		}
		switch method {
		case BM25:
			idf := bm25IDF(stats.DocumentCount, df)
			for _, p := range list {
				if err := validatePosting(term, p); err != nil {
					return nil, err
				}
				if p.DocLength <= 0 {
					return nil, apperrors.InvalidStatisticsf("posting %q/%q has document length %d", term, p.DocID, p.DocLength)
				}
				scores[p.DocID] += idf * bm25TFNorm(float64(p.TermFrequency), float64(p.DocLength), stats.AvgDocLength)
			}
		default:
			idf := tfidfIDF(stats.DocumentCount, df)
			for _, p := range list {
				if err := validatePosting(term, p); err != nil {
					return nil, err
				}
				scores[p.DocID] += float64(p.TermFrequency) * idf
			}
		}
	}
	return scores, nil
}

func validate(term index.Term, df int64, stats index.CollectionStats, method Method) error {
	if stats.DocumentCount <= 0 {
		return apperrors.InvalidStatisticsf("document count %d with postings for %q", stats.DocumentCount, term)
	}
	if df > stats.DocumentCount {
		return apperrors.InvalidStatisticsf("document frequency %d of %q exceeds document count %d", df, term, stats.DocumentCount)
	}
	if method == BM25 && !(stats.AvgDocLength > 0) {
		return apperrors.InvalidStatisticsf("average document length %v", stats.AvgDocLength)
	}
	return nil
}

func validatePosting(term index.Term, p index.Posting) error {
	if p.TermFrequency < 0 {
		return apperrors.InvalidStatisticsf("posting %q/%q has term frequency %d", term, p.DocID, p.TermFrequency)
	}
	return nil
}

func tfidfIDF(totalDocs, docFreq int64) float64 {
	return math.Log(float64(totalDocs) / float64(docFreq))
}

func bm25IDF(totalDocs, docFreq int64) float64 {
	numerator := float64(totalDocs) - float64(docFreq) + 0.5
	denominator := float64(docFreq) + 0.5
	return math.Log(numerator/denominator + 1)
}

func bm25TFNorm(termFreq, docLength, avgDocLength float64) float64 {
	lengthRatio := docLength / avgDocLength
	denominator := termFreq + k1*(1-b+b*lengthRatio)
	return (termFreq * (k1 + 1)) / denominator
}
