// Package ranker orders scored documents and selects the top K.
package ranker

import (
	"container/heap"

	"github.com/wikisearch/search-engine/internal/searcher/scorer"
	apperrors "github.com/wikisearch/search-engine/pkg/errors"
)

type ScoredDoc struct {
	DocID string  `json:"doc_id"`
	Score float64 `json:"score"`
}

// RankedResult is ordered by score descending, ties by doc id ascending.
type RankedResult []ScoredDoc

// Rank keeps the topK best documents of scores. Only a heap of topK entries
// is maintained, so the full candidate set is never sorted.
func Rank(scores scorer.Accumulator, topK int) (RankedResult, error) {
	if topK <= 0 {
		return nil, apperrors.InvalidArgumentf("topK must be positive, got %d", topK)
	}
	h := make(scoredDocHeap, 0, min(topK, len(scores))+1)
	for docID, score := range scores {
		doc := ScoredDoc{DocID: docID, Score: score}
		if h.Len() < topK {
			heap.Push(&h, doc)
			continue
		}
		if better(doc, h[0]) {
			h[0] = doc
			heap.Fix(&h, 0)
		}
	}
	result := make(RankedResult, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(&h).(ScoredDoc)
	}
	return result, nil
}

// better reports whether a ranks strictly ahead of b.
func better(a, b ScoredDoc) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.DocID < b.DocID
}

// scoredDocHeap is a min-heap on rank: the root is the worst kept document.
type scoredDocHeap []ScoredDoc

func (h scoredDocHeap) Len() int { return len(h) }

func (h scoredDocHeap) Less(i, j int) bool { return better(h[j], h[i]) }

func (h scoredDocHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *scoredDocHeap) Push(x interface{}) {
	*h = append(*h, x.(ScoredDoc))
}

func (h *scoredDocHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// DocIDs returns the ids in ranked order.
func (r RankedResult) DocIDs() []string {
	ids := make([]string, len(r))
	for i, d := range r {
		ids[i] = d.DocID
	}
	return ids
}
