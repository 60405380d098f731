package index

import "context"

// PostingStore reads postings and collection statistics.
//
// FetchPostings receives a de-duplicated term set and performs one batched
// lookup. The returned map only contains terms that have at least one
// posting; callers must not assume every requested term is present. Failures
// are reported wrapped in errors.ErrStoreUnavailable.
type PostingStore interface {
	FetchPostings(ctx context.Context, terms []Term) (CollectionStats, map[Term]PostingList, error)
}

// DocumentStore resolves document ids to stored documents in one batched
// call. The result order is unspecified and unknown ids are simply absent.
type DocumentStore interface {
	FetchDocuments(ctx context.Context, ids []string) ([]Document, error)
}

// PostingStoreFunc adapts a function to PostingStore.
type PostingStoreFunc func(ctx context.Context, terms []Term) (CollectionStats, map[Term]PostingList, error)

func (f PostingStoreFunc) FetchPostings(ctx context.Context, terms []Term) (CollectionStats, map[Term]PostingList, error) {
	return f(ctx, terms)
}

// DocumentStoreFunc adapts a function to DocumentStore.
type DocumentStoreFunc func(ctx context.Context, ids []string) ([]Document, error)

func (f DocumentStoreFunc) FetchDocuments(ctx context.Context, ids []string) ([]Document, error) {
	return f(ctx, ids)
}
