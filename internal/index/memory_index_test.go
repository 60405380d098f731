package index

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/wikisearch/search-engine/pkg/errors"
)

func TestMemoryIndex_AddDocumentDerivesPostingsAndStats(t *testing.T) {
	m := NewMemoryIndex()
	m.AddDocument(Document{DocID: "messi"}, []Term{"messi", "argentina", "messi", "goal"})
	m.AddDocument(Document{DocID: "maradona"}, []Term{"argentina", "napoli"})

	stats, postings, err := m.FetchPostings(context.Background(), []Term{"messi", "argentina", "cricket"})
	require.NoError(t, err)

	assert.Equal(t, CollectionStats{DocumentCount: 2, AvgDocLength: 3}, stats)
	assert.Equal(t, PostingList{{DocID: "messi", TermFrequency: 2, DocLength: 4}}, postings["messi"])
	require.Len(t, postings["argentina"], 2)
	assert.Equal(t, "maradona", postings["argentina"][0].DocID)

	_, present := postings["cricket"]
	assert.False(t, present, "terms without postings must be absent, not empty")
}

func TestMemoryIndex_ReAddReplacesDocument(t *testing.T) {
	m := NewMemoryIndex()
	m.AddDocument(Document{DocID: "d1"}, []Term{"alpha", "beta"})
	m.AddDocument(Document{DocID: "d1"}, []Term{"gamma"})

	stats, postings, err := m.FetchPostings(context.Background(), []Term{"alpha", "gamma"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.DocumentCount)
	assert.Equal(t, 1.0, stats.AvgDocLength)
	assert.NotContains(t, postings, "alpha")
	assert.Contains(t, postings, "gamma")
}

func TestMemoryIndex_SetStatsOverrides(t *testing.T) {
	m := NewMemoryIndex()
	m.AddPosting("messi", Posting{DocID: "D1", TermFrequency: 3, DocLength: 120})
	m.SetStats(&CollectionStats{DocumentCount: 1000, AvgDocLength: 250})

	stats, _, err := m.FetchPostings(context.Background(), []Term{"messi"})
	require.NoError(t, err)
	assert.Equal(t, CollectionStats{DocumentCount: 1000, AvgDocLength: 250}, stats)
}

func TestMemoryIndex_FailuresAreStoreUnavailable(t *testing.T) {
	m := NewMemoryIndex()
	m.FailWith(errors.New("connection refused"))
	m.FailDocumentsWith(errors.New("connection reset"))

	_, _, err := m.FetchPostings(context.Background(), []Term{"x"})
	assert.ErrorIs(t, err, apperrors.ErrStoreUnavailable)

	_, err = m.FetchDocuments(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, apperrors.ErrStoreUnavailable)
}

func TestMemoryIndex_FetchDocumentsSkipsUnknown(t *testing.T) {
	m := NewMemoryIndex()
	m.PutDocument(Document{DocID: "a"})
	m.PutDocument(Document{DocID: "b"})

	docs, err := m.FetchDocuments(context.Background(), []string{"b", "zzz", "a"})
	require.NoError(t, err)
	assert.Len(t, docs, 2)
	assert.Equal(t, int64(1), m.DocumentCalls())
	assert.Equal(t, []string{"b", "zzz", "a"}, m.LastIDs())
}

func TestMemoryIndex_HonoursCancellation(t *testing.T) {
	m := NewMemoryIndex()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := m.FetchPostings(ctx, []Term{"x"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryIndex_LoadSeed(t *testing.T) {
	seed := `[
		{"doc_id": "Lionel_Messi", "title": "Lionel Messi", "url": "https://en.wikipedia.org/wiki/Lionel_Messi",
		 "body": ["Messi plays for Argentina.", "He won the World Cup."],
		 "images": [{"image_id": "messi_01"}]},
		{"doc_id": "Buenos_Aires", "text": "Buenos Aires is the capital of Argentina."}
	]`
	m := NewMemoryIndex()
	n, err := m.LoadSeed(strings.NewReader(seed), func(s string) []Term {
		return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool { return !unicode.IsLetter(r) })
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, postings, err := m.FetchPostings(context.Background(), []Term{"argentina"})
	require.NoError(t, err)
	assert.Len(t, postings["argentina"], 2)

	docs, err := m.FetchDocuments(context.Background(), []string{"Buenos_Aires"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, []string{"Buenos Aires is the capital of Argentina."}, docs[0].Body)
}

func TestMemoryIndex_LoadSeedRejectsMissingID(t *testing.T) {
	_, err := NewMemoryIndex().LoadSeed(strings.NewReader(`[{"title": "x"}]`), strings.Fields)
	assert.Error(t, err)
}
