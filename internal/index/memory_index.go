package index

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	apperrors "github.com/wikisearch/search-engine/pkg/errors"
)

// MemoryIndex is an in-memory PostingStore and DocumentStore. It backs the
// "memory" store backend and the tests of every stage of the pipeline.
type MemoryIndex struct {
	mu          sync.RWMutex
	index       map[Term]map[string]*Posting
	docs        map[string]Document
	docLengths  map[string]int
	totalTokens int64
	statsOver   *CollectionStats

	postingErr  error
	documentErr error

	postingCalls  atomic.Int64
	documentCalls atomic.Int64
	lastTerms     []Term
	lastIDs       []string
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		index:      make(map[Term]map[string]*Posting),
		docs:       make(map[string]Document),
		docLengths: make(map[string]int),
	}
}

// AddDocument stores doc and indexes its already-normalized terms. The
// document length is the number of terms. Re-adding an id replaces it.
func (m *MemoryIndex) AddDocument(doc Document, terms []Term) {
	termData := make(map[Term]*Posting)
	for _, term := range terms {
		p, exists := termData[term]
		if !exists {
			p = &Posting{DocID: doc.DocID}
			termData[term] = p
		}
		p.TermFrequency++
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.removeLocked(doc.DocID)
	for term, posting := range termData {
		posting.DocLength = len(terms)
		if _, exists := m.index[term]; !exists {
			m.index[term] = make(map[string]*Posting)
		}
		m.index[term][doc.DocID] = posting
	}
	m.docs[doc.DocID] = doc
	m.docLengths[doc.DocID] = len(terms)
	m.totalTokens += int64(len(terms))
}

// AddPosting inserts a raw posting without touching the stored documents or
// the derived statistics.
func (m *MemoryIndex) AddPosting(term Term, p Posting) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.index[term]; !exists {
		m.index[term] = make(map[string]*Posting)
	}
	cp := p
	m.index[term][p.DocID] = &cp
}

// PutDocument stores doc for hydration without indexing any terms.
func (m *MemoryIndex) PutDocument(doc Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.DocID] = doc
}

// SetStats pins the collection statistics instead of deriving them from the
// added documents. Nil restores derivation.
func (m *MemoryIndex) SetStats(stats *CollectionStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statsOver = stats
}

// FailWith makes every following FetchPostings call return err.
func (m *MemoryIndex) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.postingErr = err
}

// FailDocumentsWith makes every following FetchDocuments call return err.
func (m *MemoryIndex) FailDocumentsWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documentErr = err
}

func (m *MemoryIndex) Stats() CollectionStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statsLocked()
}

func (m *MemoryIndex) statsLocked() CollectionStats {
	if m.statsOver != nil {
		return *m.statsOver
	}
	n := int64(len(m.docLengths))
	if n == 0 {
		return CollectionStats{}
	}
	return CollectionStats{
		DocumentCount: n,
		AvgDocLength:  float64(m.totalTokens) / float64(n),
	}
}

func (m *MemoryIndex) FetchPostings(ctx context.Context, terms []Term) (CollectionStats, map[Term]PostingList, error) {
	m.postingCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return CollectionStats{}, nil, err
	}

	m.mu.Lock()
	m.lastTerms = append([]Term(nil), terms...)
	m.mu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.postingErr != nil {
		return CollectionStats{}, nil, apperrors.StoreUnavailable("fetch postings", m.postingErr)
	}
	result := make(map[Term]PostingList, len(terms))
	for _, term := range terms {
		docs, exists := m.index[term]
		if !exists || len(docs) == 0 {
			continue
		}
		postings := make(PostingList, 0, len(docs))
		for _, posting := range docs {
			postings = append(postings, *posting)
		}
		sort.Slice(postings, func(i, j int) bool {
			return postings[i].DocID < postings[j].DocID
		})
		result[term] = postings
	}
	return m.statsLocked(), result, nil
}

// FetchDocuments returns the known documents among ids in map order, which
// is deliberately unrelated to the request order.
func (m *MemoryIndex) FetchDocuments(ctx context.Context, ids []string) ([]Document, error) {
	m.documentCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.lastIDs = append([]string(nil), ids...)
	m.mu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.documentErr != nil {
		return nil, apperrors.StoreUnavailable("fetch documents", m.documentErr)
	}
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	docs := make([]Document, 0, len(ids))
	for id := range wanted {
		if doc, ok := m.docs[id]; ok {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func (m *MemoryIndex) PostingCalls() int64  { return m.postingCalls.Load() }
func (m *MemoryIndex) DocumentCalls() int64 { return m.documentCalls.Load() }

// LastTerms returns the term set of the most recent FetchPostings call.
func (m *MemoryIndex) LastTerms() []Term {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Term(nil), m.lastTerms...)
}

// LastIDs returns the id set of the most recent FetchDocuments call.
func (m *MemoryIndex) LastIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.lastIDs...)
}

func (m *MemoryIndex) DocCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

// Ping always succeeds; it lets the memory backend share health checks with
// remote stores.
func (m *MemoryIndex) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *MemoryIndex) removeLocked(docID string) {
	if n, ok := m.docLengths[docID]; ok {
		m.totalTokens -= int64(n)
		delete(m.docLengths, docID)
	}
	for term, docs := range m.index {
		if _, ok := docs[docID]; ok {
			delete(docs, docID)
			if len(docs) == 0 {
				delete(m.index, term)
			}
		}
	}
	delete(m.docs, docID)
}

// SeedDocument is one entry of a JSON seed file for the memory backend.
type SeedDocument struct {
	Document
	Text string `json:"text,omitempty"`
}

// LoadSeed reads a JSON array of SeedDocument and indexes each one, using
// normalize to turn the document text (or its body lines when text is empty)
// into terms. It returns the number of documents loaded.
func (m *MemoryIndex) LoadSeed(r io.Reader, normalize func(string) []Term) (int, error) {
	var seed []SeedDocument
	if err := json.NewDecoder(r).Decode(&seed); err != nil {
		return 0, fmt.Errorf("decoding seed documents: %w", err)
	}
	for i, sd := range seed {
		if sd.DocID == "" {
			return i, fmt.Errorf("seed document %d has no doc_id", i)
		}
		text := sd.Text
		if text == "" {
			text = strings.Join(sd.Body, " ")
		} else if len(sd.Body) == 0 {
			sd.Body = []string{text}
		}
		m.AddDocument(sd.Document, normalize(sd.Title+" "+text))
	}
	return len(seed), nil
}
