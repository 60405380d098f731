// Package hydrator turns ranked document ids into display records.
package hydrator

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/wikisearch/search-engine/internal/index"
	"github.com/wikisearch/search-engine/internal/searcher/ranker"
	"github.com/wikisearch/search-engine/pkg/logger"
)

// FetchFunc resolves a batch of document ids. Order of the result is free and
// unknown ids may be missing.
type FetchFunc func(ctx context.Context, ids []string) ([]index.Document, error)

type DisplayRecord struct {
	DocID     string   `json:"doc_id"`
	Title     string   `json:"title"`
	Filename  string   `json:"filename,omitempty"`
	Snippet   string   `json:"snippet"`
	URL       string   `json:"url,omitempty"`
	ImageRefs []string `json:"image_refs"`
	Score     float64  `json:"score"`
}

// Hydrate fetches every ranked document in a single call and returns their
// display records in ranked order. Ranked ids the store does not return are
// dropped.
func Hydrate(ctx context.Context, ranked ranker.RankedResult, fetch FetchFunc, policy SnippetPolicy) ([]DisplayRecord, error) {
	if len(ranked) == 0 {
		return []DisplayRecord{}, nil
	}
	docs, err := fetch(ctx, ranked.DocIDs())
	if err != nil {
		return nil, fmt.Errorf("fetching documents: %w", err)
	}
	byID := make(map[string]index.Document, len(docs))
	for _, doc := range docs {
		byID[doc.DocID] = doc
	}

	records := make([]DisplayRecord, 0, len(ranked))
	for _, sd := range ranked {
		doc, ok := byID[sd.DocID]
		if !ok {
			logger.FromContext(ctx).Debug("ranked document missing from store", "doc_id", sd.DocID)
			continue
		}
		records = append(records, project(doc, sd.Score, policy))
	}
	return records, nil
}

func project(doc index.Document, score float64, policy SnippetPolicy) DisplayRecord {
	refs := make([]string, 0, len(doc.Images))
	for _, img := range doc.Images {
		if img.ImageID != "" {
			refs = append(refs, img.ImageID)
		}
	}
	return DisplayRecord{
		DocID:     doc.DocID,
		Title:     displayTitle(doc),
		Filename:  doc.Filename,
		Snippet:   policy.Apply(doc.Body),
		URL:       doc.URL,
		ImageRefs: refs,
		Score:     score,
	}
}

// displayTitle falls back to the filename without its extension, then to
// the document id.
func displayTitle(doc index.Document) string {
	if doc.Title != "" {
		return doc.Title
	}
	if name := strings.TrimSuffix(doc.Filename, filepath.Ext(doc.Filename)); name != "" {
		return name
	}
	return doc.DocID
}
