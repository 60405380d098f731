// Package postgres implements the posting and document stores on
// PostgreSQL. It expects the schema written by the indexing pipeline:
//
//	CREATE TABLE postings (
//	    term    TEXT    NOT NULL,
//	    doc_id  TEXT    NOT NULL,
//	    tf      INTEGER NOT NULL CHECK (tf >= 0),
//	    doc_len INTEGER NOT NULL CHECK (doc_len > 0),
//	    PRIMARY KEY (term, doc_id)
//	);
//
//	CREATE TABLE collection_stats (
//	    id          SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
//	    doc_count   BIGINT           NOT NULL,
//	    avg_doc_len DOUBLE PRECISION NOT NULL
//	);
//
//	CREATE TABLE documents (
//	    doc_id         TEXT PRIMARY KEY,
//	    title          TEXT   NOT NULL DEFAULT '',
//	    filename       TEXT   NOT NULL DEFAULT '',
//	    url            TEXT   NOT NULL DEFAULT '',
//	    body           TEXT[] NOT NULL DEFAULT '{}',
//	    image_ids      TEXT[] NOT NULL DEFAULT '{}',
//	    image_captions TEXT[] NOT NULL DEFAULT '{}'
//	);
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"github.com/wikisearch/search-engine/internal/index"
	apperrors "github.com/wikisearch/search-engine/pkg/errors"
)

const (
	postingsQuery = `SELECT term, doc_id, tf, doc_len FROM postings WHERE term = ANY($1) ORDER BY term, doc_id`
	statsQuery    = `SELECT doc_count, avg_doc_len FROM collection_stats WHERE id = 1`
	documentQuery = `SELECT doc_id, title, filename, url, body, image_ids, image_captions FROM documents WHERE doc_id = ANY($1)`
)

// Store reads postings, statistics and documents through a shared pool.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "postgres-store"),
	}
}

// FetchPostings runs the postings lookup and the statistics read
// concurrently. Both must succeed.
func (s *Store) FetchPostings(ctx context.Context, terms []index.Term) (index.CollectionStats, map[index.Term]index.PostingList, error) {
	if len(terms) == 0 {
		return index.CollectionStats{}, map[index.Term]index.PostingList{}, nil
	}

	var (
		stats    index.CollectionStats
		postings map[index.Term]index.PostingList
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stats, err = s.readStats(gctx)
		return err
	})
	g.Go(func() error {
		rows, err := s.db.QueryContext(gctx, postingsQuery, pq.Array(terms))
		if err != nil {
			return fmt.Errorf("querying postings: %w", err)
		}
		defer rows.Close()
		postings, err = scanPostings(rows)
		return err
	})
	if err := g.Wait(); err != nil {
		return index.CollectionStats{}, nil, s.wrap(ctx, "fetch postings", err)
	}

	s.logger.Debug("postings fetched", "terms", len(terms), "matched", len(postings))
	return stats, postings, nil
}

func (s *Store) readStats(ctx context.Context) (index.CollectionStats, error) {
	var stats index.CollectionStats
	err := s.db.QueryRowContext(ctx, statsQuery).Scan(&stats.DocumentCount, &stats.AvgDocLength)
	if errors.Is(err, sql.ErrNoRows) {
		// An empty index has no statistics row yet.
		return index.CollectionStats{}, nil
	}
	if err != nil {
		return index.CollectionStats{}, fmt.Errorf("reading collection stats: %w", err)
	}
	return stats, nil
}

// FetchDocuments loads ids in a single query. Unknown ids are absent from
// the result.
func (s *Store) FetchDocuments(ctx context.Context, ids []string) ([]index.Document, error) {
	if len(ids) == 0 {
		return []index.Document{}, nil
	}
	rows, err := s.db.QueryContext(ctx, documentQuery, pq.Array(ids))
	if err != nil {
		return nil, s.wrap(ctx, "fetch documents", fmt.Errorf("querying documents: %w", err))
	}
	defer rows.Close()

	docs, err := scanDocuments(rows)
	if err != nil {
		return nil, s.wrap(ctx, "fetch documents", err)
	}
	return docs, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// wrap reports cancellation as is and everything else as ErrStoreUnavailable.
func (s *Store) wrap(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	s.logger.Error("store call failed", "op", op, "error", err)
	return apperrors.StoreUnavailable(op, err)
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanPostings(rows rowScanner) (map[index.Term]index.PostingList, error) {
	postings := make(map[index.Term]index.PostingList)
	for rows.Next() {
		var (
			term index.Term
			p    index.Posting
		)
		if err := rows.Scan(&term, &p.DocID, &p.TermFrequency, &p.DocLength); err != nil {
			return nil, fmt.Errorf("scanning posting: %w", err)
		}
		postings[term] = append(postings[term], p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating postings: %w", err)
	}
	return postings, nil
}

func scanDocuments(rows rowScanner) ([]index.Document, error) {
	docs := make([]index.Document, 0)
	for rows.Next() {
		var (
			doc      index.Document
			body     pq.StringArray
			imageIDs pq.StringArray
			captions pq.StringArray
		)
		if err := rows.Scan(&doc.DocID, &doc.Title, &doc.Filename, &doc.URL, &body, &imageIDs, &captions); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		doc.Body = []string(body)
		doc.Images = make([]index.ImageRef, 0, len(imageIDs))
		for i, id := range imageIDs {
			ref := index.ImageRef{ImageID: id}
			if i < len(captions) {
				ref.Caption = captions[i]
			}
			doc.Images = append(doc.Images, ref)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	return docs, nil
}
