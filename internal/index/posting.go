// Package index holds the query-time view of the inverted index: postings,
// collection statistics, stored documents and the store contracts the search
// pipeline reads them through.
package index

// Term is a normalized index token. Terms compare by plain string equality.
type Term = string

// Posting records one (term, document) occurrence.
type Posting struct {
	DocID         string `json:"doc_id"`
	TermFrequency int    `json:"tf"`
	DocLength     int    `json:"doc_len"`
}

// PostingList is every posting of one term. Its length is the term's
// document frequency.
type PostingList []Posting

// CollectionStats are the global statistics scoring is normalized against.
type CollectionStats struct {
	DocumentCount int64   `json:"n"`
	AvgDocLength  float64 `json:"avgdl"`
}

// ImageRef points at an image asset attached to a document.
type ImageRef struct {
	ImageID string `json:"image_id"`
	Caption string `json:"caption,omitempty"`
}

// Document is a stored document as returned by the document store. Body is
// kept as the list of lines it was crawled as.
type Document struct {
	DocID    string     `json:"doc_id"`
	Title    string     `json:"title"`
	Filename string     `json:"filename"`
	URL      string     `json:"url"`
	Body     []string   `json:"body"`
	Images   []ImageRef `json:"images,omitempty"`
}
