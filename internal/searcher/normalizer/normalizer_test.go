package normalizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"lowercases and stems", "Running Goals", []string{"run", "goal"}},
		{"drops stop-words and punctuation", "the goals of Argentina!", []string{"goal", "argentina"}},
		{"keeps duplicates in order", "messi, Messi; MESSI", []string{"messi", "messi", "messi"}},
		{"drops single characters", "a b c world", []string{"world"}},
		{"keeps digits", "World Cup 2022", []string{"world", "cup", "2022"}},
		{"empty", "   ", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalize_QueryAndDocumentAgree(t *testing.T) {
	doc := Normalize("Messi played for Argentina and scored many goals.")
	query := Normalize("argentina goal")
	for _, term := range query {
		assert.Contains(t, doc, term)
	}
}

func BenchmarkNormalize(b *testing.B) {
	text := strings.Repeat(`Information retrieval systems form the backbone of modern search
        infrastructure. The inverted index maps each term to the documents containing it.
        BM25 ranking considers term frequency, document length normalization,
        and inverse document frequency to produce relevance scores. `, 20)
	b.ReportAllocs()
	b.SetBytes(int64(len(text)))
	for i := 0; i < b.N; i++ {
		_ = Normalize(text)
	}
}
