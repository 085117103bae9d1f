// Package rag implements RAG: policy-document ingestion, chunking,
// embedding, and citation-carrying search, per spec §4.7.
package rag

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	sqvect "github.com/liliang-cn/sqvect/v2"

	"github.com/globetrotter-labs/travel-assistant/internal/travelerrors"
)

// Chunking parameters from spec §4.7 ("approximately 400-token windows
// with ~50-token overlap"). A token is approximated as whitespace-split
// words, the same rough unit the rest of the corpus's text tooling uses
// when no tokenizer is wired in.
const (
	DefaultChunkTokens   = 400
	DefaultOverlapTokens = 50
)

// Embedder turns text into a fixed-dimension vector. gomind carries no
// embedding-specific client (its AIClient is prompt/completion shaped),
// so this is its own narrow seam, backed in production by OpenAIEmbedder
// (see embedder.go).
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// DocumentMeta describes the policy document being ingested.
type DocumentMeta struct {
	DocID       string
	ProductCode string
	Heading     string
}

// SearchResult is one ranked hit from RAG.search.
type SearchResult struct {
	ChunkID         string
	Text            string
	Heading         string
	CitationLocator string
	Similarity      float64
	ChunkOrder      int
}

// Service implements RAG.ingest and RAG.search.
type Service struct {
	store         sqvect.Store
	embedder      Embedder
	chunkTokens   int
	overlapTokens int
}

// NewService builds a RAG Service backed by a sqvect.Store and an Embedder.
func NewService(store sqvect.Store, embedder Embedder) *Service {
	return &Service{
		store:         store,
		embedder:      embedder,
		chunkTokens:   DefaultChunkTokens,
		overlapTokens: DefaultOverlapTokens,
	}
}

// heading pairs a document's heading text with the plain-text body that
// falls under it, preserving document order.
type heading struct {
	text string
	body string
}

// Ingest implements RAG.ingest(document_meta, text) -> void. text may be
// plain text or HTML (detected heuristically); HTML is normalized via
// goquery before chunking.
func (s *Service) Ingest(ctx context.Context, meta DocumentMeta, text string) error {
	if looksLikeHTML(text) {
		normalized, err := normalizeHTML(text)
		if err != nil {
			return travelerrors.New("RAG.ingest", travelerrors.KindIntegrityViolation, err)
		}
		text = normalized
	}

	headings := splitByHeading(text, meta.Heading)

	var embeddings []*sqvect.Embedding
	for hIdx, h := range headings {
		chunks := windowChunks(h.body, s.chunkTokens, s.overlapTokens)
		for cIdx, chunkText := range chunks {
			vector, err := s.embedder.Embed(ctx, chunkText)
			if err != nil {
				return travelerrors.New("RAG.ingest", travelerrors.KindDownstreamUnavailable, err)
			}

			chunkID := uuid.NewString()
			locator := fmt.Sprintf("%s, chunk %d", h.text, cIdx+1)

			embeddings = append(embeddings, &sqvect.Embedding{
				ID:      chunkID,
				Vector:  vector,
				Content: chunkText,
				DocID:   meta.DocID,
				Metadata: map[string]string{
					"product_code":     meta.ProductCode,
					"heading":          h.text,
					"citation_locator": locator,
					"heading_order":    fmt.Sprintf("%06d", hIdx),
					"chunk_order":      fmt.Sprintf("%06d", cIdx),
				},
			})
		}
	}

	if len(embeddings) == 0 {
		return nil
	}
	if err := s.store.UpsertBatch(ctx, embeddings); err != nil {
		return travelerrors.New("RAG.ingest", travelerrors.KindInternalTimeout, err)
	}
	return nil
}

// Search implements RAG.search(query, filters, k) -> ordered sequence of
// {chunk_id, text, heading, citation_locator, similarity}.
func (s *Service) Search(ctx context.Context, query string, productCode string, k int) ([]SearchResult, error) {
	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, travelerrors.New("RAG.search", travelerrors.KindDownstreamUnavailable, err)
	}

	opts := sqvect.SearchOptions{TopK: k}
	if productCode != "" {
		opts.Filter = map[string]string{"product_code": productCode}
	}

	scored, err := s.store.Search(ctx, vector, opts)
	if err != nil {
		return nil, travelerrors.New("RAG.search", travelerrors.KindInternalTimeout, err)
	}

	results := make([]SearchResult, 0, len(scored))
	headingOrder := make(map[string]string, len(scored))
	for _, e := range scored {
		chunkOrder, _ := strconv.Atoi(e.Metadata["chunk_order"])
		headingOrder[e.ID] = e.Metadata["heading_order"]
		results = append(results, SearchResult{
			ChunkID:         e.ID,
			Text:            e.Content,
			Heading:         e.Metadata["heading"],
			CitationLocator: e.Metadata["citation_locator"],
			Similarity:      e.Score,
			ChunkOrder:      chunkOrder,
		})
	}

	// Tie-break by (heading ordering, then chunk order within the
	// document) when similarity scores are equal, per spec §4.7.
	// heading_order is zero-padded, so string order is numeric order.
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		hi, hj := headingOrder[results[i].ChunkID], headingOrder[results[j].ChunkID]
		if hi != hj {
			return hi < hj
		}
		return results[i].ChunkOrder < results[j].ChunkOrder
	})

	return results, nil
}

// splitByHeading partitions text into its heading sections. Lines that
// look like a heading (markdown "#"-prefixed, or at most 8 words and all
// upper-case)
// start a new section; everything else is appended to the current
// section's body. If no headings are found, the whole document is one
// section under the document-level heading from meta.
func splitByHeading(text string, fallbackHeading string) []heading {
	lines := strings.Split(text, "\n")
	var sections []heading
	current := heading{text: fallbackHeading}

	flush := func() {
		if strings.TrimSpace(current.body) != "" {
			sections = append(sections, current)
		}
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if isHeadingLine(trimmed) {
			flush()
			current = heading{text: strings.TrimLeft(trimmed, "# ")}
			continue
		}
		current.body += line + "\n"
	}
	flush()

	if len(sections) == 0 {
		sections = append(sections, heading{text: fallbackHeading, body: text})
	}
	return sections
}

func isHeadingLine(line string) bool {
	if line == "" {
		return false
	}
	if strings.HasPrefix(line, "#") {
		return true
	}
	words := strings.Fields(line)
	return len(words) > 0 && len(words) <= 8 && line == strings.ToUpper(line) && strings.ToUpper(line) != strings.ToLower(line)
}

// windowChunks splits body into ~chunkTokens-word windows with
// ~overlapTokens-word overlap between consecutive windows.
func windowChunks(body string, chunkTokens, overlapTokens int) []string {
	words := strings.Fields(body)
	if len(words) == 0 {
		return nil
	}
	if chunkTokens <= overlapTokens {
		chunkTokens = overlapTokens + 1
	}

	var chunks []string
	step := chunkTokens - overlapTokens
	for start := 0; start < len(words); start += step {
		end := start + chunkTokens
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks
}

func looksLikeHTML(text string) bool {
	t := strings.TrimSpace(text)
	return strings.HasPrefix(t, "<") && strings.Contains(t, ">")
}

// normalizeHTML strips markup to plain text, preserving block boundaries
// as newlines so heading detection still works downstream.
func normalizeHTML(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	doc.Find("h1, h2, h3, h4, p, li").Each(func(_ int, sel *goquery.Selection) {
		sb.WriteString(strings.TrimSpace(sel.Text()))
		sb.WriteString("\n")
	})
	return sb.String(), nil
}
