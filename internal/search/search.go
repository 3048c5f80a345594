package search

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/AvengeMedia/tidysearch/internal/cache"
	"github.com/AvengeMedia/tidysearch/internal/config"
	"github.com/AvengeMedia/tidysearch/internal/errdefs"
	"github.com/AvengeMedia/tidysearch/internal/filestore"
	"github.com/AvengeMedia/tidysearch/internal/log"
	"github.com/AvengeMedia/tidysearch/internal/nlparse"
	"github.com/AvengeMedia/tidysearch/internal/textindex"
)

// Type selects the retrieval strategy for one query. Unrecognized values
// fall back to natural language.
type Type string

const (
	TypeExact           Type = "exact"
	TypeFuzzy           Type = "fuzzy"
	TypeSemantic        Type = "semantic"
	TypeNaturalLanguage Type = "natural_language"
	TypeRegex           Type = "regex"
)

func ParseType(s string) Type {
	switch Type(strings.ToLower(strings.TrimSpace(s))) {
	case TypeExact:
		return TypeExact
	case TypeFuzzy:
		return TypeFuzzy
	case TypeSemantic:
		return TypeSemantic
	case TypeRegex:
		return TypeRegex
	default:
		return TypeNaturalLanguage
	}
}

type Query struct {
	Text           string
	Type           Type
	Limit          int
	Offset         int
	IncludeContent bool
	SortBy         string
	DateStart      time.Time
	DateEnd        time.Time
	FileTypes      []string
	Categories     []string
	MinSize        int64
	MaxSize        int64
}

type Result struct {
	FilePath       string            `json:"file_path"`
	FileName       string            `json:"file_name"`
	Score          float64           `json:"score"`
	Highlights     []string          `json:"highlights,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Category       string            `json:"category"`
	Tags           []string          `json:"tags,omitempty"`
	FileSize       int64             `json:"file_size"`
	ModifiedAt     time.Time         `json:"modified_at"`
	ContentPreview string            `json:"content_preview,omitempty"`
}

// Embedder turns text into a fixed-size vector. It is an external
// collaborator; a nil Embedder means semantic scoring is unavailable.
type Embedder interface {
	Embed(text string) ([]float32, error)
}

// Engine executes queries against the full-text index and the file store.
// Search is advisory: strategy errors are logged and yield an empty result
// set, except structural store failures, which propagate.
type Engine struct {
	index    *textindex.Index
	store    *filestore.Store
	embedder Embedder
	cfg      *config.Config

	embeddings cache.Cache[string, []float32]
}

func NewEngine(index *textindex.Index, store *filestore.Store, embedder Embedder, cfg *config.Config) *Engine {
	return &Engine{
		index:      index,
		store:      store,
		embedder:   embedder,
		cfg:        cfg,
		embeddings: cache.NewLRU[string, []float32](cfg.MemoryCacheEntries),
	}
}

// Search routes the query to its strategy and returns results clamped to
// [offset, offset+limit) plus the total match count.
func (e *Engine) Search(ctx context.Context, q *Query) ([]Result, uint64, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	var (
		results []Result
		total   uint64
		err     error
	)

	switch q.Type {
	case TypeExact:
		results, total, err = e.exactSearch(q)
	case TypeFuzzy:
		results, total, err = e.fuzzySearch(q)
	case TypeRegex:
		results, total, err = e.regexSearch(ctx, q)
	case TypeSemantic:
		results, total, err = e.semanticSearch(ctx, q)
	case TypeNaturalLanguage:
		results, total, err = e.naturalLanguageSearch(q)
	default:
		results, total, err = e.naturalLanguageSearch(q)
	}

	if err != nil {
		if errdefs.IsStructural(err) {
			return nil, 0, err
		}
		log.Errorf("search failed: %v", err)
		return []Result{}, 0, nil
	}

	if results == nil {
		results = []Result{}
	}
	return results, total, nil
}

func (e *Engine) exactSearch(q *Query) ([]Result, uint64, error) {
	hits, total, err := e.index.Phrase(q.Text, e.filters(q, nil), e.queryOptions(q))
	if err != nil {
		return nil, 0, err
	}
	return e.fromHits(hits, q), total, nil
}

func (e *Engine) fuzzySearch(q *Query) ([]Result, uint64, error) {
	hits, total, err := e.index.Fuzzy(q.Text, e.filters(q, nil), e.queryOptions(q))
	if err != nil {
		return nil, 0, err
	}
	return e.fromHits(hits, q), total, nil
}

// regexSearch scans stored records, bounded by the configured scan cap. A
// malformed pattern yields an empty result set rather than an error.
func (e *Engine) regexSearch(ctx context.Context, q *Query) ([]Result, uint64, error) {
	pattern, err := regexp.Compile(q.Text)
	if err != nil {
		log.Debugf("invalid regex pattern %q: %v", q.Text, err)
		return []Result{}, 0, nil
	}

	var matched []Result
	scanned := 0
	err = e.store.ForEach(func(rec *filestore.IndexedFile) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if scanned >= e.cfg.ScanLimit {
			return filestore.ErrStop
		}
		scanned++

		haystack := rec.Name + " " + rec.Content
		matches := pattern.FindAllString(haystack, -1)
		if len(matches) == 0 {
			return nil
		}

		highlights := matches
		if len(highlights) > 3 {
			highlights = highlights[:3]
		}

		matched = append(matched, e.fromRecord(rec, float64(len(matches)), highlights, q))
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	sortByScore(matched)
	return clamp(matched, q.Offset, q.Limit), uint64(len(matched)), nil
}

// semanticSearch ranks records by cosine similarity to the query embedding.
// Without an embedder it degrades to plain keyword search.
func (e *Engine) semanticSearch(ctx context.Context, q *Query) ([]Result, uint64, error) {
	if e.embedder == nil {
		log.Warnf("semantic search unavailable, falling back to keyword search")
		return e.keywordSearch(q, strings.Fields(q.Text))
	}

	queryVec, err := e.embedder.Embed(q.Text)
	if err != nil {
		return nil, 0, err
	}

	var matched []Result
	scanned := 0
	err = e.store.ForEach(func(rec *filestore.IndexedFile) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if scanned >= e.cfg.ScanLimit {
			return filestore.ErrStop
		}
		scanned++

		docVec, err := e.documentEmbedding(rec)
		if err != nil {
			log.Debugf("embedding failed for %s: %v", rec.Path, err)
			return nil
		}

		similarity := cosineSimilarity(queryVec, docVec)
		if similarity <= e.cfg.SemanticThreshold {
			return nil
		}

		matched = append(matched, e.fromRecord(rec, similarity, nil, q))
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	sortByScore(matched)
	return clamp(matched, q.Offset, q.Limit), uint64(len(matched)), nil
}

func (e *Engine) naturalLanguageSearch(q *Query) ([]Result, uint64, error) {
	parsed := nlparse.Parse(q.Text)

	keywords := parsed.Keywords
	if len(keywords) == 0 {
		keywords = strings.Fields(q.Text)
	}

	filters := e.filters(q, parsed)

	// Fetch from zero so re-ranking sees the full window before the
	// offset clamp is applied.
	opts := &textindex.QueryOptions{
		Limit:          q.Offset + q.Limit,
		Offset:         0,
		IncludeContent: q.IncludeContent,
	}

	hits, total, err := e.index.Keywords(keywords, filters, opts)
	if err != nil {
		return nil, 0, err
	}

	results := e.fromHits(hits, q)

	if e.embedder != nil && len(results) > 1 {
		results = e.rerankSemantic(q.Text, results)
	}

	return clamp(results, q.Offset, q.Limit), total, nil
}

func (e *Engine) keywordSearch(q *Query, keywords []string) ([]Result, uint64, error) {
	hits, total, err := e.index.Keywords(keywords, e.filters(q, nil), e.queryOptions(q))
	if err != nil {
		return nil, 0, err
	}
	return e.fromHits(hits, q), total, nil
}

// rerankSemantic blends the index relevance score with cosine similarity at
// the configured weight and re-sorts.
func (e *Engine) rerankSemantic(queryText string, results []Result) []Result {
	queryVec, err := e.embedder.Embed(queryText)
	if err != nil {
		log.Debugf("query embedding failed: %v", err)
		return results
	}

	w := e.cfg.RerankWeight
	for n := range results {
		docText := results[n].FileName + " " + strings.Join(results[n].Highlights, " ")
		docVec, err := e.embedder.Embed(docText)
		if err != nil {
			continue
		}
		similarity := cosineSimilarity(queryVec, docVec)
		results[n].Score = results[n].Score*w + similarity*(1-w)
	}

	sortByScore(results)
	return results
}

func (e *Engine) documentEmbedding(rec *filestore.IndexedFile) ([]float32, error) {
	if vec, ok := e.embeddings.Get(rec.Path); ok {
		return vec, nil
	}

	vec, err := e.embedder.Embed(rec.Name + " " + rec.Content)
	if err != nil {
		return nil, err
	}
	e.embeddings.Put(rec.Path, vec)
	return vec, nil
}

func (e *Engine) filters(q *Query, parsed *nlparse.Parsed) *textindex.Filters {
	f := &textindex.Filters{
		ModifiedAfter:  q.DateStart,
		ModifiedBefore: q.DateEnd,
		MinSize:        q.MinSize,
		MaxSize:        q.MaxSize,
		Extensions:     q.FileTypes,
		Categories:     q.Categories,
	}

	if parsed != nil {
		if f.ModifiedAfter.IsZero() && parsed.HasDateRange() {
			f.ModifiedAfter = parsed.DateStart
			f.ModifiedBefore = parsed.DateEnd
		}
		if f.MinSize == 0 {
			f.MinSize = parsed.MinSize
		}
		if f.MaxSize == 0 {
			f.MaxSize = parsed.MaxSize
		}
		if len(f.Extensions) == 0 {
			f.Extensions = parsed.FileTypes
		}
	}

	return f
}

func (e *Engine) queryOptions(q *Query) *textindex.QueryOptions {
	return &textindex.QueryOptions{
		Limit:          q.Limit,
		Offset:         q.Offset,
		IncludeContent: q.IncludeContent,
	}
}

func (e *Engine) fromHits(hits []textindex.Hit, q *Query) []Result {
	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		r := Result{
			FilePath:   h.Path,
			FileName:   h.Name,
			Score:      h.Score,
			Highlights: h.Highlights,
			Category:   h.Category,
			Tags:       splitTags(h.Tags),
			FileSize:   h.Size,
			ModifiedAt: h.Modified,
		}
		if q.IncludeContent {
			r.ContentPreview = preview(h.Content)
		}
		results = append(results, r)
	}
	return results
}

func (e *Engine) fromRecord(rec *filestore.IndexedFile, score float64, highlights []string, q *Query) Result {
	r := Result{
		FilePath:   rec.Path,
		FileName:   rec.Name,
		Score:      score,
		Highlights: highlights,
		Metadata:   rec.Metadata,
		Category:   rec.Category,
		Tags:       rec.Tags,
		FileSize:   rec.Size,
		ModifiedAt: rec.ModifiedAt,
	}
	if q.IncludeContent {
		r.ContentPreview = preview(rec.Content)
	}
	return r
}

func splitTags(csv string) []string {
	if csv == "" {
		return nil
	}
	var tags []string
	for _, t := range strings.Split(csv, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func preview(content string) string {
	if len(content) > 200 {
		return content[:200]
	}
	return content
}

func sortByScore(results []Result) {
	sort.SliceStable(results, func(a, b int) bool {
		if results[a].Score != results[b].Score {
			return results[a].Score > results[b].Score
		}
		return results[a].FilePath < results[b].FilePath
	})
}

func clamp(results []Result, offset, limit int) []Result {
	if offset >= len(results) {
		return []Result{}
	}
	end := offset + limit
	if end > len(results) {
		end = len(results)
	}
	return results[offset:end]
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for n := range a {
		dot += float64(a[n]) * float64(b[n])
		normA += float64(a[n]) * float64(a[n])
		normB += float64(b[n]) * float64(b[n])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
