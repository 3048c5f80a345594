package textindex

import (
	"strings"
	"sync"
	"time"

	"github.com/AvengeMedia/tidysearch/internal/errdefs"
	"github.com/AvengeMedia/tidysearch/internal/log"
	bleve "github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/simple"
	"github.com/blevesearch/bleve/v2/mapping"
	query "github.com/blevesearch/bleve/v2/search/query"
)

// Entry is the denormalized full-text projection of an indexed file. At most
// one entry exists per path.
type Entry struct {
	Path     string    `json:"path"`
	Name     string    `json:"name"`
	Content  string    `json:"content"`
	Tags     string    `json:"tags"`
	Category string    `json:"category"`
	Ext      string    `json:"ext"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
	MimeType string    `json:"mime_type"`
}

// Filters are conjunctive constraints applied on top of any text query.
type Filters struct {
	ModifiedAfter  time.Time
	ModifiedBefore time.Time
	MinSize        int64
	MaxSize        int64
	Extensions     []string
	Categories     []string
}

type QueryOptions struct {
	Limit          int
	Offset         int
	IncludeContent bool
}

type Hit struct {
	Path       string
	Name       string
	Score      float64
	Highlights []string
	Tags       string
	Category   string
	Size       int64
	Modified   time.Time
	MimeType   string
	Content    string
}

type Index struct {
	idx bleve.Index
	mu  sync.RWMutex
}

func Open(path string) (*Index, error) {
	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.NewUsing(path, buildIndexMapping(), "scorch", "scorch", nil)
		if err != nil {
			return nil, errdefs.NewCustomError(errdefs.ErrTypeStoreUnavailable, "failed to create full-text index", err)
		}
		log.Infof("created new full-text index at %s", path)
		return &Index{idx: idx}, nil
	}
	if err != nil {
		return nil, errdefs.NewCustomError(errdefs.ErrTypeStoreUnavailable, "failed to open full-text index", err)
	}
	log.Infof("opened existing full-text index at %s", path)
	return &Index{idx: idx}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	m := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()

	pathField := bleve.NewTextFieldMapping()
	pathField.Analyzer = "keyword"
	pathField.Store = true
	docMapping.AddFieldMappingsAt("path", pathField)

	// Simple analyzer so "invoice_2024.pdf" matches a query for "invoice".
	nameField := bleve.NewTextFieldMapping()
	nameField.Store = true
	nameField.IncludeTermVectors = true
	nameField.Analyzer = simple.Name
	docMapping.AddFieldMappingsAt("name", nameField)

	contentField := bleve.NewTextFieldMapping()
	contentField.Store = true
	contentField.IncludeTermVectors = true
	docMapping.AddFieldMappingsAt("content", contentField)

	tagsField := bleve.NewTextFieldMapping()
	tagsField.Store = true
	docMapping.AddFieldMappingsAt("tags", tagsField)

	categoryField := bleve.NewTextFieldMapping()
	categoryField.Analyzer = "keyword"
	categoryField.Store = true
	docMapping.AddFieldMappingsAt("category", categoryField)

	extField := bleve.NewTextFieldMapping()
	extField.Analyzer = "keyword"
	extField.Store = true
	docMapping.AddFieldMappingsAt("ext", extField)

	sizeField := bleve.NewNumericFieldMapping()
	sizeField.Store = true
	docMapping.AddFieldMappingsAt("size", sizeField)

	modifiedField := bleve.NewDateTimeFieldMapping()
	modifiedField.Store = true
	docMapping.AddFieldMappingsAt("modified", modifiedField)

	mimeField := bleve.NewTextFieldMapping()
	mimeField.Analyzer = "keyword"
	mimeField.Store = true
	docMapping.AddFieldMappingsAt("mime_type", mimeField)

	m.DefaultMapping = docMapping
	return m
}

func (i *Index) Add(e *Entry) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.idx.Index(e.Path, e); err != nil {
		return errdefs.NewCustomError(errdefs.ErrTypeIndexingFailed, e.Path, err)
	}
	return nil
}

// Update replaces the entry for e.Path. Delete-then-insert in a single batch
// so readers never observe a merged or half-written entry.
func (i *Index) Update(e *Entry) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	batch := i.idx.NewBatch()
	batch.Delete(e.Path)
	if err := batch.Index(e.Path, e); err != nil {
		return errdefs.NewCustomError(errdefs.ErrTypeIndexingFailed, e.Path, err)
	}
	if err := i.idx.Batch(batch); err != nil {
		return errdefs.NewCustomError(errdefs.ErrTypeIndexingFailed, e.Path, err)
	}
	return nil
}

func (i *Index) Remove(path string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.idx.Delete(path); err != nil {
		return errdefs.NewCustomError(errdefs.ErrTypeIndexingFailed, path, err)
	}
	return nil
}

func (i *Index) DocCount() (uint64, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.idx.DocCount()
}

func (i *Index) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.idx.Close()
}

// Phrase runs an exact token-adjacency match over content and name.
func (i *Index) Phrase(text string, f *Filters, opts *QueryOptions) ([]Hit, uint64, error) {
	contentQuery := bleve.NewMatchPhraseQuery(text)
	contentQuery.SetField("content")

	nameQuery := bleve.NewMatchPhraseQuery(text)
	nameQuery.SetField("name")

	return i.run(bleve.NewDisjunctionQuery(contentQuery, nameQuery), f, opts)
}

// Fuzzy matches each term of text with a bounded edit distance across name,
// content and tags.
func (i *Index) Fuzzy(text string, f *Filters, opts *QueryOptions) ([]Hit, uint64, error) {
	terms := strings.Fields(strings.ToLower(text))
	if len(terms) == 0 {
		return nil, 0, nil
	}

	var queries []query.Query
	for _, term := range terms {
		for _, field := range []string{"name", "content", "tags"} {
			fq := bleve.NewFuzzyQuery(term)
			fq.SetField(field)
			fq.SetFuzziness(2)
			queries = append(queries, fq)
		}
	}

	return i.run(bleve.NewDisjunctionQuery(queries...), f, opts)
}

// Keywords runs OR-style multi-field matching: a document matches when any
// keyword matches any of name, content or tags.
func (i *Index) Keywords(words []string, f *Filters, opts *QueryOptions) ([]Hit, uint64, error) {
	if len(words) == 0 {
		return nil, 0, nil
	}

	var queries []query.Query
	for _, word := range words {
		for _, field := range []string{"name", "content", "tags"} {
			mq := bleve.NewMatchQuery(word)
			mq.SetField(field)
			queries = append(queries, mq)
		}
	}

	return i.run(bleve.NewDisjunctionQuery(queries...), f, opts)
}

func (i *Index) run(main query.Query, f *Filters, opts *QueryOptions) ([]Hit, uint64, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	finalQuery := applyFilters(main, f)

	limit := 50
	offset := 0
	includeContent := false
	if opts != nil {
		if opts.Limit > 0 {
			limit = opts.Limit
		}
		if opts.Offset > 0 {
			offset = opts.Offset
		}
		includeContent = opts.IncludeContent
	}

	req := bleve.NewSearchRequestOptions(finalQuery, limit, offset, false)
	req.Fields = []string{"name", "tags", "category", "size", "modified", "mime_type"}
	if includeContent {
		req.Fields = append(req.Fields, "content")
		req.Highlight = bleve.NewHighlight()
		req.Highlight.AddField("content")
	}
	// Score-descending with path as tie-breaker keeps result order stable
	// for identical index state.
	req.SortBy([]string{"-_score", "_id"})

	result, err := i.idx.Search(req)
	if err != nil {
		return nil, 0, errdefs.NewCustomError(errdefs.ErrTypeSearchFailed, "index query failed", err)
	}

	hits := make([]Hit, 0, len(result.Hits))
	for _, dm := range result.Hits {
		h := Hit{
			Path:  dm.ID,
			Score: dm.Score,
		}
		if v, ok := dm.Fields["name"].(string); ok {
			h.Name = v
		}
		if v, ok := dm.Fields["tags"].(string); ok {
			h.Tags = v
		}
		if v, ok := dm.Fields["category"].(string); ok {
			h.Category = v
		}
		if v, ok := dm.Fields["size"].(float64); ok {
			h.Size = int64(v)
		}
		if v, ok := dm.Fields["modified"].(string); ok {
			h.Modified, _ = time.Parse(time.RFC3339, v)
		}
		if v, ok := dm.Fields["mime_type"].(string); ok {
			h.MimeType = v
		}
		if includeContent {
			if v, ok := dm.Fields["content"].(string); ok {
				h.Content = v
			}
			if frags, ok := dm.Fragments["content"]; ok {
				max := len(frags)
				if max > 3 {
					max = 3
				}
				h.Highlights = frags[:max]
			}
		}
		hits = append(hits, h)
	}

	return hits, result.Total, nil
}

func applyFilters(main query.Query, f *Filters) query.Query {
	if f == nil {
		return main
	}

	filters := []query.Query{}

	if !f.ModifiedAfter.IsZero() || !f.ModifiedBefore.IsZero() {
		start := f.ModifiedAfter
		end := f.ModifiedBefore
		dq := bleve.NewDateRangeInclusiveQuery(start, end, nil, nil)
		dq.SetField("modified")
		filters = append(filters, dq)
	}

	if f.MinSize > 0 {
		min := float64(f.MinSize)
		sq := bleve.NewNumericRangeInclusiveQuery(&min, nil, nil, nil)
		sq.SetField("size")
		filters = append(filters, sq)
	}

	if f.MaxSize > 0 {
		max := float64(f.MaxSize)
		sq := bleve.NewNumericRangeInclusiveQuery(nil, &max, nil, nil)
		sq.SetField("size")
		filters = append(filters, sq)
	}

	if len(f.Extensions) > 0 {
		var exts []query.Query
		for _, ext := range f.Extensions {
			tq := bleve.NewTermQuery(strings.ToLower(ext))
			tq.SetField("ext")
			exts = append(exts, tq)
		}
		filters = append(filters, bleve.NewDisjunctionQuery(exts...))
	}

	if len(f.Categories) > 0 {
		var cats []query.Query
		for _, cat := range f.Categories {
			tq := bleve.NewTermQuery(cat)
			tq.SetField("category")
			cats = append(cats, tq)
		}
		filters = append(filters, bleve.NewDisjunctionQuery(cats...))
	}

	if len(filters) == 0 {
		return main
	}

	all := append([]query.Query{main}, filters...)
	return bleve.NewConjunctionQuery(all...)
}
