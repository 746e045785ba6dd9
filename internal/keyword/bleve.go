package keyword

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/blevesearch/bleve/v2"
	kwanalyzer "github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"github.com/hyperjump/intellilearn/internal/models"
)

// DefaultLimit caps a search when the caller passes no limit.
const DefaultLimit = 10

const (
	fieldDocumentID = "document_id"
	fieldTopicID    = "topic_id"
	fieldFileName   = "file_name"
	fieldName       = "name"
	fieldContent    = "content"
	fieldChunkIndex = "chunk_index"
)

var storedFields = []string{fieldDocumentID, fieldTopicID, fieldFileName, fieldContent, fieldChunkIndex}

// BleveIndex implements Index using Bleve. Each chunk is one Bleve document keyed by
// the chunk id.
type BleveIndex struct {
	index bleve.Index
}

// NewBleveIndex creates or opens a Bleve index at path.
// An existing index is reused; remove the directory after changing the mapping.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	index, err := bleve.New(path, chunkMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

func chunkMapping() *mapping.IndexMappingImpl {
	// Standard analyzer (lowercase + tokenize, no stemming) so a query word matches the
	// exact word in the text.
	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name

	exact := bleve.NewTextFieldMapping()
	exact.Analyzer = kwanalyzer.Name

	name := bleve.NewTextFieldMapping()
	name.Analyzer = standard.Name
	name.Store = false

	storedOnly := bleve.NewTextFieldMapping()
	storedOnly.Index = false

	position := bleve.NewNumericFieldMapping()
	position.Index = false

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt(fieldContent, text)
	doc.AddFieldMappingsAt(fieldName, name)
	doc.AddFieldMappingsAt(fieldDocumentID, exact)
	doc.AddFieldMappingsAt(fieldTopicID, exact)
	doc.AddFieldMappingsAt(fieldFileName, storedOnly)
	doc.AddFieldMappingsAt(fieldChunkIndex, position)

	im := bleve.NewIndexMapping()
	im.AddDocumentMapping("chunk", doc)
	im.DefaultType = "chunk"
	im.DefaultMapping = doc
	return im
}

// normalizeFileName replaces separators the standard analyzer keeps inside tokens, so
// "cell_biology-notes.pdf" is searchable as "cell biology notes".
func normalizeFileName(name string) string {
	return strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(name)
}

// IndexChunks adds or replaces chunks in one batch.
func (b *BleveIndex) IndexChunks(ctx context.Context, chunks []*models.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	batch := b.index.NewBatch()
	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := batch.Index(c.ID, map[string]interface{}{
			fieldDocumentID: c.DocumentID,
			fieldTopicID:    c.TopicID,
			fieldFileName:   c.FileName,
			fieldName:       normalizeFileName(c.FileName),
			fieldContent:    c.Content,
			fieldChunkIndex: float64(c.ChunkIndex),
		})
		if err != nil {
			return fmt.Errorf("index chunk %s: %w", c.ID, err)
		}
	}
	return b.index.Batch(batch)
}

// Search returns up to limit chunks of topicID matching query, best first.
// Matches in the file name are boosted; with opts.FuzzyFallback a query that finds
// nothing is retried with fuzzy term matching.
func (b *BleveIndex) Search(ctx context.Context, topicID, query string, limit int, opts *SearchOptions) ([]*Hit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []*Hit{}, nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	boost := DefaultFileNameBoost
	fuzzy := false
	fuzziness := 1
	if opts != nil {
		if opts.FileNameBoost > 0 {
			boost = opts.FileNameBoost
		}
		fuzzy = opts.FuzzyFallback
		if opts.Fuzziness > 0 {
			fuzziness = opts.Fuzziness
		}
	}

	hits, err := b.run(ctx, topicID, matchQuery(query, boost), limit)
	if err != nil || len(hits) > 0 || !fuzzy {
		return hits, err
	}
	return b.run(ctx, topicID, buildFuzzyQuery(query, fuzziness, boost), limit)
}

func (b *BleveIndex) run(ctx context.Context, topicID string, text blevequery.Query, limit int) ([]*Hit, error) {
	topic := bleve.NewTermQuery(topicID)
	topic.SetField(fieldTopicID)
	req := bleve.NewSearchRequest(bleve.NewConjunctionQuery(topic, text))
	req.Size = limit
	req.Fields = storedFields
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]*Hit, 0, len(results.Hits))
	for _, h := range results.Hits {
		hit := &Hit{
			ChunkID:    h.ID,
			DocumentID: stringField(h.Fields, fieldDocumentID),
			TopicID:    stringField(h.Fields, fieldTopicID),
			FileName:   stringField(h.Fields, fieldFileName),
			Content:    stringField(h.Fields, fieldContent),
			Score:      h.Score,
		}
		if n, ok := h.Fields[fieldChunkIndex].(float64); ok {
			hit.ChunkIndex = int(n)
		}
		out = append(out, hit)
	}
	return out, nil
}

func stringField(fields map[string]interface{}, name string) string {
	s, _ := fields[name].(string)
	return s
}

// matchQuery matches query against the chunk text or the file name.
func matchQuery(query string, nameBoost float64) blevequery.Query {
	content := bleve.NewMatchQuery(query)
	content.SetField(fieldContent)
	name := bleve.NewMatchQuery(query)
	name.SetField(fieldName)
	name.SetBoost(nameBoost)
	return bleve.NewDisjunctionQuery(content, name)
}

// tokenizeQuery splits query into lowercase terms, filtering out empty strings.
func tokenizeQuery(query string) []string {
	words := strings.Fields(strings.ToLower(query))
	terms := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.Trim(w, `.,;:!?"'()[]{}`)
		if w != "" {
			terms = append(terms, w)
		}
	}
	return terms
}

// buildFuzzyQuery ORs a fuzzy query per term over content and file name.
func buildFuzzyQuery(query string, fuzziness int, nameBoost float64) blevequery.Query {
	terms := tokenizeQuery(query)
	if len(terms) == 0 {
		return matchQuery(query, nameBoost)
	}
	queries := make([]blevequery.Query, 0, 2*len(terms))
	for _, term := range terms {
		content := bleve.NewFuzzyQuery(term)
		content.SetFuzziness(fuzziness)
		content.SetField(fieldContent)
		name := bleve.NewFuzzyQuery(term)
		name.SetFuzziness(fuzziness)
		name.SetField(fieldName)
		name.SetBoost(nameBoost)
		queries = append(queries, content, name)
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// Delete removes chunks from the index. Unknown ids are ignored.
func (b *BleveIndex) Delete(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	batch := b.index.NewBatch()
	for _, id := range chunkIDs {
		batch.Delete(id)
	}
	return b.index.Batch(batch)
}

// DocCount returns the number of indexed chunks.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
