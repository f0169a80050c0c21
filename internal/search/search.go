package search

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/xaenox/recall-bot/internal/embedding"
	"github.com/xaenox/recall-bot/internal/models"
	"github.com/xaenox/recall-bot/internal/storage"
	"go.uber.org/zap"
)

// Engine ranks a user's stored messages against a free-text query. Scoring
// combines embedding similarity with a lexical boost for query terms that
// literally appear in tags or text, so short keyword queries still work when
// vector similarity is weak.
type Engine struct {
	storage       storage.MessageStorage
	embedder      embedding.Embedder
	vectorWeight  float64
	lexicalWeight float64
	pageSize      int
	logger        *zap.Logger
}

func NewEngine(store storage.MessageStorage, embedder embedding.Embedder, vectorWeight, lexicalWeight float64, pageSize int, logger *zap.Logger) *Engine {
	if pageSize <= 0 {
		pageSize = 15
	}
	return &Engine{
		storage:       store,
		embedder:      embedder,
		vectorWeight:  vectorWeight,
		lexicalWeight: lexicalWeight,
		pageSize:      pageSize,
		logger:        logger,
	}
}

// Search returns one page of results for the querying user, most relevant
// first. Candidates are always listed for that user only; content from other
// users can never appear regardless of similarity.
func (e *Engine) Search(ctx context.Context, userID int64, query string, filter storage.MessageFilter, page int) ([]models.SearchResult, error) {
	candidates, err := e.storage.ListMessages(ctx, userID, filter)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	queryVec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		// Degrade to lexical-only ranking rather than failing the search.
		e.logger.Warn("Query embedding failed, ranking lexically",
			zap.Error(err),
			zap.Int64("user_id", userID))
		queryVec = nil
	}
	terms := queryTerms(query)

	type scored struct {
		result  models.SearchResult
		demoted bool
	}

	results := make([]scored, 0, len(candidates))
	for _, msg := range candidates {
		lex := lexicalScore(terms, msg)
		score := e.vectorWeight*embedding.Cosine(queryVec, msg.Embedding) + e.lexicalWeight*lex

		// Failed extractions with nothing to match on sink to the bottom
		// but stay reachable by source and timestamp.
		demoted := msg.Status == models.StatusExtractionFailed && msg.ExtractedText == "" && lex == 0

		results = append(results, scored{
			result:  models.SearchResult{Message: msg, Score: score},
			demoted: demoted,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].demoted != results[j].demoted {
			return !results[i].demoted
		}
		if results[i].result.Score != results[j].result.Score {
			return results[i].result.Score > results[j].result.Score
		}
		return results[i].result.Message.CreatedAt.After(results[j].result.Message.CreatedAt)
	})

	if page < 0 {
		page = 0
	}
	start := page * e.pageSize
	if start >= len(results) {
		return nil, nil
	}
	end := start + e.pageSize
	if end > len(results) {
		end = len(results)
	}

	out := make([]models.SearchResult, 0, end-start)
	for _, r := range results[start:end] {
		out = append(out, r.result)
	}
	return out, nil
}

// lexicalScore is the fraction of query terms found in the message's tags,
// entities, or extracted text.
func lexicalScore(terms []string, msg *models.Message) float64 {
	if len(terms) == 0 {
		return 0
	}

	text := strings.ToLower(msg.ExtractedText)
	tags := make(map[string]struct{}, len(msg.Tags))
	for _, tag := range msg.Tags {
		tags[strings.ToLower(tag)] = struct{}{}
	}
	var values []string
	for _, entity := range msg.Entities {
		values = append(values, strings.ToLower(entity.Value))
	}

	matched := 0
	for _, term := range terms {
		if _, ok := tags[term]; ok {
			matched++
			continue
		}
		if strings.Contains(text, term) {
			matched++
			continue
		}
		for _, v := range values {
			if strings.Contains(v, term) {
				matched++
				break
			}
		}
	}
	return float64(matched) / float64(len(terms))
}

func queryTerms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var terms []string
	for _, f := range fields {
		if len(f) >= 2 {
			terms = append(terms, f)
		}
	}
	return terms
}
