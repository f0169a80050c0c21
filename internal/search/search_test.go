package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/recall-bot/internal/models"
	"github.com/xaenox/recall-bot/internal/storage"
	"go.uber.org/zap"
)

// stubEmbedder returns canned vectors per text and a default for the rest.
type stubEmbedder struct {
	vectors map[string][]float32
	def     []float32
	err     error
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return s.def, nil
}

func seedMessage(t *testing.T, store *storage.MemoryStorage, id string, userID int64, text string, tags []string, vec []float32, createdAt time.Time) {
	t.Helper()
	msg := &models.Message{
		ID:               id,
		UserID:           userID,
		ChannelMessageID: "ch-" + id,
		Modality:         models.TextModality,
		RawRef:           text,
		Status:           models.StatusPending,
		CreatedAt:        createdAt,
	}
	require.NoError(t, store.CreateMessage(context.Background(), msg))
	require.NoError(t, store.UpdateMessageText(context.Background(), id, text, models.StatusExtracted, ""))
	if tags != nil {
		require.NoError(t, store.UpdateMessageTags(context.Background(), id, tags, nil))
	}
	if vec != nil {
		require.NoError(t, store.UpdateMessageEmbedding(context.Background(), id, vec))
	}
}

func TestSearchNeverCrossesUsers(t *testing.T) {
	store := storage.NewMemoryStorage()
	now := time.Now()
	seedMessage(t, store, "mine", 1, "the secret project plan", nil, []float32{1, 0}, now)
	seedMessage(t, store, "theirs", 2, "the secret project plan", nil, []float32{1, 0}, now)

	emb := &stubEmbedder{def: []float32{1, 0}}
	engine := NewEngine(store, emb, 0.7, 0.3, 15, zap.NewNop())

	results, err := engine.Search(context.Background(), 1, "secret project", storage.MessageFilter{}, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "mine", results[0].Message.ID)
}

func TestSearchVectorRanking(t *testing.T) {
	store := storage.NewMemoryStorage()
	now := time.Now()
	seedMessage(t, store, "close", 1, "quarterly planning", nil, []float32{1, 0}, now)
	seedMessage(t, store, "far", 1, "grocery run", nil, []float32{0, 1}, now)

	emb := &stubEmbedder{vectors: map[string][]float32{"planning": {1, 0}}, def: []float32{0, 0}}
	engine := NewEngine(store, emb, 1.0, 0.0, 15, zap.NewNop())

	results, err := engine.Search(context.Background(), 1, "planning", storage.MessageFilter{}, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "close", results[0].Message.ID)
}

func TestSearchLexicalBoostOnTags(t *testing.T) {
	store := storage.NewMemoryStorage()
	now := time.Now()
	// Identical embeddings; only the tag can break the tie.
	seedMessage(t, store, "tagged", 1, "random note", []string{"sarah"}, []float32{1, 0}, now.Add(-time.Hour))
	seedMessage(t, store, "untagged", 1, "another note", nil, []float32{1, 0}, now)

	emb := &stubEmbedder{def: []float32{1, 0}}
	engine := NewEngine(store, emb, 0.7, 0.3, 15, zap.NewNop())

	results, err := engine.Search(context.Background(), 1, "Sarah", storage.MessageFilter{}, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "tagged", results[0].Message.ID)
}

func TestSearchTieBreaksByRecency(t *testing.T) {
	store := storage.NewMemoryStorage()
	now := time.Now()
	seedMessage(t, store, "older", 1, "same note", nil, []float32{1, 0}, now.Add(-time.Hour))
	seedMessage(t, store, "newer", 1, "same note", nil, []float32{1, 0}, now)

	emb := &stubEmbedder{def: []float32{1, 0}}
	engine := NewEngine(store, emb, 1.0, 0.0, 15, zap.NewNop())

	results, err := engine.Search(context.Background(), 1, "unrelated", storage.MessageFilter{}, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "newer", results[0].Message.ID)
}

func TestSearchDemotesFailedExtractions(t *testing.T) {
	store := storage.NewMemoryStorage()
	ctx := context.Background()
	now := time.Now()

	failed := &models.Message{
		ID: "failed", UserID: 1, ChannelMessageID: "ch-failed",
		Modality: models.ImageModality, Status: models.StatusPending, CreatedAt: now,
	}
	require.NoError(t, store.CreateMessage(ctx, failed))
	require.NoError(t, store.UpdateMessageText(ctx, "failed", "", models.StatusExtractionFailed, "ocr timeout"))

	seedMessage(t, store, "healthy", 1, "a note", nil, []float32{0, 1}, now.Add(-time.Hour))

	emb := &stubEmbedder{def: []float32{1, 0}}
	engine := NewEngine(store, emb, 0.7, 0.3, 15, zap.NewNop())

	results, err := engine.Search(ctx, 1, "note", storage.MessageFilter{}, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "healthy", results[0].Message.ID)
	assert.Equal(t, "failed", results[1].Message.ID)
}

func TestSearchFailedExtractionStillMatchesTags(t *testing.T) {
	store := storage.NewMemoryStorage()
	ctx := context.Background()
	now := time.Now()

	failed := &models.Message{
		ID: "failed", UserID: 1, ChannelMessageID: "ch-failed",
		Modality: models.ImageModality, Status: models.StatusPending, CreatedAt: now,
	}
	require.NoError(t, store.CreateMessage(ctx, failed))
	require.NoError(t, store.UpdateMessageText(ctx, "failed", "", models.StatusExtractionFailed, "ocr timeout"))
	require.NoError(t, store.UpdateMessageTags(ctx, "failed", []string{"receipt"}, nil))

	seedMessage(t, store, "other", 1, "unrelated", nil, []float32{1, 0}, now.Add(-time.Hour))

	emb := &stubEmbedder{def: []float32{1, 0}}
	engine := NewEngine(store, emb, 0.5, 0.5, 15, zap.NewNop())

	results, err := engine.Search(ctx, 1, "receipt", storage.MessageFilter{}, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "failed", results[0].Message.ID)
}

func TestSearchPagination(t *testing.T) {
	store := storage.NewMemoryStorage()
	now := time.Now()
	for i, id := range []string{"m1", "m2", "m3"} {
		seedMessage(t, store, id, 1, "note "+id, nil, []float32{1, 0}, now.Add(time.Duration(i)*time.Minute))
	}

	emb := &stubEmbedder{def: []float32{1, 0}}
	engine := NewEngine(store, emb, 1.0, 0.0, 2, zap.NewNop())

	page0, err := engine.Search(context.Background(), 1, "note", storage.MessageFilter{}, 0)
	require.NoError(t, err)
	assert.Len(t, page0, 2)

	page1, err := engine.Search(context.Background(), 1, "note", storage.MessageFilter{}, 1)
	require.NoError(t, err)
	assert.Len(t, page1, 1)

	page2, err := engine.Search(context.Background(), 1, "note", storage.MessageFilter{}, 2)
	require.NoError(t, err)
	assert.Empty(t, page2)
}

func TestSearchDegradesWhenEmbeddingFails(t *testing.T) {
	store := storage.NewMemoryStorage()
	now := time.Now()
	seedMessage(t, store, "match", 1, "pay the electricity bill", nil, []float32{1, 0}, now)
	seedMessage(t, store, "miss", 1, "holiday photos", nil, []float32{1, 0}, now)

	emb := &stubEmbedder{err: errors.New("provider down")}
	engine := NewEngine(store, emb, 0.7, 0.3, 15, zap.NewNop())

	results, err := engine.Search(context.Background(), 1, "electricity", storage.MessageFilter{}, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "match", results[0].Message.ID)
}
