package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/recall-bot/internal/category"
	"github.com/xaenox/recall-bot/internal/extractor"
	"github.com/xaenox/recall-bot/internal/models"
	"github.com/xaenox/recall-bot/internal/search"
	"github.com/xaenox/recall-bot/internal/storage"
	"github.com/xaenox/recall-bot/internal/tagger"
	"go.uber.org/zap"
)

type stubClassifier struct {
	result models.Classification
	err    error
}

func (s *stubClassifier) Classify(ctx context.Context, text string, taxonomy []*models.Category) (models.Classification, error) {
	return s.result, s.err
}

type stubEmbedder struct {
	err error
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	// A toy deterministic embedding: length and vowel count.
	var vowels float32
	for _, r := range text {
		switch r {
		case 'a', 'e', 'i', 'o', 'u':
			vowels++
		}
	}
	return []float32{float32(len(text)), vowels, 1}, nil
}

type stubOCR struct {
	text string
	err  error
}

func (s *stubOCR) OCR(ctx context.Context, ref string) (string, error) { return s.text, s.err }

type stubTranscriber struct {
	text string
	err  error
}

func (s *stubTranscriber) Transcribe(ctx context.Context, ref string) (string, error) {
	return s.text, s.err
}

type stubDocParser struct {
	text string
	err  error
}

func (s *stubDocParser) Parse(ctx context.Context, ref string) (string, error) {
	return s.text, s.err
}

type testEnv struct {
	store      *storage.MemoryStorage
	pipeline   *Pipeline
	categories *category.Manager
}

func newTestEnv(clf *stubClassifier, emb *stubEmbedder, ocr *stubOCR) testEnv {
	logger := zap.NewNop()
	store := storage.NewMemoryStorage()
	categories := category.NewManager(store, 0.6, 0.85, logger)
	ext := extractor.New(ocr, &stubTranscriber{}, &stubDocParser{}, logger)

	p := New(
		store,
		ext,
		clf,
		tagger.NewRuleTagger(10),
		emb,
		categories,
		time.Second,
		RetryConfig{MaxAttempts: 2, InitialInterval: time.Millisecond, Multiplier: 2},
		logger,
	)

	return testEnv{store: store, pipeline: p, categories: categories}
}

func textRequest(userID int64, channelID, content string) IngestRequest {
	return IngestRequest{
		UserID:           userID,
		ChannelMessageID: channelID,
		Modality:         models.TextModality,
		ContentRef:       content,
	}
}

func TestIngestIsIdempotent(t *testing.T) {
	env := newTestEnv(&stubClassifier{err: errors.New("down")}, &stubEmbedder{}, &stubOCR{})
	ctx := context.Background()

	first, err := env.pipeline.Ingest(ctx, textRequest(1, "ch1", "original content"))
	require.NoError(t, err)

	// Same channel id, different payload: the first capture stands.
	second, err := env.pipeline.Ingest(ctx, textRequest(1, "ch1", "replacement content"))
	assert.ErrorIs(t, err, storage.ErrDuplicateMessage)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "original content", second.RawRef)

	all, err := env.store.ListMessages(ctx, 1, storage.MessageFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestProcessDegradedClassifierScenario(t *testing.T) {
	// Fresh user, empty taxonomy, classifier unavailable.
	env := newTestEnv(&stubClassifier{err: errors.New("provider down")}, &stubEmbedder{}, &stubOCR{})
	ctx := context.Background()

	msg, err := env.pipeline.Ingest(ctx, textRequest(1, "ch1", "Lunch with Sarah on Friday at the office"))
	require.NoError(t, err)

	processed, err := env.pipeline.Process(ctx, msg)
	require.NoError(t, err)

	assert.Equal(t, models.StatusCategorized, processed.Status)
	require.NotNil(t, processed.CategoryID)

	assigned, err := env.store.GetCategory(ctx, 1, *processed.CategoryID)
	require.NoError(t, err)
	assert.Equal(t, models.UncategorizedName, assigned.Name)

	assert.Contains(t, processed.Tags, "lunch")

	var foundPerson, foundDate bool
	for _, entity := range processed.Entities {
		if entity.Type == models.EntityPerson && entity.Value == "Sarah" {
			foundPerson = true
		}
		if entity.Type == models.EntityDate && entity.Value == "Friday" {
			foundDate = true
		}
	}
	assert.True(t, foundPerson, "expected a person entity for Sarah")
	assert.True(t, foundDate, "expected a date entity for Friday")

	// The capture is searchable despite the degraded classification.
	engine := search.NewEngine(env.store, &stubEmbedder{}, 0.7, 0.3, 15, zap.NewNop())
	results, err := engine.Search(ctx, 1, "Sarah", storage.MessageFilter{}, 0)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, processed.ID, results[0].Message.ID)
}

func TestProcessAcceptsClassifierProposal(t *testing.T) {
	clf := &stubClassifier{result: models.Classification{
		Proposal:   models.Proposal{Name: "Meeting Notes", Description: "Notes from meetings"},
		Confidence: 0.9,
	}}
	env := newTestEnv(clf, &stubEmbedder{}, &stubOCR{})
	ctx := context.Background()

	msg, err := env.pipeline.Ingest(ctx, textRequest(1, "ch1", "Standup: discussed the roadmap"))
	require.NoError(t, err)

	processed, err := env.pipeline.Process(ctx, msg)
	require.NoError(t, err)

	require.NotNil(t, processed.CategoryID)
	assigned, err := env.store.GetCategory(ctx, 1, *processed.CategoryID)
	require.NoError(t, err)
	assert.Equal(t, "Meeting Notes", assigned.Name)
}

func TestProcessExtractionFailureIsNotFatal(t *testing.T) {
	env := newTestEnv(
		&stubClassifier{err: errors.New("down")},
		&stubEmbedder{},
		&stubOCR{err: errors.New("corrupt image")},
	)
	ctx := context.Background()

	msg, err := env.pipeline.Ingest(ctx, IngestRequest{
		UserID:           1,
		ChannelMessageID: "ch1",
		Modality:         models.ImageModality,
		ContentRef:       "https://example.com/broken.jpg",
	})
	require.NoError(t, err)

	processed, err := env.pipeline.Process(ctx, msg)
	require.NoError(t, err)

	// The failure is recorded but the message is categorized and persisted.
	assert.Equal(t, models.StatusExtractionFailed, processed.Status)
	assert.Contains(t, processed.ErrorReason, "corrupt image")
	assert.Empty(t, processed.ExtractedText)
	require.NotNil(t, processed.CategoryID)
}

func TestProcessEmbedsEmptyText(t *testing.T) {
	env := newTestEnv(
		&stubClassifier{err: errors.New("down")},
		&stubEmbedder{},
		&stubOCR{text: ""},
	)
	ctx := context.Background()

	msg, err := env.pipeline.Ingest(ctx, IngestRequest{
		UserID:           1,
		ChannelMessageID: "ch1",
		Modality:         models.ImageModality,
		ContentRef:       "https://example.com/photo.jpg",
	})
	require.NoError(t, err)

	processed, err := env.pipeline.Process(ctx, msg)
	require.NoError(t, err)

	// No text detected still advances status and stores a vector.
	assert.Equal(t, models.StatusCategorized, processed.Status)
	assert.NotEmpty(t, processed.Embedding)
}

func TestProcessEmbeddingFailureDegrades(t *testing.T) {
	env := newTestEnv(
		&stubClassifier{err: errors.New("down")},
		&stubEmbedder{err: errors.New("embedding down")},
		&stubOCR{},
	)
	ctx := context.Background()

	msg, err := env.pipeline.Ingest(ctx, textRequest(1, "ch1", "a note"))
	require.NoError(t, err)

	processed, err := env.pipeline.Process(ctx, msg)
	require.NoError(t, err)
	assert.Empty(t, processed.Embedding)
	require.NotNil(t, processed.CategoryID)
}

func TestReprocessingOverwrites(t *testing.T) {
	env := newTestEnv(&stubClassifier{err: errors.New("down")}, &stubEmbedder{}, &stubOCR{})
	ctx := context.Background()

	msg, err := env.pipeline.Ingest(ctx, textRequest(1, "ch1", "coffee with Anna"))
	require.NoError(t, err)

	first, err := env.pipeline.Process(ctx, msg)
	require.NoError(t, err)
	second, err := env.pipeline.Process(ctx, msg)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Tags, second.Tags)

	all, err := env.store.ListMessages(ctx, 1, storage.MessageFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	categories, err := env.store.ListCategories(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, categories, 1)
}
