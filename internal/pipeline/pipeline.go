package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/recall-bot/internal/category"
	"github.com/xaenox/recall-bot/internal/classifier"
	"github.com/xaenox/recall-bot/internal/embedding"
	"github.com/xaenox/recall-bot/internal/extractor"
	"github.com/xaenox/recall-bot/internal/models"
	"github.com/xaenox/recall-bot/internal/storage"
	"github.com/xaenox/recall-bot/internal/tagger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// IngestRequest is the normalized inbound payload handed over by the
// transport layer.
type IngestRequest struct {
	UserID           int64
	ChannelMessageID string
	Modality         models.Modality
	ContentRef       string
	Sender           string
}

// Pipeline runs a message through extraction and then the three independent
// enrichment stages (categorization, tagging, embedding). Every stage
// persists its result immediately, so a crash mid-pipeline leaves a
// recoverable partially-enriched record, and re-running on the same message
// id only overwrites prior enrichment.
type Pipeline struct {
	storage    storage.Storage
	extractor  *extractor.Extractor
	classifier classifier.Classifier
	tagger     tagger.Tagger
	embedder   embedding.Embedder
	categories *category.Manager
	timeout    time.Duration
	retry      RetryConfig
	logger     *zap.Logger
}

func New(
	store storage.Storage,
	ext *extractor.Extractor,
	clf classifier.Classifier,
	tg tagger.Tagger,
	emb embedding.Embedder,
	categories *category.Manager,
	timeout time.Duration,
	retry RetryConfig,
	logger *zap.Logger,
) *Pipeline {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Pipeline{
		storage:    store,
		extractor:  ext,
		classifier: clf,
		tagger:     tg,
		embedder:   emb,
		categories: categories,
		timeout:    timeout,
		retry:      retry,
		logger:     logger,
	}
}

// Ingest persists a pending message skeleton before any processing begins.
// Re-ingesting a channel message id the user already has returns the
// existing message unchanged together with storage.ErrDuplicateMessage;
// callers treat that as a no-op success.
func (p *Pipeline) Ingest(ctx context.Context, req IngestRequest) (*models.Message, error) {
	msg := &models.Message{
		ID:               uuid.New().String(),
		UserID:           req.UserID,
		ChannelMessageID: req.ChannelMessageID,
		Modality:         req.Modality,
		RawRef:           req.ContentRef,
		Status:           models.StatusPending,
		CreatedAt:        time.Now(),
	}

	err := p.storage.CreateMessage(ctx, msg)
	if errors.Is(err, storage.ErrDuplicateMessage) {
		existing, getErr := p.storage.GetMessageByChannelID(ctx, req.UserID, req.ChannelMessageID)
		if getErr != nil {
			return nil, fmt.Errorf("error loading duplicate message: %v", getErr)
		}
		return existing, storage.ErrDuplicateMessage
	}
	if err != nil {
		return nil, err
	}

	p.logger.Info("Message ingested",
		zap.String("message_id", msg.ID),
		zap.Int64("user_id", msg.UserID),
		zap.String("modality", string(msg.Modality)),
		zap.String("sender", req.Sender))
	return msg, nil
}

// Process extracts text and fans out enrichment. Provider failures degrade
// per stage and never abort the pipeline; only persistence errors are
// returned. The returned message reflects the fully persisted state.
func (p *Pipeline) Process(ctx context.Context, msg *models.Message) (*models.Message, error) {
	text, extractErr := p.extract(ctx, msg)
	if extractErr != nil {
		p.logger.Warn("Extraction failed, continuing with empty text",
			zap.Error(extractErr),
			zap.String("message_id", msg.ID))
		if err := p.storage.UpdateMessageText(ctx, msg.ID, "", models.StatusExtractionFailed, extractErr.Error()); err != nil {
			return nil, err
		}
	} else {
		if err := p.storage.UpdateMessageText(ctx, msg.ID, text, models.StatusExtracted, ""); err != nil {
			return nil, err
		}
	}

	// extraction_failed is sticky so search can keep demoting empty-text
	// failures; the category is still assigned either way.
	postStatus := models.StatusCategorized
	if extractErr != nil {
		postStatus = models.StatusExtractionFailed
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return p.categorize(gctx, msg, text, postStatus)
	})

	g.Go(func() error {
		tags, entities, err := p.tagger.Extract(gctx, text)
		if err != nil {
			// Best-effort annotations: degrade to none.
			p.logger.Warn("Tag extraction failed",
				zap.Error(err),
				zap.String("message_id", msg.ID))
			tags, entities = nil, nil
		}
		return p.storage.UpdateMessageTags(gctx, msg.ID, tags, entities)
	})

	g.Go(func() error {
		var vec []float32
		err := withRetry(gctx, p.retry, func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, p.timeout)
			defer cancel()
			var embedErr error
			vec, embedErr = p.embedder.Embed(ctx, text)
			return embedErr
		})
		if err != nil {
			p.logger.Warn("Embedding failed, message will rank lexically only",
				zap.Error(err),
				zap.String("message_id", msg.ID))
			return nil
		}
		return p.storage.UpdateMessageEmbedding(gctx, msg.ID, vec)
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return p.storage.GetMessage(ctx, msg.ID)
}

func (p *Pipeline) extract(ctx context.Context, msg *models.Message) (string, error) {
	var text string
	err := withRetry(ctx, p.retry, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		var extractErr error
		text, extractErr = p.extractor.Extract(ctx, msg)
		return extractErr
	})
	return text, err
}

func (p *Pipeline) categorize(ctx context.Context, msg *models.Message, text string, status models.Status) error {
	taxonomy, err := p.storage.ListCategories(ctx, msg.UserID)
	if err != nil {
		return err
	}

	var classification models.Classification
	classifyErr := withRetry(ctx, p.retry, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		var err error
		classification, err = p.classifier.Classify(ctx, text, taxonomy)
		return err
	})

	// Assign degrades to Uncategorized on classifier failure; only storage
	// errors surface.
	assigned, err := p.categories.Assign(ctx, msg.UserID, classification, classifyErr)
	if err != nil {
		return err
	}
	return p.storage.UpdateMessageCategory(ctx, msg.ID, assigned.ID, status)
}
