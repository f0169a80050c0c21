package extractor

import (
	"context"
	"fmt"

	"github.com/xaenox/recall-bot/internal/models"
	"go.uber.org/zap"
)

// OCRProvider reads text out of an image reference. An image without any
// text is not an error: the result is just empty.
type OCRProvider interface {
	OCR(ctx context.Context, imageRef string) (string, error)
}

// Transcriber turns an audio reference into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioRef string) (string, error)
}

// DocumentParser extracts plain text from a document reference, keeping
// paragraph boundaries as newlines.
type DocumentParser interface {
	Parse(ctx context.Context, docRef string) (string, error)
}

// Extractor dispatches a message to the provider matching its modality.
type Extractor struct {
	ocr         OCRProvider
	transcriber Transcriber
	documents   DocumentParser
	logger      *zap.Logger
}

func New(ocr OCRProvider, transcriber Transcriber, documents DocumentParser, logger *zap.Logger) *Extractor {
	return &Extractor{
		ocr:         ocr,
		transcriber: transcriber,
		documents:   documents,
		logger:      logger,
	}
}

// Extract returns the plain text for a message. A failure here is degraded,
// not fatal: the caller records the reason and keeps the message searchable
// by its metadata.
func (e *Extractor) Extract(ctx context.Context, msg *models.Message) (string, error) {
	switch msg.Modality {
	case models.TextModality:
		return msg.RawRef, nil
	case models.ImageModality:
		text, err := e.ocr.OCR(ctx, msg.RawRef)
		if err != nil {
			return "", fmt.Errorf("ocr failed: %w", err)
		}
		return text, nil
	case models.AudioModality:
		text, err := e.transcriber.Transcribe(ctx, msg.RawRef)
		if err != nil {
			return "", fmt.Errorf("transcription failed: %w", err)
		}
		return text, nil
	case models.DocumentModality:
		text, err := e.documents.Parse(ctx, msg.RawRef)
		if err != nil {
			return "", fmt.Errorf("document parsing failed: %w", err)
		}
		return text, nil
	default:
		return "", fmt.Errorf("unsupported modality: %s", msg.Modality)
	}
}
