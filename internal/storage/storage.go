package storage

import (
	"context"
	"errors"
	"time"

	"github.com/xaenox/recall-bot/internal/models"
)

var (
	// ErrNotFound is returned for unknown message or category ids.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateMessage is returned by CreateMessage when the user already
	// has a message with the same channel message id.
	ErrDuplicateMessage = errors.New("duplicate channel message")
	// ErrNameConflict is returned when a category name is already taken by
	// another category of the same user (case-insensitive).
	ErrNameConflict = errors.New("category name conflict")
)

// MessageFilter narrows user-scoped message listings. Zero values mean no
// constraint.
type MessageFilter struct {
	CategoryID string
	Modality   models.Modality
	Since      time.Time
	Until      time.Time
}

type Storage interface {
	MessageStorage
	CategoryStorage
	Close() error
}

type MessageStorage interface {
	CreateMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	GetMessageByChannelID(ctx context.Context, userID int64, channelMessageID string) (*models.Message, error)
	ListMessages(ctx context.Context, userID int64, filter MessageFilter) ([]*models.Message, error)

	// Stage setters are idempotent overwrites so the pipeline can safely
	// re-run on the same message id.
	UpdateMessageText(ctx context.Context, id, text string, status models.Status, errorReason string) error
	UpdateMessageCategory(ctx context.Context, id, categoryID string, status models.Status) error
	UpdateMessageTags(ctx context.Context, id string, tags []string, entities []models.Entity) error
	UpdateMessageEmbedding(ctx context.Context, id string, embedding []float32) error
}

type CategoryStorage interface {
	CreateCategory(ctx context.Context, category *models.Category) error
	GetCategory(ctx context.Context, userID int64, id string) (*models.Category, error)
	GetCategoryByName(ctx context.Context, userID int64, name string) (*models.Category, error)
	ListCategories(ctx context.Context, userID int64) ([]*models.Category, error)
	RenameCategory(ctx context.Context, userID int64, id, newName string) error

	// DeleteCategory reassigns every referencing message to reassignTo and
	// removes the category in one atomic step, so no message references the
	// deleted id even transiently. Returns the number of reassigned messages.
	DeleteCategory(ctx context.Context, userID int64, id, reassignTo string) (int64, error)

	// MergeCategories moves every message from fromID to toID and deletes
	// fromID atomically. Returns the number of moved messages.
	MergeCategories(ctx context.Context, userID int64, fromID, toID string) (int64, error)
}
