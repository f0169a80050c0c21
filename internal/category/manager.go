package category

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/recall-bot/internal/classifier"
	"github.com/xaenox/recall-bot/internal/models"
	"github.com/xaenox/recall-bot/internal/storage"
	"go.uber.org/zap"
)

// ErrNameConflict is surfaced when a create or rename collides with an
// existing category name of the same user (case-insensitive).
var ErrNameConflict = storage.ErrNameConflict

// ErrNoReplacement is surfaced when a delete has no valid reassignment
// target for the category's messages.
var ErrNoReplacement = errors.New("category has no replacement")

// Manager owns the per-user taxonomy: CRUD, merge, the Uncategorized
// sentinel, and the assignment decision made from classifier output. All
// mutations and the propose-vs-reuse decision run inside a per-user critical
// section so concurrent classification cannot race a merge or delete into
// duplicate categories or dangling references.
type Manager struct {
	storage          storage.Storage
	nearDupThreshold float64
	minConfidence    float64
	locks            *userLocks
	logger           *zap.Logger
}

func NewManager(store storage.Storage, minConfidence, nearDupThreshold float64, logger *zap.Logger) *Manager {
	return &Manager{
		storage:          store,
		nearDupThreshold: nearDupThreshold,
		minConfidence:    minConfidence,
		locks:            newUserLocks(),
		logger:           logger,
	}
}

func (m *Manager) Create(ctx context.Context, userID int64, name, description string) (*models.Category, error) {
	lock := m.locks.lock(userID)
	defer lock.Unlock()

	return m.create(ctx, userID, name, description)
}

func (m *Manager) List(ctx context.Context, userID int64) ([]*models.Category, error) {
	return m.storage.ListCategories(ctx, userID)
}

func (m *Manager) Rename(ctx context.Context, userID int64, id, newName string) error {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return fmt.Errorf("category name must not be empty")
	}

	lock := m.locks.lock(userID)
	defer lock.Unlock()

	return m.storage.RenameCategory(ctx, userID, id, newName)
}

// Delete reassigns every message referencing the category to the replacement
// (Uncategorized when empty) and removes it. Deleting the sentinel itself
// requires an explicit replacement.
func (m *Manager) Delete(ctx context.Context, userID int64, id, replacementID string) (int64, error) {
	lock := m.locks.lock(userID)
	defer lock.Unlock()

	target, err := m.storage.GetCategory(ctx, userID, id)
	if err != nil {
		return 0, err
	}

	if replacementID == "" {
		if strings.EqualFold(target.Name, models.UncategorizedName) {
			return 0, ErrNoReplacement
		}
		sentinel, err := m.ensureUncategorized(ctx, userID)
		if err != nil {
			return 0, err
		}
		replacementID = sentinel.ID
	}
	if replacementID == id {
		return 0, ErrNoReplacement
	}

	return m.storage.DeleteCategory(ctx, userID, id, replacementID)
}

// Merge moves every message from category fromID into toID and deletes
// fromID.
func (m *Manager) Merge(ctx context.Context, userID int64, fromID, toID string) (int64, error) {
	if fromID == toID {
		return 0, fmt.Errorf("cannot merge a category into itself")
	}

	lock := m.locks.lock(userID)
	defer lock.Unlock()

	if _, err := m.storage.GetCategory(ctx, userID, toID); err != nil {
		return 0, err
	}
	return m.storage.MergeCategories(ctx, userID, fromID, toID)
}

// Assign resolves a classification into a concrete category id, creating a
// proposed category when it is not a near-duplicate of an existing name.
// Classifier failure (err != nil) and low-confidence results both fall back
// to the Uncategorized sentinel: categorization is never a hard dependency
// for persistence.
func (m *Manager) Assign(ctx context.Context, userID int64, c models.Classification, classifyErr error) (*models.Category, error) {
	lock := m.locks.lock(userID)
	defer lock.Unlock()

	if classifyErr != nil {
		m.logger.Warn("Classifier unavailable, assigning Uncategorized",
			zap.Error(classifyErr),
			zap.Int64("user_id", userID))
		return m.ensureUncategorized(ctx, userID)
	}

	if c.CategoryID != "" {
		if c.Confidence < m.minConfidence {
			return m.ensureUncategorized(ctx, userID)
		}
		category, err := m.storage.GetCategory(ctx, userID, c.CategoryID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				// The category was deleted or merged away between
				// classification and assignment.
				return m.ensureUncategorized(ctx, userID)
			}
			return nil, err
		}
		return category, nil
	}

	name := strings.TrimSpace(c.Proposal.Name)
	if name == "" {
		return m.ensureUncategorized(ctx, userID)
	}

	taxonomy, err := m.storage.ListCategories(ctx, userID)
	if err != nil {
		return nil, err
	}
	if existing := classifier.NearDuplicate(name, taxonomy, m.nearDupThreshold); existing != nil {
		return existing, nil
	}

	return m.create(ctx, userID, name, c.Proposal.Description)
}

func (m *Manager) ensureUncategorized(ctx context.Context, userID int64) (*models.Category, error) {
	existing, err := m.storage.GetCategoryByName(ctx, userID, models.UncategorizedName)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	return m.create(ctx, userID, models.UncategorizedName, "Messages that could not be classified")
}

func (m *Manager) create(ctx context.Context, userID int64, name, description string) (*models.Category, error) {
	category := &models.Category{
		ID:          uuid.New().String(),
		UserID:      userID,
		Name:        strings.TrimSpace(name),
		Description: description,
		CreatedAt:   time.Now(),
	}
	if category.Name == "" {
		return nil, fmt.Errorf("category name must not be empty")
	}

	if err := m.storage.CreateCategory(ctx, category); err != nil {
		return nil, err
	}
	return category, nil
}
