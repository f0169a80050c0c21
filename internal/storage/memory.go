package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/xaenox/recall-bot/internal/models"
)

// MemoryStorage keeps everything in maps behind one RWMutex. It is the test
// backend and a development fallback when no database is configured.
type MemoryStorage struct {
	mu         sync.RWMutex
	messages   map[string]*models.Message
	categories map[string]*models.Category
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		messages:   make(map[string]*models.Message),
		categories: make(map[string]*models.Category),
	}
}

func (s *MemoryStorage) CreateMessage(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.messages {
		if existing.UserID == msg.UserID && existing.ChannelMessageID == msg.ChannelMessageID {
			return ErrDuplicateMessage
		}
	}

	s.messages[msg.ID] = copyMessage(msg)
	return nil
}

func (s *MemoryStorage) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, exists := s.messages[id]
	if !exists {
		return nil, ErrNotFound
	}
	return copyMessage(msg), nil
}

func (s *MemoryStorage) GetMessageByChannelID(ctx context.Context, userID int64, channelMessageID string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, msg := range s.messages {
		if msg.UserID == userID && msg.ChannelMessageID == channelMessageID {
			return copyMessage(msg), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) ListMessages(ctx context.Context, userID int64, filter MessageFilter) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Message
	for _, msg := range s.messages {
		if msg.UserID != userID {
			continue
		}
		if filter.CategoryID != "" && (msg.CategoryID == nil || *msg.CategoryID != filter.CategoryID) {
			continue
		}
		if filter.Modality != "" && msg.Modality != filter.Modality {
			continue
		}
		if !filter.Since.IsZero() && msg.CreatedAt.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && msg.CreatedAt.After(filter.Until) {
			continue
		}
		result = append(result, copyMessage(msg))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStorage) UpdateMessageText(ctx context.Context, id, text string, status models.Status, errorReason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, exists := s.messages[id]
	if !exists {
		return ErrNotFound
	}
	msg.ExtractedText = text
	msg.Status = status
	msg.ErrorReason = errorReason
	return nil
}

func (s *MemoryStorage) UpdateMessageCategory(ctx context.Context, id, categoryID string, status models.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, exists := s.messages[id]
	if !exists {
		return ErrNotFound
	}
	msg.CategoryID = &categoryID
	msg.Status = status
	return nil
}

func (s *MemoryStorage) UpdateMessageTags(ctx context.Context, id string, tags []string, entities []models.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, exists := s.messages[id]
	if !exists {
		return ErrNotFound
	}
	msg.Tags = append([]string(nil), tags...)
	msg.Entities = append([]models.Entity(nil), entities...)
	return nil
}

func (s *MemoryStorage) UpdateMessageEmbedding(ctx context.Context, id string, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, exists := s.messages[id]
	if !exists {
		return ErrNotFound
	}
	msg.Embedding = append([]float32(nil), embedding...)
	return nil
}

func (s *MemoryStorage) CreateCategory(ctx context.Context, category *models.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.categories {
		if existing.UserID == category.UserID && strings.EqualFold(existing.Name, category.Name) {
			return ErrNameConflict
		}
	}

	s.categories[category.ID] = copyCategory(category)
	return nil
}

func (s *MemoryStorage) GetCategory(ctx context.Context, userID int64, id string) (*models.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	category, exists := s.categories[id]
	if !exists || category.UserID != userID {
		return nil, ErrNotFound
	}
	return copyCategory(category), nil
}

func (s *MemoryStorage) GetCategoryByName(ctx context.Context, userID int64, name string) (*models.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, category := range s.categories {
		if category.UserID == userID && strings.EqualFold(category.Name, name) {
			return copyCategory(category), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) ListCategories(ctx context.Context, userID int64) ([]*models.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for _, msg := range s.messages {
		if msg.UserID == userID && msg.CategoryID != nil {
			counts[*msg.CategoryID]++
		}
	}

	var result []*models.Category
	for _, category := range s.categories {
		if category.UserID != userID {
			continue
		}
		c := copyCategory(category)
		c.MessageCount = counts[c.ID]
		result = append(result, c)
	}

	sort.Slice(result, func(i, j int) bool {
		return strings.ToLower(result[i].Name) < strings.ToLower(result[j].Name)
	})
	return result, nil
}

func (s *MemoryStorage) RenameCategory(ctx context.Context, userID int64, id, newName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	category, exists := s.categories[id]
	if !exists || category.UserID != userID {
		return ErrNotFound
	}

	for _, other := range s.categories {
		if other.UserID == userID && other.ID != id && strings.EqualFold(other.Name, newName) {
			return ErrNameConflict
		}
	}

	category.Name = newName
	return nil
}

func (s *MemoryStorage) DeleteCategory(ctx context.Context, userID int64, id, reassignTo string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	category, exists := s.categories[id]
	if !exists || category.UserID != userID {
		return 0, ErrNotFound
	}
	target, exists := s.categories[reassignTo]
	if !exists || target.UserID != userID {
		return 0, ErrNotFound
	}

	var moved int64
	for _, msg := range s.messages {
		if msg.UserID == userID && msg.CategoryID != nil && *msg.CategoryID == id {
			targetID := target.ID
			msg.CategoryID = &targetID
			moved++
		}
	}

	delete(s.categories, id)
	return moved, nil
}

func (s *MemoryStorage) MergeCategories(ctx context.Context, userID int64, fromID, toID string) (int64, error) {
	return s.DeleteCategory(ctx, userID, fromID, toID)
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}

func copyMessage(msg *models.Message) *models.Message {
	c := *msg
	if msg.CategoryID != nil {
		id := *msg.CategoryID
		c.CategoryID = &id
	}
	c.Tags = append([]string(nil), msg.Tags...)
	c.Entities = append([]models.Entity(nil), msg.Entities...)
	c.Embedding = append([]float32(nil), msg.Embedding...)
	return &c
}

func copyCategory(category *models.Category) *models.Category {
	c := *category
	if category.ParentID != nil {
		id := *category.ParentID
		c.ParentID = &id
	}
	return &c
}
