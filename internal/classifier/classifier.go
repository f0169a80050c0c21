package classifier

import (
	"context"

	"github.com/xaenox/recall-bot/internal/models"
)

// Classifier maps extracted text onto the user's current taxonomy: either an
// existing category id, or a proposal for a new category name + description,
// with a confidence in [0,1]. Implementations may fail; the caller degrades
// to the Uncategorized sentinel.
type Classifier interface {
	Classify(ctx context.Context, text string, taxonomy []*models.Category) (models.Classification, error)
}
