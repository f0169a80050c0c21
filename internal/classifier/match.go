package classifier

import (
	"strings"

	"github.com/agext/levenshtein"
	"github.com/xaenox/recall-bot/internal/models"
)

// NearDuplicate returns the existing category whose name is a near-duplicate
// of the proposed name, or nil. A near-duplicate is a case-insensitive exact
// match or a levenshtein similarity at or above threshold. Proposals that
// near-duplicate an existing name are merged into it instead of creating a
// redundant category.
func NearDuplicate(proposed string, taxonomy []*models.Category, threshold float64) *models.Category {
	proposed = strings.ToLower(strings.TrimSpace(proposed))
	if proposed == "" {
		return nil
	}

	var best *models.Category
	var bestScore float64
	for _, category := range taxonomy {
		name := strings.ToLower(category.Name)
		if name == proposed {
			return category
		}
		score := levenshtein.Similarity(proposed, name, nil)
		if score >= threshold && score > bestScore {
			best = category
			bestScore = score
		}
	}
	return best
}
