package models

import "time"

// UncategorizedName is the sentinel category every user falls back to when
// classification is unavailable or a category is deleted without an explicit
// replacement.
const UncategorizedName = "Uncategorized"

// Category is a node in a user's flat taxonomy. MessageCount is derived when
// listing and is recomputable from Messages at any time.
type Category struct {
	ID           string    `json:"id"`
	UserID       int64     `json:"user_id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	ParentID     *string   `json:"parent_id,omitempty"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// Classification is the outcome of running the classifier over a message's
// text: either an existing category id, or a proposal for a new one.
type Classification struct {
	CategoryID string   `json:"category_id,omitempty"`
	Proposal   Proposal `json:"proposal,omitempty"`
	Confidence float64  `json:"confidence"`
}

type Proposal struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// SearchResult pairs a message with its combined relevance score.
type SearchResult struct {
	Message *Message `json:"message"`
	Score   float64  `json:"score"`
}
