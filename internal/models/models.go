package models

import "time"

type Modality string

const (
	TextModality     Modality = "text"
	ImageModality    Modality = "image"
	AudioModality    Modality = "audio"
	DocumentModality Modality = "document"
)

type Status string

const (
	StatusPending          Status = "pending"
	StatusExtracted        Status = "extracted"
	StatusExtractionFailed Status = "extraction_failed"
	StatusCategorized      Status = "categorized"
)

// Message is one captured unit of content. ChannelMessageID is unique per
// user: re-ingesting the same id updates the existing record instead of
// creating a second one.
type Message struct {
	ID               string    `json:"id"`
	UserID           int64     `json:"user_id"`
	ChannelMessageID string    `json:"channel_message_id"`
	Modality         Modality  `json:"modality"`
	RawRef           string    `json:"raw_ref"`
	ExtractedText    string    `json:"extracted_text"`
	CategoryID       *string   `json:"category_id,omitempty"`
	Tags             []string  `json:"tags"`
	Entities         []Entity  `json:"entities"`
	Embedding        []float32 `json:"embedding,omitempty"`
	Status           Status    `json:"status"`
	ErrorReason      string    `json:"error_reason,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

type EntityType string

const (
	EntityPerson       EntityType = "person"
	EntityDate         EntityType = "date"
	EntityLocation     EntityType = "location"
	EntityOrganization EntityType = "organization"
	EntityOther        EntityType = "other"
)

// Entity is a typed annotation extracted from a message. Normalized is
// optional (ISO date for date entities, lowercased form for locations).
type Entity struct {
	Type       EntityType `json:"type"`
	Value      string     `json:"value"`
	Normalized string     `json:"normalized,omitempty"`
}
