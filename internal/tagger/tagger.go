package tagger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/xaenox/recall-bot/internal/models"
	"go.uber.org/zap"
)

// Tagger derives keyword tags and typed entities from extracted text. Both
// are best-effort annotations: failure degrades to an empty result and never
// fails the message.
type Tagger interface {
	Extract(ctx context.Context, text string) ([]string, []models.Entity, error)
}

type gptAnnotations struct {
	Keywords []string `json:"keywords"`
	Entities struct {
		People        []string `json:"people"`
		Dates         []string `json:"dates"`
		Locations     []string `json:"locations"`
		Organizations []string `json:"organizations"`
	} `json:"entities"`
}

type completionClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// GPTTagger asks the model for keywords and entities, falling back to the
// rule-based extractor when the call or the response parsing fails.
type GPTTagger struct {
	client    completionClient
	model     string
	maxTokens int
	maxTags   int
	fallback  *RuleTagger
	logger    *zap.Logger
}

func NewGPTTagger(apiKey, model string, maxTokens, maxTags int, logger *zap.Logger) *GPTTagger {
	return &GPTTagger{
		client:    openai.NewClient(apiKey),
		model:     model,
		maxTokens: maxTokens,
		maxTags:   maxTags,
		fallback:  NewRuleTagger(maxTags),
		logger:    logger,
	}
}

func (t *GPTTagger) Extract(ctx context.Context, text string) ([]string, []models.Entity, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil, nil
	}

	prompt := fmt.Sprintf(`Extract searchable metadata from the following note.

Return a JSON object:
{
    "keywords": ["up to %d lowercase keywords, most important first"],
    "entities": {
        "people": ["person names mentioned"],
        "dates": ["date or time references"],
        "locations": ["places mentioned"],
        "organizations": ["companies or organizations mentioned"]
    }
}

Note: %s`, t.maxTags, text)

	resp, err := t.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: t.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		MaxTokens: t.maxTokens,
	})
	if err != nil {
		t.logger.Warn("Tag extraction failed, using rule fallback", zap.Error(err))
		return t.fallback.Extract(ctx, text)
	}
	if len(resp.Choices) == 0 {
		return t.fallback.Extract(ctx, text)
	}

	var parsed gptAnnotations
	response := strings.TrimSpace(resp.Choices[0].Message.Content)
	response = strings.TrimPrefix(response, "```json")
	response = strings.Trim(response, "` \n")
	if err := json.Unmarshal([]byte(response), &parsed); err != nil {
		t.logger.Warn("Failed to parse tag response, using rule fallback",
			zap.Error(err),
			zap.String("response", response))
		return t.fallback.Extract(ctx, text)
	}

	tags := dedupeTags(parsed.Keywords, t.maxTags)

	var entities []models.Entity
	for _, v := range parsed.Entities.People {
		entities = append(entities, models.Entity{Type: models.EntityPerson, Value: v})
	}
	for _, v := range parsed.Entities.Dates {
		entities = append(entities, models.Entity{Type: models.EntityDate, Value: v})
	}
	for _, v := range parsed.Entities.Locations {
		entities = append(entities, models.Entity{Type: models.EntityLocation, Value: v, Normalized: strings.ToLower(v)})
	}
	for _, v := range parsed.Entities.Organizations {
		entities = append(entities, models.Entity{Type: models.EntityOrganization, Value: v})
	}

	return tags, entities, nil
}

// dedupeTags lowercases, trims, and deduplicates tags while preserving the
// order of first appearance.
func dedupeTags(tags []string, limit int) []string {
	seen := make(map[string]struct{})
	var result []string
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, exists := seen[tag]; exists {
			continue
		}
		seen[tag] = struct{}{}
		result = append(result, tag)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result
}
