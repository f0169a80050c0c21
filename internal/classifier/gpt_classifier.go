package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/xaenox/recall-bot/internal/models"
	"go.uber.org/zap"
)

type gptResponse struct {
	Category    string  `json:"category"`
	Description string  `json:"description"`
	IsNew       bool    `json:"is_new"`
	Confidence  float64 `json:"confidence"`
}

type completionClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type GPTClassifier struct {
	client      completionClient
	model       string
	maxTokens   int
	temperature float64
	logger      *zap.Logger
}

func NewGPTClassifier(apiKey, model string, maxTokens int, temperature float64, logger *zap.Logger) *GPTClassifier {
	return &GPTClassifier{
		client:      openai.NewClient(apiKey),
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		logger:      logger,
	}
}

func (c *GPTClassifier) Classify(ctx context.Context, text string, taxonomy []*models.Category) (models.Classification, error) {
	prompt := buildPrompt(text, taxonomy)

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		MaxTokens:   c.maxTokens,
		Temperature: float32(c.temperature),
	})
	if err != nil {
		return models.Classification{}, fmt.Errorf("error getting classification response: %v", err)
	}
	if len(resp.Choices) == 0 {
		return models.Classification{}, fmt.Errorf("empty classification response")
	}

	var parsed gptResponse
	response := stripCodeFence(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(response), &parsed); err != nil {
		c.logger.Error("Failed to parse classification response",
			zap.Error(err),
			zap.String("response", response))
		return models.Classification{}, fmt.Errorf("error parsing classification response: %v", err)
	}

	if parsed.Category == "" {
		return models.Classification{}, fmt.Errorf("classification response missing category")
	}
	if parsed.Confidence < 0 {
		parsed.Confidence = 0
	}
	if parsed.Confidence > 1 {
		parsed.Confidence = 1
	}

	if !parsed.IsNew {
		for _, category := range taxonomy {
			if strings.EqualFold(category.Name, parsed.Category) {
				return models.Classification{
					CategoryID: category.ID,
					Confidence: parsed.Confidence,
				}, nil
			}
		}
		// The model claimed an existing category that does not exist;
		// treat it as a proposal instead.
	}

	return models.Classification{
		Proposal: models.Proposal{
			Name:        parsed.Category,
			Description: parsed.Description,
		},
		Confidence: parsed.Confidence,
	}, nil
}

func buildPrompt(text string, taxonomy []*models.Category) string {
	var sb strings.Builder
	sb.WriteString("You are organizing a note into a personal knowledge base.\n\n")

	if len(taxonomy) > 0 {
		sb.WriteString("EXISTING CATEGORIES:\n")
		for _, category := range taxonomy {
			sb.WriteString("- ")
			sb.WriteString(category.Name)
			if category.Description != "" {
				sb.WriteString(": ")
				sb.WriteString(category.Description)
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	} else {
		sb.WriteString("The user has no categories yet.\n\n")
	}

	fmt.Fprintf(&sb, `NOTE:
"%s"

TASK: Choose the best category.

Rules:
1. Use an existing category if the note clearly fits it.
2. Propose a NEW specific category if this is a distinct theme.
3. Be specific - avoid generic names like "Notes" or "General".

Return a JSON object:
{
    "category": "chosen or new category name",
    "description": "one sentence describing the category (only when new)",
    "is_new": true/false,
    "confidence": 0.0-1.0
}`, text)

	return sb.String()
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}
