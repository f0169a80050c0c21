package extractor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const ocrPrompt = `Extract all readable text from this image. Return only the text itself, ` +
	`preserving line breaks. If the image contains no text, return an empty response.`

// OpenAIProvider implements OCR via a vision chat completion and
// transcription via the audio endpoint.
type OpenAIProvider struct {
	client      *openai.Client
	visionModel string
	audioModel  string
	httpClient  *http.Client
}

func NewOpenAIProvider(apiKey, visionModel, audioModel string) *OpenAIProvider {
	return &OpenAIProvider{
		client:      openai.NewClient(apiKey),
		visionModel: visionModel,
		audioModel:  audioModel,
		httpClient:  http.DefaultClient,
	}
}

func (p *OpenAIProvider) OCR(ctx context.Context, imageRef string) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.visionModel,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: ocrPrompt},
					{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: imageRef},
					},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("error running vision completion: %v", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty vision response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (p *OpenAIProvider) Transcribe(ctx context.Context, audioRef string) (string, error) {
	body, err := p.download(ctx, audioRef)
	if err != nil {
		return "", err
	}
	defer body.Close()

	resp, err := p.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    p.audioModel,
		Reader:   body,
		FilePath: path.Base(audioRef),
	})
	if err != nil {
		return "", fmt.Errorf("error transcribing audio: %v", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

func (p *OpenAIProvider) download(ctx context.Context, ref string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("error building download request: %v", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error downloading content: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("error downloading content: status %d", resp.StatusCode)
	}
	return resp.Body, nil
}
