package ai

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const (
	defaultGeminiModel = "gemini-embedding-001"
	geminiQueryTask    = "RETRIEVAL_QUERY"
)

type geminiConfig struct {
	APIKey   string `json:"api_key"`
	TaskType string `json:"task_type"`
}

type geminiEmbedder struct {
	apiKey   string
	model    string
	taskType string
}

func (p *geminiEmbedder) ModelName() string {
	return "gemini:" + p.model
}

func (p *geminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if p.apiKey == "" {
		return nil, unavailable("gemini", fmt.Errorf("api_key not configured"))
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, unavailable("gemini", err)
	}
	var config *genai.EmbedContentConfig
	if p.taskType != "" {
		config = &genai.EmbedContentConfig{
			TaskType: p.taskType,
		}
	}
	resp, err := client.Models.EmbedContent(
		ctx,
		p.model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: text}}}},
		config,
	)
	if err != nil {
		return nil, unavailable("gemini", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("no embedding values returned")
	}
	return resp.Embeddings[0].Values, nil
}

func createGeminiEmbedder(model string, args interface{}) (IEmbedder, error) {
	cfg := &geminiConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = defaultGeminiModel
	}
	taskType := strings.TrimSpace(cfg.TaskType)
	if taskType == "" {
		taskType = geminiQueryTask
	}
	return &geminiEmbedder{
		apiKey:   strings.TrimSpace(cfg.APIKey),
		model:    model,
		taskType: taskType,
	}, nil
}

func init() {
	Register("gemini", createGeminiEmbedder)
}
