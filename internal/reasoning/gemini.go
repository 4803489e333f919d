package reasoning

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/metalagman/plancheck/internal/model"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// GeminiClient sends one GenerateContent request per call.
type GeminiClient struct {
	model  string
	client *genai.Client
}

// NewGeminiClient constructs a client from cfg. Timeout and retries are not
// applied here; wrap the client with New to get them.
func NewGeminiClient(ctx context.Context, cfg Config, httpClient *http.Client) (*GeminiClient, error) {
	modelName := strings.TrimSpace(cfg.Model)
	if modelName == "" {
		modelName = defaultModel
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		envKey := strings.TrimSpace(cfg.APIKeyEnv)
		if envKey == "" {
			envKey = defaultAPIKeyEnv
		}
		apiKey = strings.TrimSpace(os.Getenv(envKey))
	}
	if apiKey == "" {
		return nil, fmt.Errorf("reasoning api key is required (set api_key or api_key_env)")
	}

	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if httpClient != nil {
		cc.HTTPClient = httpClient
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: base}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiClient{model: modelName, client: client}, nil
}

// Model returns the model name used for every call.
func (c *GeminiClient) Model() string { return c.model }

// Infer executes a single GenerateContent request.
func (c *GeminiClient) Infer(ctx context.Context, req Request) (Response, error) {
	parts := make([]*genai.Part, 0, 2)
	if len(req.Document) > 0 {
		mime := req.DocumentMIME
		if mime == "" {
			mime = MimePDF
		}
		parts = append(parts, genai.NewPartFromBytes(req.Document, mime))
	}
	parts = append(parts, genai.NewPartFromText(req.Instruction))

	gc := &genai.GenerateContentConfig{}
	if req.MaxTokens > 0 {
		gc.MaxOutputTokens = int32(req.MaxTokens)
	}

	log.Debug().
		Str("label", req.Label).
		Str("model", c.model).
		Int("document_bytes", len(req.Document)).
		Int("instruction_chars", len(req.Instruction)).
		Msg("reasoning request")

	resp, err := c.client.Models.GenerateContent(ctx, c.model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, gc)
	if err != nil {
		return Response{}, fmt.Errorf("genai generate content: %w", err)
	}

	out := Response{Text: resp.Text()}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = model.Usage{
			InputTokens:  int(u.PromptTokenCount),
			OutputTokens: int(u.CandidatesTokenCount),
		}
	}
	if strings.TrimSpace(out.Text) == "" {
		log.Warn().
			Str("label", req.Label).
			Int("input_tokens", out.Usage.InputTokens).
			Int("output_tokens", out.Usage.OutputTokens).
			Msg("reasoning response had no text")
		return out, ErrEmptyResponse
	}

	log.Debug().
		Str("label", req.Label).
		Int("response_chars", len(out.Text)).
		Int("input_tokens", out.Usage.InputTokens).
		Int("output_tokens", out.Usage.OutputTokens).
		Msg("reasoning response")
	return out, nil
}
