package gemini

import (
	"context"
	"fmt"

	"cloud.google.com/go/auth/credentials"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"quel-fitting-server/modules/common/config"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// NewClients - Gemini API 키마다 클라이언트를 하나씩 만든다.
// VERTEXAI_PROJECT 가 있으면 Vertex AI 단일 클라이언트를 반환
func NewClients(ctx context.Context, cfg *config.Config) ([]*genai.Client, error) {
	timeout := cfg.GeminiTimeout
	httpOpts := genai.HTTPOptions{}
	if timeout > 0 {
		httpOpts.Timeout = &timeout
	}

	if cfg.UseVertexAI() {
		client, err := newVertexClient(ctx, cfg, httpOpts)
		if err != nil {
			return nil, err
		}
		return []*genai.Client{client}, nil
	}

	if len(cfg.GeminiAPIKeys) == 0 {
		return nil, fmt.Errorf("no Gemini API keys configured")
	}

	clients := make([]*genai.Client, 0, len(cfg.GeminiAPIKeys))
	for i, key := range cfg.GeminiAPIKeys {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:      key,
			Backend:     genai.BackendGeminiAPI,
			HTTPOptions: httpOpts,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Genai client for key #%d: %w", i+1, err)
		}
		clients = append(clients, client)
	}

	log.Info().Int("keys", len(clients)).Msg("✅ [Gemini] Clients initialized")
	return clients, nil
}

// newVertexClient - VERTEXAI_CREDENTIALS_JSON 이 있으면 사용, 없으면 ADC
func newVertexClient(ctx context.Context, cfg *config.Config, httpOpts genai.HTTPOptions) (*genai.Client, error) {
	opts := &credentials.DetectOptions{Scopes: []string{cloudPlatformScope}}
	if cfg.VertexAICredentialsJSON != "" {
		log.Info().Msg("✅ [VertexAI] Using VERTEXAI_CREDENTIALS_JSON from environment")
		opts.CredentialsJSON = []byte(cfg.VertexAICredentialsJSON)
	} else {
		log.Warn().Msg("⚠️  [VertexAI] No explicit credentials found, using Application Default Credentials")
	}

	creds, err := credentials.DetectDefault(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to detect Vertex AI credentials: %w", err)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Backend:     genai.BackendVertexAI,
		Project:     cfg.VertexAIProject,
		Location:    cfg.VertexAILocation,
		Credentials: creds,
		HTTPOptions: httpOpts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Vertex AI client: %w", err)
	}

	log.Info().Str("project", cfg.VertexAIProject).Str("location", cfg.VertexAILocation).Msg("✅ [VertexAI] Client initialized")
	return client, nil
}
