package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/globetrotter-labs/travel-assistant/internal/travelerrors"
	"github.com/itsneelabh/gomind/core"
)

// OpenAIEmbedder implements Embedder against an OpenAI-compatible
// /embeddings endpoint, following the same apiKey/baseURL/*http.Client
// construction as ai/providers/openai's Client rather than routing through
// core.AIClient, which only exposes chat completions.
type OpenAIEmbedder struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     core.Logger
}

// NewOpenAIEmbedder builds an OpenAIEmbedder. baseURL defaults to OpenAI's
// public API the same way ai/providers/openai.NewClient does.
func NewOpenAIEmbedder(apiKey, baseURL, model string, logger core.Logger) *OpenAIEmbedder {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &OpenAIEmbedder{
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Embed calls the embeddings endpoint for a single piece of text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, travelerrors.New("RAG.embed", travelerrors.KindInvalidInput, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, travelerrors.New("RAG.embed", travelerrors.KindInvalidInput, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, travelerrors.New("RAG.embed", travelerrors.KindDownstreamUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, travelerrors.New("RAG.embed", travelerrors.KindDownstreamUnavailable, err)
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, travelerrors.New("RAG.embed", travelerrors.KindDownstreamUnavailable, err)
	}
	if parsed.Error != nil {
		return nil, travelerrors.New("RAG.embed", travelerrors.KindDownstreamUnavailable, fmt.Errorf("%s", parsed.Error.Message))
	}
	if resp.StatusCode != http.StatusOK || len(parsed.Data) == 0 {
		return nil, travelerrors.New("RAG.embed", travelerrors.KindDownstreamUnavailable, fmt.Errorf("embeddings request failed: status %d", resp.StatusCode))
	}

	return parsed.Data[0].Embedding, nil
}
