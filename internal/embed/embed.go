// Package embed produces text embeddings for semantic search via an
// embedContent-style REST API, with an LRU cache in front for repeated
// query texts.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/paragraf/paragraf/internal/config"
	"github.com/paragraf/paragraf/internal/errors"
)

// TaskType tunes the embedding for its role in retrieval.
type TaskType string

const (
	TaskQuery    TaskType = "RETRIEVAL_QUERY"
	TaskDocument TaskType = "RETRIEVAL_DOCUMENT"
)

// Embedder turns text into a fixed-dimension unit vector.
type Embedder interface {
	Embed(ctx context.Context, text string, task TaskType) ([]float32, error)
	// Model names the producing model, stored alongside vectors.
	Model() string
	Dimensions() int
}

// Client calls the embedContent REST endpoint.
type Client struct {
	endpoint string
	model    string
	dims     int
	apiKey   string
	http     *http.Client
	retry    errors.RetryConfig
}

var _ Embedder = (*Client)(nil)

// NewClient builds a client from embedding configuration. Returns a
// Validation error when the API key environment variable is unset.
func NewClient(cfg config.EmbeddingConfig) (*Client, error) {
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, errors.Validation("embedding API key not set").
			WithDetail("env", cfg.APIKeyEnv)
	}
	return &Client{
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		dims:     cfg.Dimensions,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 30 * time.Second},
		retry:    errors.DefaultRetryConfig(),
	}, nil
}

func (c *Client) Model() string   { return c.model }
func (c *Client) Dimensions() int { return c.dims }

type embedRequest struct {
	Model                string       `json:"model"`
	Content              embedContent `json:"content"`
	TaskType             TaskType     `json:"taskType"`
	OutputDimensionality int          `json:"outputDimensionality"`
}

type embedContent struct {
	Parts []embedPart `json:"parts"`
}

type embedPart struct {
	Text string `json:"text"`
}

type embedResponse struct {
	Embedding struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
}

// Embed requests one embedding. The returned vector is scaled to unit
// length: truncated-dimension embeddings come back unnormalized.
func (c *Client) Embed(ctx context.Context, text string, task TaskType) ([]float32, error) {
	if text == "" {
		return nil, errors.Validation("cannot embed empty text")
	}
	return errors.RetryWithResult(ctx, c.retry, func() ([]float32, error) {
		body, err := json.Marshal(embedRequest{
			Model:                "models/" + c.model,
			Content:              embedContent{Parts: []embedPart{{Text: text}}},
			TaskType:             task,
			OutputDimensionality: c.dims,
		})
		if err != nil {
			return nil, errors.Internal("failed to encode embed request").WithDetail("cause", err.Error())
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, errors.Internal("failed to build embed request").WithDetail("cause", err.Error())
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-goog-api-key", c.apiKey)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, errors.Transient("embed request failed").WithDetail("cause", err.Error())
		}
		defer resp.Body.Close()
		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return nil, errors.Transient(fmt.Sprintf("embedding API returned %d", resp.StatusCode))
		default:
			return nil, errors.Internal(fmt.Sprintf("embedding API returned %d", resp.StatusCode))
		}

		var decoded embedResponse
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return nil, errors.Transient("failed to decode embed response").WithDetail("cause", err.Error())
		}
		vec := decoded.Embedding.Values
		if len(vec) != c.dims {
			return nil, errors.Internal("unexpected embedding dimensionality").
				WithDetail("want", fmt.Sprint(c.dims)).WithDetail("got", fmt.Sprint(len(vec)))
		}
		normalizeInPlace(vec)
		return vec, nil
	})
}

func normalizeInPlace(vec []float32) {
	var sum float64
	for _, x := range vec {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := 1 / float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] *= inv
	}
}
