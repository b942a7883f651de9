// Package embedding implements C2: the embedding client used by the
// retriever and episode store to turn episode/context text into vectors
// for similarity search. Grounded on the teacher's
// ai/providers/bedrock.Client.GetEmbeddings (InvokeModel against Amazon
// Titan Embed), generalized with batching and wrapped in the same
// breaker+retry discipline as the HTTP service clients.
package embedding

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	coreerrors "github.com/agilecore/orchestrator-core/internal/errors"
	"github.com/agilecore/orchestrator-core/internal/resilience"
	"github.com/agilecore/orchestrator-core/internal/telemetry"
)

// Client wraps bedrockruntime for Titan text embeddings (spec.md §4.C2:
// fixed dimension, single/batch embed, health check).
type Client struct {
	runtime   *bedrockruntime.Client
	modelID   string
	dimension int
	breaker   *resilience.Breaker
	retry     resilience.RetryConfig
	logger    telemetry.Logger
}

func New(cfg aws.Config, modelID string, dimension int, logger telemetry.Logger) *Client {
	cbCfg := resilience.DefaultConfig("embedding")
	return &Client{
		runtime:   bedrockruntime.NewFromConfig(cfg),
		modelID:   modelID,
		dimension: dimension,
		breaker:   resilience.New(cbCfg),
		retry:     resilience.DefaultRetryConfig(),
		logger:    logger.WithComponent("embedding"),
	}
}

type titanEmbedRequest struct {
	InputText string `json:"inputText"`
}

type titanEmbedResponse struct {
	Embedding           []float32 `json:"embedding"`
	InputTextTokenCount int       `json:"inputTextTokenCount"`
}

// Embed returns the fixed-dimension embedding for text. If the breaker is
// open or Bedrock is unavailable after retry, callers should treat the
// error as ErrEmbeddingUnavailable and degrade (spec.md §4.C5/C8: no
// embedding means a retrieval/pattern step is skipped, not a hard failure).
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("embedding.Embed: %w", coreerrors.ErrInvalidInput)
	}

	var vec []float32
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.Retry(ctx, c.retry, func(ctx context.Context) error {
			v, err := c.invoke(ctx, text)
			if err != nil {
				return err
			}
			vec = v
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("embedding.Embed: %w: %v", coreerrors.ErrEmbeddingUnavailable, err)
	}
	if len(vec) != c.dimension {
		return nil, fmt.Errorf("embedding.Embed: got dimension %d, want %d: %w", len(vec), c.dimension, coreerrors.ErrMalformedRecord)
	}
	return vec, nil
}

// EmbedBatch embeds each text independently (Titan has no native batch
// endpoint); a single failure aborts the batch rather than returning
// partial results, so callers see one clear error.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := c.Embed(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("embedding.EmbedBatch[%d]: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// HealthCheck embeds a short fixed probe string to confirm the circuit is
// closed and Bedrock reachable, without depending on caller-provided text.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.Embed(ctx, "health-check")
	return err
}

// BreakerState exposes the breaker for health aggregation (pkg/health).
func (c *Client) BreakerState() resilience.State { return c.breaker.State() }

func (c *Client) invoke(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(titanEmbedRequest{InputText: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	out, err := c.runtime.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.modelID),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", coreerrors.ErrConnectionFailed, err)
	}

	var resp titanEmbedResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", coreerrors.ErrMalformedRecord, err)
	}
	return resp.Embedding, nil
}
