// Package inference annotates screen recordings with a multimodal model.
// The model is treated as a black box: recordings go up, a loosely-typed
// JSON annotation comes back.
package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/recallhq/recall/pkg/config"
	"github.com/recallhq/recall/pkg/logging"
	"github.com/recallhq/recall/pkg/memory"
	"github.com/recallhq/recall/pkg/types"
)

const filePollInterval = 2 * time.Second

const annotationPrompt = `Analyze this screen recording of a user's computer session.

Respond with exactly one JSON object in this shape:
{
  "summary": "what the user did during the recording, in a few sentences",
  "explicit_directives": [
    {"command": "...", "target": "...", "certainty": 0.9, "context": "..."}
  ],
  "explicit_statements": [
    {"statement": "...", "type": "preference|goal|frustration|fact", "certainty": 0.9, "context": "..."}
  ],
  "inferred_insights": [
    {"insight": "...", "type": "skill|habit|trait", "basis": "what you observed", "certainty": 0.7}
  ]
}

Directives are instructions the user gave (spoken or typed). Statements are
things the user said about themselves, their goals, or their environment.
Insights are behavior-level inferences you draw from what you watched. Omit
array entries you have no evidence for; never invent activity.`

// Client uploads recordings and requests annotations.
type Client struct {
	genai  *genai.Client
	model  string
	wait   time.Duration
	logger *logging.Logger
}

// NewClient creates an annotation client from the inference configuration.
func NewClient(ctx context.Context, cfg config.InferenceConfig, apiKey string, logger *logging.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("inference: missing API key (set %s)", cfg.APIKeyEnv)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("inference: create client: %w", err)
	}

	return &Client{
		genai:  client,
		model:  cfg.Model,
		wait:   cfg.UploadTimeout,
		logger: logger,
	}, nil
}

// Annotate uploads the recording at path, waits for the file to become
// available, and returns the parsed annotation. The uploaded file is deleted
// afterwards regardless of outcome.
func (c *Client) Annotate(ctx context.Context, path string) (*types.AnalysisResult, error) {
	c.logger.Infof("uploading recording %s", path)

	file, err := c.genai.Files.UploadFromPath(ctx, path, &genai.UploadFileConfig{
		MIMEType: mimeTypeFor(path),
	})
	if err != nil {
		return nil, fmt.Errorf("inference: upload %s: %w", path, err)
	}
	defer func() {
		if _, err := c.genai.Files.Delete(ctx, file.Name, nil); err != nil {
			c.logger.Warnf("failed to delete uploaded file %s: %v", file.Name, err)
		}
	}()

	file, err = c.waitForActive(ctx, file)
	if err != nil {
		return nil, err
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromURI(file.URI, file.MIMEType),
			genai.NewPartFromText(annotationPrompt),
		}, genai.RoleUser),
	}

	resp, err := c.genai.Models.GenerateContent(ctx, c.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("inference: annotate %s: %w", path, err)
	}

	return parseAnnotation(resp.Text())
}

// waitForActive polls the uploaded file until the service has finished
// processing it, bounded by the configured upload timeout.
func (c *Client) waitForActive(ctx context.Context, file *genai.File) (*genai.File, error) {
	deadline := time.Now().Add(c.wait)
	for file.State == genai.FileStateProcessing {
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("inference: file %s still processing after %s", file.Name, c.wait)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(filePollInterval):
		}

		var err error
		file, err = c.genai.Files.Get(ctx, file.Name, nil)
		if err != nil {
			return nil, fmt.Errorf("inference: poll file %s: %w", file.Name, err)
		}
	}

	if file.State != genai.FileStateActive {
		return nil, fmt.Errorf("inference: file %s entered state %s", file.Name, file.State)
	}
	return file, nil
}

// parseAnnotation extracts the annotation JSON from the model response.
// Unknown fields are dropped; the result is valid even when every list is
// empty.
func parseAnnotation(raw string) (*types.AnalysisResult, error) {
	jsonStr, err := memory.ExtractJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}

	var result types.AnalysisResult
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return nil, fmt.Errorf("inference: parse annotation: %w", err)
	}
	return &result, nil
}

func mimeTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".webm":
		return "video/webm"
	case ".mkv":
		return "video/x-matroska"
	default:
		return "video/mp4"
	}
}
