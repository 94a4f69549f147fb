package gcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lllllllleong/examquestionflow/internal/vision"
)

// --- Extraction Model Prompts ---
const ExtractorSystemPrompt = "You are an exam paper transcription tool. You read scanned exam pages and transcribe every question, answer choice, table, code block and picture reference exactly as printed. You never solve questions, never add answers and never summarise. When asked for JSON you output only valid JSON."

// refusalPhrases mark a response where the model declined the page instead of transcribing it.
var refusalPhrases = []string{
	"i am unable to",
	"i cannot fulfill",
	"i cannot answer",
	"i cannot provide",
	"as a large language model",
}

// VertexClient holds the pre-configured Gemini models used for extraction.
type VertexClient struct {
	// JSONModel forces application/json output; TextModel is used when a request does not ask for JSON.
	JSONModel  *genai.GenerativeModel
	TextModel  *genai.GenerativeModel
	baseClient *genai.Client
}

// VertexConfig selects the model and its output budget.
type VertexConfig struct {
	ProjectID       string
	Region          string
	Model           string
	MaxOutputTokens int
}

// NewVertexClient creates a new client holding both extraction models.
func NewVertexClient(ctx context.Context, cfg VertexConfig) (*VertexClient, error) {
	if cfg.ProjectID == "" || cfg.Region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-pro"
	}

	baseClient, err := genai.NewClient(ctx, cfg.ProjectID, cfg.Region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	return &VertexClient{
		JSONModel:  configureModel(baseClient.GenerativeModel(cfg.Model), true, cfg.MaxOutputTokens),
		TextModel:  configureModel(baseClient.GenerativeModel(cfg.Model), false, cfg.MaxOutputTokens),
		baseClient: baseClient,
	}, nil
}

func configureModel(model *genai.GenerativeModel, jsonOutput bool, maxOutputTokens int) *genai.GenerativeModel {
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(ExtractorSystemPrompt)},
	}
	model.GenerationConfig = genai.GenerationConfig{
		Temperature: genai.Ptr[float32](0.0), // Transcription must be deterministic.
	}
	if jsonOutput {
		model.GenerationConfig.ResponseMIMEType = "application/json"
	}
	if maxOutputTokens > 0 {
		model.SetMaxOutputTokens(int32(maxOutputTokens))
	}
	model.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	}
	return model
}

// Extract implements vision.Capability. Rate limiting, quota and availability errors come back as
// *vision.TransientError so the caller's retry policy can handle them.
func (c *VertexClient) Extract(ctx context.Context, req vision.Request) (string, error) {
	model := c.TextModel
	if req.JSONOutput {
		model = c.JSONModel
	}
	parts := make([]genai.Part, 0, len(req.Images)+1)
	for _, img := range req.Images {
		parts = append(parts, genai.ImageData(imageFormat(img.MIMEType), img.Data))
	}
	parts = append(parts, genai.Text(req.Instruction))

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", classifyError(err)
	}
	text, finish := responseText(resp)
	if text == "" {
		return "", fmt.Errorf("gemini returned no text (finish reason %s)", finish)
	}
	lower := strings.ToLower(text)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) && !strings.Contains(lower, "question") {
			return "", fmt.Errorf("gemini response indicates refusal: %q", truncate(text, 120))
		}
	}
	// A response cut at the token limit is still returned; the repair ladder salvages what it can.
	return text, nil
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) (string, genai.FinishReason) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", genai.FinishReasonUnspecified
	}
	cand := resp.Candidates[0]
	var b strings.Builder
	for _, part := range cand.Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return strings.TrimSpace(b.String()), cand.FinishReason
}

// classifyError maps provider errors onto the retry taxonomy.
func classifyError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return &vision.TransientError{StatusCode: gerr.Code, Message: gerr.Message, Err: err}
		}
		return fmt.Errorf("failed to generate content from gemini: %w", err)
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.ResourceExhausted:
			return &vision.TransientError{StatusCode: http.StatusTooManyRequests, Message: st.Message(), Err: err}
		case codes.Unavailable, codes.Aborted, codes.Internal:
			return &vision.TransientError{StatusCode: http.StatusServiceUnavailable, Message: st.Message(), Err: err}
		case codes.DeadlineExceeded:
			return &vision.TransientError{StatusCode: http.StatusGatewayTimeout, Message: st.Message(), Err: err}
		}
	}
	return fmt.Errorf("failed to generate content from gemini: %w", err)
}

// imageFormat turns a MIME type into the short format genai.ImageData expects.
func imageFormat(mimeType string) string {
	format := strings.TrimPrefix(strings.ToLower(mimeType), "image/")
	if format == "" || format == "jpg" {
		return "jpeg"
	}
	return format
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
