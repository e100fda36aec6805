package classifier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// DefaultGeminiModel is the vision model used for zone detection.
const DefaultGeminiModel = "gemini-2.0-flash"

// DetectionPrompt asks for sensitive regions as JSON.
const DetectionPrompt = `You are an expert image analyzer for insurance documents. Analyze this image and identify ALL regions that contain sensitive personal information that needs to be masked.

Return coordinates as PERCENTAGES (0-100) of the image dimensions, not pixel values.

Identify and return coordinates for:
1. name - Personal names (고객명, 피보험자, 계약자)
2. logo - Insurance company logos
3. premium - Premium amounts, coverage amounts (보험료, 보장금액)
4. phone - Phone numbers
5. id_number - ID numbers, registration numbers (주민번호, 증권번호)
6. address - Addresses
7. other - Any other personally identifiable information

Return ONLY a JSON object in this format:
{
  "success": true,
  "zones": [
    {"type": "name", "x_percent": 10.5, "y_percent": 20.3, "width_percent": 15.2, "height_percent": 3.5, "confidence": 0.95, "description": "Customer name field"}
  ],
  "insurance_info": {"company": "...", "product_name": "...", "coverage_type": "Life/Non-Life/Health"}
}

If nothing sensitive is present return {"success": true, "zones": [], "insurance_info": null}.`

// Gemini is a Model backed by the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini model client.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	return &Gemini{client: client, model: model}, nil
}

// Name returns the model id.
func (g *Gemini) Name() string {
	return g.model
}

// Generate sends the image and DetectionPrompt and returns the response text.
func (g *Gemini) Generate(ctx context.Context, data []byte, mimeType string) (string, error) {
	content := &genai.Content{
		Role: "user",
		Parts: []*genai.Part{
			genai.NewPartFromBytes(data, mimeType),
			genai.NewPartFromText(DetectionPrompt),
		},
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, []*genai.Content{content}, &genai.GenerateContentConfig{
		Temperature:      float32Ptr(0.1),
		TopP:             float32Ptr(0.8),
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}

	var sb strings.Builder
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			sb.WriteString(p.Text)
		}
		break
	}
	if sb.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return sb.String(), nil
}

func float32Ptr(f float32) *float32 {
	return &f
}
