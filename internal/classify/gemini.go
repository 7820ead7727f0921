package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/thyrook/fenvision/internal/board"
	"github.com/thyrook/fenvision/internal/vision"
)

const (
	DefaultGeminiRegion = "europe-west1"
	DefaultGeminiModel  = "gemini-2.5-flash"
)

const classifyPrompt = `This image is one square of a chessboard seen from above.

Answer with JSON only:
{"symbol": "<piece>", "confidence": <0 to 1>}

Use the FEN letter for the piece: K Q R B N P for white pieces, k q r b n p for black pieces.
Use "" when the square is empty.`

// GeminiConfig selects the Gemini backend. With APIKey set the public
// Gemini API is used, otherwise Vertex AI with Application Default
// Credentials for Project.
type GeminiConfig struct {
	Project string `json:"project" yaml:"project"`
	Region  string `json:"region" yaml:"region"`
	Model   string `json:"model" yaml:"model"`
	APIKey  string `json:"-" yaml:"-"`
}

// Gemini classifies squares with a multimodal Gemini model.
type Gemini struct {
	client    *genai.Client
	modelName string
	logger    *zap.Logger
}

// NewGemini creates a Gemini classifier.
func NewGemini(ctx context.Context, cfg GeminiConfig, logger *zap.Logger) (*Gemini, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Region == "" {
		cfg.Region = DefaultGeminiRegion
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}

	cc := &genai.ClientConfig{
		Project:  cfg.Project,
		Location: cfg.Region,
		Backend:  genai.BackendVertexAI,
	}
	if cfg.APIKey != "" {
		cc = &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI}
	} else if cfg.Project == "" {
		return nil, fmt.Errorf("gemini: project or API key required")
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &Gemini{client: client, modelName: cfg.Model, logger: logger}, nil
}

// Classify implements Classifier.
func (g *Gemini) Classify(ctx context.Context, patch image.Image) (Prediction, error) {
	data, err := vision.EncodePNG(patch)
	if err != nil {
		return Prediction{}, err
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.modelName,
		[]*genai.Content{{
			Role: "user",
			Parts: []*genai.Part{
				{Text: classifyPrompt},
				{InlineData: &genai.Blob{MIMEType: "image/png", Data: data}},
			},
		}},
		&genai.GenerateContentConfig{
			Temperature:      genai.Ptr(float32(0)),
			ResponseMIMEType: "application/json",
		},
	)
	if err != nil {
		return Prediction{}, fmt.Errorf("gemini generate: %w", err)
	}

	text := resp.Text()
	p, err := parseGeminiReply(text)
	if err != nil {
		g.logger.Warn("Unusable Gemini reply", zap.String("reply", text), zap.Error(err))
		return Prediction{}, err
	}
	return p, nil
}

type geminiReply struct {
	Symbol     string   `json:"symbol"`
	Confidence *float64 `json:"confidence"`
}

func parseGeminiReply(text string) (Prediction, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Prediction{}, fmt.Errorf("empty gemini response")
	}
	// Models sometimes wrap JSON in a markdown fence despite the MIME type.
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}

	var reply geminiReply
	if err := json.Unmarshal([]byte(text), &reply); err != nil {
		return Prediction{}, fmt.Errorf("parse gemini JSON: %w", err)
	}

	conf := 1.0
	if reply.Confidence != nil {
		conf = *reply.Confidence
	}
	if conf < 0 || conf > 1 {
		return Prediction{}, fmt.Errorf("gemini confidence out of range: %v", conf)
	}

	sym := strings.TrimSpace(reply.Symbol)
	switch strings.ToLower(sym) {
	case "", "-", ".", "empty", "none":
		return Prediction{Symbol: board.Empty, Confidence: conf}, nil
	}
	if len(sym) != 1 {
		return Prediction{}, fmt.Errorf("gemini returned unknown symbol %q", reply.Symbol)
	}
	s, ok := board.SymbolFromFEN(sym[0])
	if !ok {
		return Prediction{}, fmt.Errorf("gemini returned unknown symbol %q", reply.Symbol)
	}
	return Prediction{Symbol: s, Confidence: conf}, nil
}
