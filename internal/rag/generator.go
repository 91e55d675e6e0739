package rag

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// GenkitGenerator is the production Generator, calling the configured chat
// model through Genkit.
type GenkitGenerator struct {
	g           *genkit.Genkit
	modelName   string
	temperature float64
	maxTokens   int
}

// NewGenkitGenerator creates a Generator bound to one model.
func NewGenkitGenerator(g *genkit.Genkit, modelName string, temperature float64, maxTokens int) *GenkitGenerator {
	return &GenkitGenerator{g: g, modelName: modelName, temperature: temperature, maxTokens: maxTokens}
}

func (gg *GenkitGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	genConfig := map[string]any{"temperature": gg.temperature}
	if gg.maxTokens > 0 {
		genConfig["maxOutputTokens"] = gg.maxTokens
	}
	resp, err := genkit.Generate(ctx, gg.g,
		ai.WithModelName(gg.modelName),
		ai.WithPrompt(prompt),
		ai.WithConfig(genConfig),
	)
	if err != nil {
		return "", fmt.Errorf("model generation failed: %w", err)
	}
	return resp.Text(), nil
}
