// Package describe generates natural-language descriptions of converted
// image items with a locally served vision model, plus the text embeddings
// that make them searchable in the run journal. The whole package is
// optional; conversion never depends on it.
package describe

import (
	"context"
	"log/slog"

	"github.com/agent-api/core/pkg/agent"
	"github.com/agent-api/core/types"
	"github.com/agent-api/ollama"
	"github.com/cockroachdb/errors"
)

const describePrompt = "Describe this image in one short paragraph. " +
	"Name the visible objects and what is happening."

// Config selects the local model server and the models to use.
type Config struct {
	BaseURL    string // model server base URL, e.g. http://localhost
	Port       int
	Model      string // vision model for descriptions
	EmbedModel string // embedding model for search vectors
}

// Describer produces one description per image through a vision agent.
type Describer struct {
	agent  *agent.DefaultAgent
	logger *slog.Logger
}

// NewDescriber sets up the model provider and verifies it is reachable.
func NewDescriber(ctx context.Context, logger *slog.Logger, config Config) (*Describer, error) {
	opts := &ollama.ProviderOpts{
		Logger:  logger,
		BaseURL: config.BaseURL,
		Port:    config.Port,
	}
	provider := ollama.NewProvider(opts)

	model := &types.Model{ID: config.Model}
	provider.UseModel(ctx, model)

	agentConf := &agent.NewAgentConfig{
		Provider: provider,
		Logger:   logger,
		SystemPrompt: "You are a visual analysis assistant specialized in " +
			"short, factual image descriptions for dataset catalogs.",
	}
	return &Describer{agent: agent.NewAgent(agentConf), logger: logger}, nil
}

// Describe returns the model's description of the image at path.
func (d *Describer) Describe(ctx context.Context, imagePath string) (string, error) {
	response, err := d.agent.Run(ctx,
		agent.WithInput(describePrompt),
		agent.WithImagePath(imagePath),
	)
	if err != nil {
		return "", errors.Wrapf(err, "description of %q failed", imagePath)
	}
	if len(response.Messages) == 0 {
		return "", errors.New("no response messages received from model")
	}
	return response.Messages[len(response.Messages)-1].Content, nil
}
