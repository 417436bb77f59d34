package clients

import (
	"fmt"
	"os"

	"github.com/tmc/langchaingo/llms/openai"
)

// ModelType is an enum for the available OpenAI models.
type ModelType string

const (
	// AgentModel drives the research pipeline stages.
	AgentModel ModelType = "gpt-4.1-mini-2025-04-14"
	// EnhanceModel rewrites user list descriptions.
	EnhanceModel ModelType = "gpt-4.1-2025-04-14"
)

func OpenAI(model ModelType) (*openai.LLM, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is not set")
	}

	var modelName string
	switch model {
	case AgentModel:
		modelName = string(AgentModel)
	case EnhanceModel:
		modelName = string(EnhanceModel)
	default:
		return nil, fmt.Errorf("invalid model type: %s", model)
	}

	llm, err := openai.New(openai.WithToken(apiKey), openai.WithModel(modelName))
	if err != nil {
		return nil, fmt.Errorf("failed to init OpenAI client: %w", err)
	}

	return llm, nil
}
