package llm

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/schema"

	"rias-agent-golang/constants"
	"rias-agent-golang/internal/domain/llm/eino_llm"
)

// LLMProvider is the language-model interface. Implementations speak
// eino native message types.
type LLMProvider interface {
	// ResponseWithContext streams a response for the given dialogue.
	// ctx cancels the in-flight request, functions are optional tool
	// declarations the model may call.
	ResponseWithContext(ctx context.Context, sessionID string, dialogue []*schema.Message, functions []*schema.ToolInfo) chan *schema.Message

	// GetModelInfo returns model name and other metadata.
	GetModelInfo() map[string]interface{}
}

// GetLLMProvider creates an LLM provider. All supported types are
// served by the eino-backed provider.
func GetLLMProvider(config map[string]interface{}) (LLMProvider, error) {
	llmType, _ := config["type"].(string)
	switch llmType {
	case constants.LlmTypeOpenai, constants.LlmTypeOllama, constants.LlmTypeEino:
		provider, err := eino_llm.NewEinoLLMProvider(config)
		if err != nil {
			return nil, fmt.Errorf("create eino llm provider failed: %w", err)
		}
		return provider, nil
	}
	return nil, fmt.Errorf("unsupported llm provider: %s", llmType)
}
