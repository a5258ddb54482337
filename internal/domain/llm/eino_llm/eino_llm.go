package eino_llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	log "rias-agent-golang/logger"
)

// EinoLLMProvider drives a chat model through the eino framework,
// backed by either the openai or the ollama implementation.
type EinoLLMProvider struct {
	chatModel    model.ToolCallingChatModel
	modelName    string
	maxTokens    int
	streamable   bool
	providerType string // "openai" or "ollama"
}

const (
	maxIdleConns        = 100
	maxIdleConnsPerHost = 10
	idleConnTimeout     = 90 * time.Second
	requestTimeout      = 30 * time.Second
)

var (
	httpClient     *http.Client
	httpClientOnce sync.Once
)

// getHTTPClient returns the shared pooled HTTP client used for all
// model requests.
func getHTTPClient() *http.Client {
	httpClientOnce.Do(func() {
		transport := &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        maxIdleConns,
			MaxIdleConnsPerHost: maxIdleConnsPerHost,
			IdleConnTimeout:     idleConnTimeout,
			TLSHandshakeTimeout: 10 * time.Second,
			DisableKeepAlives:   false,
		}

		httpClient = &http.Client{
			Transport: transport,
			Timeout:   requestTimeout,
		}
	})

	return httpClient
}

// NewEinoLLMProvider creates a provider from a config map. Keys: type
// ("openai" or "ollama"), model_name, api_key, base_url, max_tokens,
// streamable.
func NewEinoLLMProvider(config map[string]interface{}) (*EinoLLMProvider, error) {
	providerType, _ := config["type"].(string)
	if providerType == "" || providerType == "eino" {
		providerType = "openai"
	}

	modelName, _ := config["model_name"].(string)
	if modelName == "" {
		return nil, fmt.Errorf("model_name is required")
	}

	maxTokens := 500
	if mt, ok := config["max_tokens"].(int); ok {
		maxTokens = mt
	}

	streamable := true
	if s, ok := config["streamable"].(bool); ok {
		streamable = s
	}

	var chatModel model.ToolCallingChatModel
	var err error

	switch providerType {
	case "openai":
		chatModel, err = createOpenAIChatModel(config)
		if err != nil {
			return nil, fmt.Errorf("create openai chat model failed: %w", err)
		}
	case "ollama":
		chatModel, err = createOllamaChatModel(config)
		if err != nil {
			return nil, fmt.Errorf("create ollama chat model failed: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported model type: %s", providerType)
	}

	return &EinoLLMProvider{
		chatModel:    chatModel,
		modelName:    modelName,
		maxTokens:    maxTokens,
		streamable:   streamable,
		providerType: providerType,
	}, nil
}

func createOpenAIChatModel(config map[string]interface{}) (model.ToolCallingChatModel, error) {
	ctx := context.Background()

	modelName, _ := config["model_name"].(string)

	apiKey, _ := config["api_key"].(string)
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	baseURL, _ := config["base_url"].(string)

	openaiConfig := &openai.ChatModelConfig{
		Model:      modelName,
		APIKey:     apiKey,
		HTTPClient: getHTTPClient(),
	}

	if baseURL != "" {
		openaiConfig.BaseURL = baseURL
	}

	chatModel, err := openai.NewChatModel(ctx, openaiConfig)
	if err != nil {
		return nil, fmt.Errorf("create openai chat model failed: %w", err)
	}

	log.Infof("openai chat model ready, model: %s", modelName)
	return chatModel, nil
}

func createOllamaChatModel(config map[string]interface{}) (model.ToolCallingChatModel, error) {
	ctx := context.Background()

	modelName, _ := config["model_name"].(string)
	baseURL, _ := config["base_url"].(string)

	if modelName == "" || baseURL == "" {
		return nil, fmt.Errorf("model_name and base_url are required for ollama")
	}

	ollamaConfig := &ollama.ChatModelConfig{
		BaseURL: baseURL,
		Model:   modelName,
	}

	chatModel, err := ollama.NewChatModel(ctx, ollamaConfig)
	if err != nil {
		return nil, fmt.Errorf("create ollama chat model failed: %w", err)
	}

	log.Infof("ollama chat model ready, model: %s", modelName)
	return chatModel, nil
}

// GetModelInfo returns model metadata.
func (p *EinoLLMProvider) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{
		"model_name":    p.modelName,
		"max_tokens":    p.maxTokens,
		"streamable":    p.streamable,
		"type":          "eino",
		"provider_type": p.providerType,
		"framework":     "eino",
	}
}

// ResponseWithContext streams the model response for a dialogue. Tool
// bindings are applied to a per-call model copy, the provider itself
// stays immutable and safe to share between sessions.
func (p *EinoLLMProvider) ResponseWithContext(ctx context.Context, sessionID string, dialogue []*schema.Message, functions []*schema.ToolInfo) chan *schema.Message {
	responseChan := make(chan *schema.Message, 200)

	go func() {
		defer close(responseChan)

		chatModel := p.chatModel
		if len(functions) > 0 {
			var err error
			chatModel, err = chatModel.WithTools(functions)
			if err != nil {
				log.Errorf("bind tools failed, session %s: %v", sessionID, err)
				return
			}
		}

		if !p.streamable {
			message, err := chatModel.Generate(ctx, dialogue, model.WithMaxTokens(p.maxTokens))
			if err != nil {
				log.Errorf("llm generate failed, session %s: %v", sessionID, err)
				return
			}
			if message != nil {
				responseChan <- message
			}
			return
		}

		streamReader, err := chatModel.Stream(ctx, dialogue, model.WithMaxTokens(p.maxTokens))
		if err != nil {
			log.Errorf("llm stream failed, session %s: %v", sessionID, err)
			return
		}
		defer streamReader.Close()

		// Tool call arguments arrive as chunks, accumulate until the
		// buffer is valid JSON before emitting the call.
		var currentToolCall *schema.ToolCall
		var toolCallBuffer string

		for {
			message, err := streamReader.Recv()
			if err == io.EOF {
				if currentToolCall != nil {
					responseChan <- &schema.Message{
						Role:      schema.Assistant,
						ToolCalls: []schema.ToolCall{*currentToolCall},
					}
				}
				return
			}
			if err != nil {
				log.Errorf("recv stream chunk failed, session %s: %v", sessionID, err)
				return
			}
			if message == nil {
				continue
			}

			if len(message.ToolCalls) > 0 {
				toolCall := message.ToolCalls[0]

				if toolCall.Function.Name != "" {
					currentToolCall = &toolCall
					toolCallBuffer = toolCall.Function.Arguments
				} else if currentToolCall != nil {
					toolCallBuffer += toolCall.Function.Arguments
					currentToolCall.Function.Arguments = toolCallBuffer
				}

				if currentToolCall != nil && isValidJSON(toolCallBuffer) {
					responseChan <- &schema.Message{
						Role:      schema.Assistant,
						ToolCalls: []schema.ToolCall{*currentToolCall},
					}
					currentToolCall = nil
					toolCallBuffer = ""
				}
				continue
			}

			if message.Content != "" {
				message.ToolCalls = nil
				select {
				case responseChan <- message:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return responseChan
}

func isValidJSON(s string) bool {
	if s == "" {
		return false
	}
	var js json.RawMessage
	return json.Unmarshal([]byte(s), &js) == nil
}
