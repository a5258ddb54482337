package tts

import (
	"context"
	"fmt"

	"rias-agent-golang/constants"
	"rias-agent-golang/internal/domain/tts/edge"
	"rias-agent-golang/internal/domain/tts/inference"
)

// TTSProvider synthesizes text into opus frames.
type TTSProvider interface {
	TextToSpeech(ctx context.Context, text string, sampleRate int, channels int, frameDuration int) ([][]byte, error)
	TextToSpeechStream(ctx context.Context, text string, sampleRate int, channels int, frameDuration int) (outputChan chan []byte, err error)
}

// GetTTSProvider creates a synthesis provider by name.
func GetTTSProvider(providerName string, config map[string]interface{}) (TTSProvider, error) {
	switch providerName {
	case constants.TtsTypeInference:
		return inference.NewInferenceTTSProvider(config), nil
	case constants.TtsTypeEdge:
		return edge.NewEdgeTTSProvider(config), nil
	default:
		return nil, fmt.Errorf("unsupported tts provider: %s", providerName)
	}
}
