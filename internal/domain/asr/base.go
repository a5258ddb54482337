package asr

import (
	"context"
	"fmt"

	"rias-agent-golang/constants"
	"rias-agent-golang/internal/domain/asr/inference"
	"rias-agent-golang/internal/domain/asr/types"
)

// AsrProvider is the speech-to-text interface.
type AsrProvider interface {
	// Process runs one-shot recognition over a complete utterance.
	Process(pcmData []float32) (string, error)

	// StreamingRecognize streams audio in through audioStream and
	// results out through the returned channel. Closing audioStream
	// ends the utterance; the final result is delivered and the
	// channel closed. ctx cancels the recognition.
	StreamingRecognize(ctx context.Context, audioStream <-chan []float32) (chan types.StreamingResult, error)
}

// NewAsrProvider creates a speech-to-text provider.
// asrType: currently only "inference" (hosted streaming endpoint)
// config: provider config map
func NewAsrProvider(asrType string, config map[string]interface{}) (AsrProvider, error) {
	switch asrType {
	case constants.AsrTypeInference:
		return inference.NewInferenceAsr(config)
	default:
		return nil, fmt.Errorf("unsupported asr provider: %s", asrType)
	}
}
