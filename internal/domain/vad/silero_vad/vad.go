package silero_vad

import (
	"errors"
	"sync"

	log "rias-agent-golang/logger"

	"github.com/streamer45/silero-vad-go/speech"
)

// SileroVAD wraps one silero speech detector. Detector calls are not
// reentrant, the mutex serializes them.
type SileroVAD struct {
	detector         *speech.Detector
	vadThreshold     float32
	silenceThreshold int64 // ms
	sampleRate       int
	channels         int
	mu               sync.Mutex
}

// NewSileroVAD creates a detector from a generic provider config map.
func NewSileroVAD(config map[string]interface{}) (*SileroVAD, error) {
	threshold, ok := config["threshold"].(float64)
	if !ok {
		threshold = 0.5
	}

	silenceMs, ok := config["min_silence_duration_ms"].(int64)
	if !ok {
		silenceMs = 800
	}

	sampleRate, ok := config["sample_rate"].(int)
	if !ok {
		sampleRate = 16000
	}

	channels, ok := config["channels"].(int)
	if !ok {
		channels = 1
	}

	speechPadMs, ok := config["speech_pad_ms"].(int)
	if !ok {
		speechPadMs = 30
	}

	modelPath, ok := config["model_path"].(string)
	if !ok {
		return nil, errors.New("missing model_path in vad config")
	}

	detector, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:            modelPath,
		SampleRate:           sampleRate,
		Threshold:            float32(threshold),
		MinSilenceDurationMs: int(silenceMs),
		SpeechPadMs:          speechPadMs,
		LogLevel:             speech.LogLevelWarn,
	})
	if err != nil {
		return nil, err
	}

	return &SileroVAD{
		detector:         detector,
		vadThreshold:     float32(threshold),
		silenceThreshold: silenceMs,
		sampleRate:       sampleRate,
		channels:         channels,
	}, nil
}

func (s *SileroVAD) IsVADExt(pcmData []float32, sampleRate int, frameSize int) (bool, error) {
	return s.IsVAD(pcmData)
}

// IsVAD implements the inter.VAD interface.
func (s *SileroVAD) IsVAD(pcmData []float32) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	segments, err := s.detector.Detect(pcmData)
	if err != nil {
		log.Errorf("silero detect failed: %s", err)
		return false, err
	}

	for _, seg := range segments {
		log.Debugf("speech starts at %0.2fs", seg.SpeechStartAt)
		if seg.SpeechEndAt > 0 {
			log.Debugf("speech ends at %0.2fs", seg.SpeechEndAt)
		}
	}

	return len(segments) > 0, nil
}

// Reset clears the detector state.
func (s *SileroVAD) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.detector.Reset()
}

// Close destroys the underlying detector.
func (s *SileroVAD) Close() error {
	if s.detector != nil {
		return s.detector.Destroy()
	}
	return nil
}
