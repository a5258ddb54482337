package webrtc_vad

import (
	"fmt"
	"sync"
	"time"

	"rias-agent-golang/internal/domain/vad/inter"

	"github.com/hackers365/go-webrtcvad"
)

const (
	// DefaultSampleRate is one of the rates webrtcvad accepts
	// (8000, 16000, 32000, 48000).
	DefaultSampleRate = 16000
	// DefaultMode is the aggressiveness (0 least .. 3 most).
	DefaultMode = 2
	// FrameDuration in ms, webrtcvad accepts 10/20/30.
	FrameDuration = 20
)

// WebRTCVAD adapts the webrtcvad binding to the inter.VAD interface.
type WebRTCVAD struct {
	webrtcVad      *webrtcvad.VAD
	sampleRate     int
	mode           int
	frameSize      int
	frameSizeBytes int
	initialized    bool
	lastUsed       time.Time
	mu             sync.RWMutex
}

// NewWebRTCVADWithConfig creates and initializes a detector.
func NewWebRTCVADWithConfig(sampleRate, mode int) (inter.VAD, error) {
	if !isValidSampleRate(sampleRate) {
		return nil, fmt.Errorf("unsupported sample rate: %d, supported rates: 8000, 16000, 32000, 48000", sampleRate)
	}
	if mode < 0 || mode > 3 {
		return nil, fmt.Errorf("invalid VAD mode: %d, must be 0-3", mode)
	}

	vad := &WebRTCVAD{
		sampleRate: sampleRate,
		mode:       mode,
		lastUsed:   time.Now(),
	}

	if err := vad.init(); err != nil {
		return nil, err
	}

	return vad, nil
}

func (w *WebRTCVAD) init() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.initialized {
		return nil
	}

	w.frameSize = w.sampleRate / 1000 * FrameDuration
	w.frameSizeBytes = w.frameSize * 2 // 16-bit PCM

	var err error
	w.webrtcVad, err = webrtcvad.New()
	if w.webrtcVad == nil {
		return fmt.Errorf("failed to create WebRTC VAD instance")
	}

	err = w.webrtcVad.SetMode(w.mode)
	if err != nil {
		webrtcvad.Free(w.webrtcVad)
		return fmt.Errorf("failed to set WebRTC VAD mode: %+v", err)
	}

	w.initialized = true
	w.lastUsed = time.Now()
	return nil
}

func (w *WebRTCVAD) IsVAD(pcmData []float32) (bool, error) {
	return w.isVad(pcmData, w.sampleRate, w.frameSizeBytes)
}

func (w *WebRTCVAD) IsVADExt(pcmData []float32, sampleRate int, frameSize int) (bool, error) {
	return w.isVad(pcmData, sampleRate, frameSize)
}

// isVad runs frame-wise detection, a window counts as speech when at
// least half of its frames are active.
func (w *WebRTCVAD) isVad(pcmData []float32, sampleRate int, frameSize int) (bool, error) {
	if len(pcmData) == 0 {
		return false, nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.lastUsed = time.Now()

	pcmBytes := float32ToPCMBytes(pcmData)
	if len(pcmBytes) < frameSize {
		return false, nil
	}

	var isActive bool
	var err error

	activityCount := 0
	for i := 0; i+frameSize <= len(pcmBytes); i += frameSize {
		frameData := pcmBytes[i : i+frameSize]

		isActive, err = w.webrtcVad.Process(sampleRate, frameData)
		if err != nil {
			return false, fmt.Errorf("WebRTC VAD process error: %w", err)
		}
		if isActive {
			activityCount++
		}
	}

	frameCount := len(pcmBytes) / frameSize
	isActive = activityCount >= frameCount/2

	return isActive, nil
}

// Reset is a no-op, webrtcvad keeps no cross-frame state we rely on.
func (w *WebRTCVAD) Reset() error {
	return nil
}

// Close frees the native detector.
func (w *WebRTCVAD) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.webrtcVad != nil {
		webrtcvad.Free(w.webrtcVad)
		w.webrtcVad = nil
		w.initialized = false
	}
	return nil
}

func isValidSampleRate(rate int) bool {
	switch rate {
	case 8000, 16000, 32000, 48000:
		return true
	}
	return false
}

// float32ToPCMBytes converts [-1,1] samples to 16-bit little-endian PCM.
func float32ToPCMBytes(pcm []float32) []byte {
	out := make([]byte, len(pcm)*2)
	for i, sample := range pcm {
		if sample > 1 {
			sample = 1
		} else if sample < -1 {
			sample = -1
		}
		v := int16(sample * 32767)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}
