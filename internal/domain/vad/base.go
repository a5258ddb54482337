package vad

import (
	"fmt"

	"rias-agent-golang/constants"
	"rias-agent-golang/internal/domain/vad/inter"
	"rias-agent-golang/internal/domain/vad/silero_vad"
	"rias-agent-golang/internal/domain/vad/webrtc_vad"
)

// Handle is a loaded, process-wide detector resource. Loading is the
// expensive part (model files, native state), acquiring a detector per
// session is cheap. A Handle is safe for concurrent use once loaded.
type Handle interface {
	AcquireVAD() (inter.VAD, error)
	ReleaseVAD(v inter.VAD)
	Close()
}

// Load synchronously loads the configured detector provider. Errors are
// returned to the caller, a worker must not serve audio jobs without a
// loaded handle.
func Load(provider string, config map[string]interface{}) (Handle, error) {
	switch provider {
	case constants.VadTypeSileroVad:
		return silero_vad.Load(config)
	case constants.VadTypeWebRTCVad:
		return webrtc_vad.Load(config)
	default:
		return nil, fmt.Errorf("invalid vad provider: %s", provider)
	}
}
