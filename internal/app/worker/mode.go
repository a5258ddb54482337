package worker

import (
	"os"
	"strings"

	"rias-agent-golang/constants"
	log "rias-agent-golang/logger"
)

// Mode selects which pipeline a job gets.
type Mode int

const (
	// ModeText runs the chat model only, no audio stages.
	ModeText Mode = iota
	// ModeAudio runs the full speech pipeline.
	ModeAudio
)

func (m Mode) String() string {
	if m == ModeAudio {
		return "audio"
	}
	return "text"
}

// ParseMode maps a raw mode string to a Mode. Only "audio" (any case)
// selects ModeAudio; everything else, including empty and unrecognized
// values, falls back to ModeText.
func ParseMode(raw string) Mode {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "audio" {
		return ModeAudio
	}
	if normalized != "" && normalized != "text" {
		log.Warnf("unrecognized mode %q, falling back to text mode", raw)
	}
	return ModeText
}

// ModeFromEnv resolves the mode from the process environment. Call
// once in bootstrap after dotenv loading and thread the result
// explicitly.
func ModeFromEnv() Mode {
	return ParseMode(os.Getenv(constants.EnvAgentMode))
}
