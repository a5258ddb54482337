package constants

const (
	VadTypeSileroVad = "silero_vad"
	VadTypeWebRTCVad = "webrtc_vad"
)

const (
	AsrTypeInference = "inference"
)

const (
	LlmTypeOpenai = "openai"
	LlmTypeOllama = "ollama"
	LlmTypeEino   = "eino"
)

const (
	TtsTypeInference = "inference"
	TtsTypeEdge      = "edge"
)

// Fixed stage bindings for the rias agent. Configuration constants,
// never derived at runtime.
const (
	AsrModel    = "deepgram/nova-2"
	AsrLanguage = "en-IN"

	LlmModel = "openai/gpt-4.1-nano"

	TtsModel    = "deepgram/aura"
	TtsVoice    = "luna"
	TtsLanguage = "en"
)

// Environment variables resolved once at process start.
const (
	EnvAgentMode  = "AGENT_MODE"
	EnvToolAPIKey = "FIRECRAWL_API_KEY"
)

// DefaultEnvFile is the optional dotenv file loaded before the
// environment is read. Values already set in the process win.
const DefaultEnvFile = ".env.local"

// AgentName is the logical name the worker registers under.
const AgentName = "rias"

// UserDataKeyVad is the job-process userdata key holding the prewarmed
// voice activity detector.
const UserDataKeyVad = "vad"
