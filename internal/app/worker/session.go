package worker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"rias-agent-golang/constants"
	"rias-agent-golang/internal/data/audio"
	"rias-agent-golang/internal/db/redis"
	"rias-agent-golang/internal/domain/agent"
	"rias-agent-golang/internal/domain/asr"
	"rias-agent-golang/internal/domain/llm"
	"rias-agent-golang/internal/domain/llm/memory"
	"rias-agent-golang/internal/domain/mcp"
	"rias-agent-golang/internal/domain/noise"
	"rias-agent-golang/internal/domain/tts"
	"rias-agent-golang/internal/domain/turndetect"
	"rias-agent-golang/internal/domain/vad"
	"rias-agent-golang/internal/domain/vad/inter"
	"rias-agent-golang/internal/util"
	log "rias-agent-golang/logger"
)

// PipelineConfig carries the provider configs for one pipeline. Model
// bindings default to the fixed identifiers in constants.
type PipelineConfig struct {
	Asr        map[string]interface{}
	Llm        map[string]interface{}
	Tts        map[string]interface{}
	TurnDetect map[string]interface{}
}

// DefaultPipelineConfig returns the fixed provider bindings.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Asr: map[string]interface{}{
			"model":    constants.AsrModel,
			"language": constants.AsrLanguage,
		},
		Llm: map[string]interface{}{
			"type":       constants.LlmTypeOpenai,
			"model_name": constants.LlmModel,
		},
		Tts: map[string]interface{}{
			"provider": constants.TtsTypeInference,
			"model":    constants.TtsModel,
			"voice":    constants.TtsVoice,
			"language": constants.TtsLanguage,
		},
		TurnDetect: map[string]interface{}{},
	}
}

// Pipeline holds the stages a session runs. TEXT pipelines carry only
// the chat model.
type Pipeline struct {
	Mode                 Mode
	AudioEnabled         bool
	PreemptiveGeneration bool

	Llm          llm.LLMProvider
	Asr          asr.AsrProvider
	Tts          tts.TTSProvider
	TurnDetector turndetect.Detector

	vadHandle vad.Handle
	vadMu     sync.Mutex
	Vad       inter.VAD
}

// Release returns pooled resources. Safe to call once per pipeline.
func (p *Pipeline) Release() {
	p.vadMu.Lock()
	defer p.vadMu.Unlock()
	if p.Vad != nil && p.vadHandle != nil {
		p.vadHandle.ReleaseVAD(p.Vad)
		p.Vad = nil
	}
}

// vadStage loads the VAD under the release lock; nil once released.
func (p *Pipeline) vadStage() inter.VAD {
	p.vadMu.Lock()
	defer p.vadMu.Unlock()
	return p.Vad
}

// AssemblePipeline builds the stage set for the given mode. AUDIO
// requires a prewarmed VAD handle in proc userdata; its absence is a
// startup-ordering bug and is reported as an error, never papered
// over.
func AssemblePipeline(mode Mode, proc *JobProcess, cfg PipelineConfig) (*Pipeline, error) {
	llmProvider, err := llm.GetLLMProvider(cfg.Llm)
	if err != nil {
		return nil, fmt.Errorf("assemble llm stage failed: %w", err)
	}

	if mode != ModeAudio {
		return &Pipeline{
			Mode: ModeText,
			Llm:  llmProvider,
		}, nil
	}

	raw, ok := proc.Get(constants.UserDataKeyVad)
	if !ok {
		return nil, fmt.Errorf("audio pipeline requires prewarmed vad, userdata key %q missing", constants.UserDataKeyVad)
	}
	vadHandle, ok := raw.(vad.Handle)
	if !ok {
		return nil, fmt.Errorf("userdata key %q holds %T, not a vad handle", constants.UserDataKeyVad, raw)
	}

	vadInstance, err := vadHandle.AcquireVAD()
	if err != nil {
		return nil, fmt.Errorf("acquire vad failed: %w", err)
	}

	asrProvider, err := asr.NewAsrProvider(constants.AsrTypeInference, cfg.Asr)
	if err != nil {
		vadHandle.ReleaseVAD(vadInstance)
		return nil, fmt.Errorf("assemble asr stage failed: %w", err)
	}

	ttsType, _ := cfg.Tts["provider"].(string)
	if ttsType == "" {
		ttsType = constants.TtsTypeInference
	}
	ttsProvider, err := tts.GetTTSProvider(ttsType, cfg.Tts)
	if err != nil {
		vadHandle.ReleaseVAD(vadInstance)
		return nil, fmt.Errorf("assemble tts stage failed: %w", err)
	}

	return &Pipeline{
		Mode:                 ModeAudio,
		AudioEnabled:         true,
		PreemptiveGeneration: true,
		Llm:                  llmProvider,
		Asr:                  asrProvider,
		Tts:                  ttsProvider,
		TurnDetector:         turndetect.NewMultilingualDetector(cfg.TurnDetect),
		vadHandle:            vadHandle,
		Vad:                  vadInstance,
	}, nil
}

// State tracks where a session is in its lifecycle.
type State int32

const (
	StateUnstarted State = iota
	StateAssembling
	StateJoined
	StateGreeting
	StateActive
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateAssembling:
		return "assembling"
	case StateJoined:
		return "joined"
	case StateGreeting:
		return "greeting"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	}
	return "unknown"
}

// replyVerdict is the fate of an in-flight assistant turn.
type replyVerdict int32

const (
	verdictPending replyVerdict = iota
	verdictCommitted
	verdictDiscarded
)

// reply is one in-flight assistant turn. Speculative turns start with
// a pending verdict; nothing is delivered to the room or persisted to
// memory until the verdict resolves to committed.
type reply struct {
	ctx    context.Context
	cancel context.CancelFunc

	verdict     atomic.Int32
	resolved    chan struct{}
	resolveOnce sync.Once
}

func (r *reply) resolve(v replyVerdict) {
	r.resolveOnce.Do(func() {
		r.verdict.Store(int32(v))
		close(r.resolved)
	})
}

func (r *reply) commit() { r.resolve(verdictCommitted) }

func (r *reply) discard() {
	r.resolve(verdictDiscarded)
	r.cancel()
}

func (r *reply) isCommitted() bool {
	return replyVerdict(r.verdict.Load()) == verdictCommitted
}

// AgentSession drives one job: assemble the pipeline, join the room,
// optionally greet, then serve turns until the room drops.
type AgentSession struct {
	ID      string
	mode    Mode
	persona *agent.Persona
	config  PipelineConfig

	pipeline   *Pipeline
	toolSource *mcp.ToolSource
	toolInfos  []*schema.ToolInfo
	tools      map[string]tool.InvokableTool
	mem        *memory.Memory
	room       Room

	state atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc

	replyMu      sync.Mutex
	currentReply *reply

	pendingMu   sync.Mutex
	pendingText string

	suppressorMu sync.Mutex
	suppressors  map[string]noise.Suppressor

	speechBuf  []float32
	speaking   bool
	utterances *util.Queue[[]float32]

	closeOnce sync.Once

	assembleFunc func(Mode, *JobProcess, PipelineConfig) (*Pipeline, error)
}

// NewAgentSession creates a session for one job. Each job gets its own
// session, tool source, dialogue memory, and persona instance; the
// persona value is copied so sessions never share mutable state.
func NewAgentSession(id string, mode Mode, persona *agent.Persona, config PipelineConfig) *AgentSession {
	personaCopy := *persona
	return &AgentSession{
		ID:           id,
		mode:         mode,
		persona:      &personaCopy,
		config:       config,
		mem:          memory.NewMemory(redis.GetClient(), "rias_agent"),
		suppressors:  make(map[string]noise.Suppressor),
		assembleFunc: AssemblePipeline,
	}
}

func (s *AgentSession) setState(next State) {
	s.state.Store(int32(next))
	log.Debugf("session %s state -> %s", s.ID, next)
}

// State reports the current lifecycle state.
func (s *AgentSession) State() State {
	return State(s.state.Load())
}

// Start runs the ordered join sequence. It returns once the session is
// active; the session keeps running until the room drops or Close is
// called.
func (s *AgentSession) Start(ctx context.Context, job *JobContext) error {
	if s.State() != StateUnstarted {
		return fmt.Errorf("session %s already started", s.ID)
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.room = job.Room

	s.setState(StateAssembling)
	pipeline, err := s.assembleFunc(s.mode, job.Proc, s.config)
	if err != nil {
		s.setState(StateEnded)
		return fmt.Errorf("session %s assembly failed: %w", s.ID, err)
	}
	s.pipeline = pipeline

	// Tool source failures do not kill the session, the agent just
	// runs without tools.
	toolSource, err := mcp.Connect(s.ctx, s.persona.ToolSource)
	if err != nil {
		log.Warnf("session %s tool source unavailable: %v", s.ID, err)
	} else {
		s.toolSource = toolSource
		s.tools = toolSource.Tools()
		if infos, err := toolSource.ToolInfos(s.ctx); err == nil {
			s.toolInfos = infos
		} else {
			log.Warnf("session %s tool listing failed: %v", s.ID, err)
		}
	}

	if s.mode == ModeAudio {
		// Participants already in the room get their suppressor ahead
		// of the first frame.
		for _, p := range s.room.RemoteParticipants() {
			s.suppressorFor(p)
		}
		s.utterances = util.NewQueue[[]float32](16)
		go s.consumeUtterances()
		s.room.OnAudioFrame(s.handleAudioFrame)
	} else {
		s.room.OnTextMessage(s.handleTextMessage)
	}
	s.setState(StateJoined)
	log.Infof("session %s joined room %s in %s mode", s.ID, s.room.Name(), s.mode)

	if s.mode == ModeAudio {
		s.setState(StateGreeting)
		s.startGreeting()
	}
	s.setState(StateActive)

	go s.watchRoom()
	return nil
}

func (s *AgentSession) watchRoom() {
	select {
	case <-s.room.Done():
		log.Infof("session %s room dropped", s.ID)
	case <-s.ctx.Done():
	}
	s.Close()
}

// Close ends the session and releases every held resource. Idempotent.
func (s *AgentSession) Close() {
	s.closeOnce.Do(func() {
		// Ended goes first so frame handlers stop touching pipeline
		// stages while they are being released.
		s.setState(StateEnded)
		if s.cancel != nil {
			s.cancel()
		}
		s.interruptReply()
		if s.utterances != nil {
			s.utterances.Close()
		}
		if s.pipeline != nil {
			s.pipeline.Release()
		}
		if s.toolSource != nil {
			s.toolSource.Close()
		}
		if s.room != nil {
			s.room.Close()
		}
	})
}

// suppressorFor returns the per-participant noise suppressor, creating
// it on first frame based on the participant's kind.
func (s *AgentSession) suppressorFor(p ParticipantDescriptor) noise.Suppressor {
	s.suppressorMu.Lock()
	defer s.suppressorMu.Unlock()
	if sup, ok := s.suppressors[p.Identity]; ok {
		return sup
	}
	sup := noise.ForParticipant(p.Kind)
	s.suppressors[p.Identity] = sup
	return sup
}

func (s *AgentSession) handleAudioFrame(p ParticipantDescriptor, frame []float32) {
	if s.State() == StateEnded {
		return
	}
	vadStage := s.pipeline.vadStage()
	if vadStage == nil {
		return
	}
	frame = s.suppressorFor(p).ProcessFrame(frame)

	isSpeech, err := vadStage.IsVAD(frame)
	if err != nil {
		log.Errorf("session %s vad error: %v", s.ID, err)
		return
	}

	if isSpeech {
		if !s.speaking {
			s.speaking = true
			// Barge-in: the user talking cancels whatever the agent
			// is saying.
			s.interruptReply()
		}
		s.speechBuf = append(s.speechBuf, frame...)
		return
	}

	if s.speaking {
		s.speaking = false
		utterance := s.speechBuf
		s.speechBuf = nil
		if len(utterance) > 0 {
			if err := s.utterances.Push(utterance); err != nil {
				log.Warnf("session %s utterance dropped: %v", s.ID, err)
			}
		}
	}
}

// consumeUtterances serializes recognition so turns are handled in the
// order they were spoken.
func (s *AgentSession) consumeUtterances() {
	for {
		utterance, err := s.utterances.Pop(s.ctx, 0)
		if err != nil {
			return
		}
		s.onUtterance(utterance)
	}
}

func (s *AgentSession) onUtterance(pcm []float32) {
	text, err := s.pipeline.Asr.Process(pcm)
	if err != nil {
		log.Errorf("session %s asr failed: %v", s.ID, err)
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	s.pendingMu.Lock()
	s.pendingText = strings.TrimSpace(s.pendingText + " " + text)
	pending := s.pendingText
	s.pendingMu.Unlock()

	// Preemptive generation: start the reply while the turn detector
	// is still deciding. Output and memory writes stay withheld until
	// the verdict lands; not-end-of-turn discards the reply and merges
	// the text into the next utterance.
	var speculative *reply
	if s.pipeline.PreemptiveGeneration {
		speculative = s.startReply(pending, false)
	}

	dialogue, _ := s.mem.GetMessages(s.ctx, s.ID)
	dialogue = append(dialogue, &schema.Message{Role: schema.User, Content: pending})
	endOfTurn, err := s.pipeline.TurnDetector.PredictEndOfTurn(s.ctx, dialogue)
	if err != nil {
		log.Warnf("session %s turn detection failed, assuming end of turn: %v", s.ID, err)
		endOfTurn = true
	}

	if !endOfTurn {
		if speculative != nil {
			speculative.discard()
		}
		return
	}

	s.pendingMu.Lock()
	s.pendingText = ""
	s.pendingMu.Unlock()

	if speculative != nil {
		speculative.commit()
		return
	}
	s.startReply(pending, true)
}

func (s *AgentSession) handleTextMessage(p ParticipantDescriptor, text string) {
	if s.State() == StateEnded {
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	s.startReply(text, true)
}

// startGreeting generates the one-time opening turn. Interruptible
// like any other reply; never persisted as a user message.
func (s *AgentSession) startGreeting() {
	r := s.newReply(true)
	go s.runReply(r, agent.GreetingInstructions, false)
}

func (s *AgentSession) newReply(committed bool) *reply {
	s.replyMu.Lock()
	defer s.replyMu.Unlock()
	if s.currentReply != nil {
		s.currentReply.cancel()
	}
	r := &reply{resolved: make(chan struct{})}
	r.ctx, r.cancel = context.WithCancel(s.ctx)
	if committed {
		r.commit()
	}
	s.currentReply = r
	return r
}

func (s *AgentSession) interruptReply() {
	s.replyMu.Lock()
	defer s.replyMu.Unlock()
	if s.currentReply != nil {
		s.currentReply.cancel()
		s.currentReply = nil
	}
}

func (s *AgentSession) startReply(userText string, committed bool) *reply {
	r := s.newReply(committed)
	go s.runReply(r, userText, true)
	return r
}

// maxToolRounds bounds model→tool→model follow-ups per turn.
const maxToolRounds = 3

func (s *AgentSession) runReply(r *reply, userText string, persistUser bool) {
	replyCtx := r.ctx
	defer r.cancel()

	dialogue := []*schema.Message{
		{Role: schema.System, Content: s.persona.Instructions},
	}
	history, err := s.mem.GetMessages(replyCtx, s.ID)
	if err != nil {
		log.Warnf("session %s history load failed: %v", s.ID, err)
	}
	dialogue = append(dialogue, history...)
	dialogue = append(dialogue, &schema.Message{Role: schema.User, Content: userText})

	// Output is withheld while the reply is speculative; once the
	// verdict commits, everything buffered goes out in order.
	var withheld []string
	emit := func(text string) {
		if !r.isCommitted() {
			withheld = append(withheld, text)
			return
		}
		for _, buffered := range withheld {
			s.deliver(replyCtx, buffered)
		}
		withheld = nil
		s.deliver(replyCtx, text)
	}

	var full strings.Builder
	functions := s.toolInfos
	for round := 0; ; round++ {
		respChan := s.pipeline.Llm.ResponseWithContext(replyCtx, s.ID, dialogue, functions)

		var toolCalls []schema.ToolCall
		var sentence strings.Builder
		for msg := range respChan {
			if msg == nil {
				continue
			}
			if len(msg.ToolCalls) > 0 {
				toolCalls = append(toolCalls, msg.ToolCalls...)
				continue
			}
			if msg.Content == "" {
				continue
			}
			full.WriteString(msg.Content)
			sentence.WriteString(msg.Content)
			if endsSentence(sentence.String()) {
				emit(sentence.String())
				sentence.Reset()
			}
		}
		if sentence.Len() > 0 {
			emit(sentence.String())
		}

		if len(toolCalls) == 0 || replyCtx.Err() != nil || round >= maxToolRounds {
			break
		}
		toolMessages := s.invokeTools(replyCtx, toolCalls)
		if len(toolMessages) == 0 {
			break
		}
		dialogue = append(dialogue, toolMessages...)
		// Follow-up request goes without tool bindings so the model
		// answers from the results instead of calling again.
		functions = nil
	}

	// The commit verdict decides whether withheld output is spoken and
	// whether the turn reaches dialogue memory at all.
	select {
	case <-r.resolved:
	case <-replyCtx.Done():
		return
	}
	if !r.isCommitted() || replyCtx.Err() != nil {
		return
	}
	for _, buffered := range withheld {
		s.deliver(replyCtx, buffered)
	}
	withheld = nil

	if persistUser {
		if err := s.mem.AddMessage(context.Background(), s.ID, &schema.Message{Role: schema.User, Content: userText}); err != nil {
			log.Warnf("session %s persist user message failed: %v", s.ID, err)
		}
	}
	if full.Len() > 0 {
		if err := s.mem.AddMessage(context.Background(), s.ID, &schema.Message{Role: schema.Assistant, Content: full.String()}); err != nil {
			log.Warnf("session %s persist assistant message failed: %v", s.ID, err)
		}
	}
}

// invokeTools runs each requested tool against the session's tool
// source and returns the assistant/tool message pairs to feed back to
// the model.
func (s *AgentSession) invokeTools(ctx context.Context, toolCalls []schema.ToolCall) []*schema.Message {
	messages := make([]*schema.Message, 0, len(toolCalls)*2)
	for _, call := range toolCalls {
		name := call.Function.Name
		invokable, ok := s.tools[name]
		if !ok || invokable == nil {
			log.Errorf("session %s tool %s not available", s.ID, name)
			continue
		}
		log.Infof("session %s invoking tool %s", s.ID, name)
		result, err := invokable.InvokableRun(ctx, call.Function.Arguments)
		if err != nil {
			log.Errorf("session %s tool %s failed: %v", s.ID, name, err)
			continue
		}
		messages = append(messages,
			&schema.Message{
				Role:      schema.Assistant,
				ToolCalls: []schema.ToolCall{call},
			},
			&schema.Message{
				Role:       schema.Tool,
				ToolCallID: call.ID,
				Content:    result,
			})
	}
	return messages
}

// deliver speaks in audio mode and sends text otherwise.
func (s *AgentSession) deliver(ctx context.Context, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if !s.pipeline.AudioEnabled {
		if err := s.room.SendText(ctx, text); err != nil {
			log.Errorf("session %s send text failed: %v", s.ID, err)
		}
		return
	}

	frameChan, err := s.pipeline.Tts.TextToSpeechStream(ctx, text,
		audio.OutputSampleRate, audio.Channels, audio.FrameDuration)
	if err != nil {
		log.Errorf("session %s tts failed: %v", s.ID, err)
		return
	}
	for frame := range frameChan {
		if ctx.Err() != nil {
			return
		}
		if err := s.room.PublishAudio(ctx, frame); err != nil {
			log.Errorf("session %s publish audio failed: %v", s.ID, err)
			return
		}
	}
}

func endsSentence(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	switch trimmed[len(trimmed)-1] {
	case '.', '!', '?', ';':
		return true
	}
	return strings.HasSuffix(trimmed, "。") || strings.HasSuffix(trimmed, "！") ||
		strings.HasSuffix(trimmed, "？")
}
