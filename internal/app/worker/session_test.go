package worker

import (
	"context"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rias-agent-golang/constants"
	"rias-agent-golang/internal/domain/agent"
	"rias-agent-golang/internal/domain/noise"
	"rias-agent-golang/internal/domain/tts/edge"
)

func testPipelineConfig() PipelineConfig {
	cfg := DefaultPipelineConfig()
	cfg.Llm["api_key"] = "test-key"
	return cfg
}

func testPersona() *agent.Persona {
	// Empty tool source URL makes the connect fail fast; the session
	// must keep working without tools.
	return &agent.Persona{Instructions: "You are a test assistant."}
}

func TestAssemblePipelineText(t *testing.T) {
	pipeline, err := AssemblePipeline(ModeText, NewJobProcess(), testPipelineConfig())
	require.NoError(t, err)

	assert.Equal(t, ModeText, pipeline.Mode)
	assert.False(t, pipeline.AudioEnabled)
	assert.False(t, pipeline.PreemptiveGeneration)
	assert.NotNil(t, pipeline.Llm)
	assert.Nil(t, pipeline.Asr)
	assert.Nil(t, pipeline.Tts)
	assert.Nil(t, pipeline.Vad)
	assert.Nil(t, pipeline.TurnDetector)
}

func TestAssemblePipelineAudio(t *testing.T) {
	proc := NewJobProcess()
	proc.Set(constants.UserDataKeyVad, &fakeVADHandle{})

	pipeline, err := AssemblePipeline(ModeAudio, proc, testPipelineConfig())
	require.NoError(t, err)

	assert.Equal(t, ModeAudio, pipeline.Mode)
	assert.True(t, pipeline.AudioEnabled)
	assert.True(t, pipeline.PreemptiveGeneration)
	assert.NotNil(t, pipeline.Llm)
	assert.NotNil(t, pipeline.Asr)
	assert.NotNil(t, pipeline.Tts)
	assert.NotNil(t, pipeline.Vad)
	assert.NotNil(t, pipeline.TurnDetector)
}

func TestAssemblePipelineAudioWithoutPrewarmedVad(t *testing.T) {
	pipeline, err := AssemblePipeline(ModeAudio, NewJobProcess(), testPipelineConfig())
	require.Error(t, err)
	assert.Nil(t, pipeline)
	assert.Contains(t, err.Error(), constants.UserDataKeyVad)
}

func TestAssemblePipelineAudioRejectsWrongUserdataType(t *testing.T) {
	proc := NewJobProcess()
	proc.Set(constants.UserDataKeyVad, "not a handle")

	_, err := AssemblePipeline(ModeAudio, proc, testPipelineConfig())
	require.Error(t, err)
}

func startTestSession(t *testing.T, mode Mode) (*AgentSession, *fakeRoom, *fakeLLM) {
	t.Helper()
	room := newFakeRoom("room-" + mode.String())
	session := NewAgentSession("job-"+mode.String(), mode, testPersona(), PipelineConfig{})
	pipeline := fakePipeline(mode)
	session.assembleFunc = func(Mode, *JobProcess, PipelineConfig) (*Pipeline, error) {
		return pipeline, nil
	}

	job := &JobContext{ID: session.ID, Ctx: context.Background(), Room: room, Proc: NewJobProcess()}
	require.NoError(t, session.Start(context.Background(), job))
	t.Cleanup(session.Close)
	return session, room, pipeline.Llm.(*fakeLLM)
}

func TestAudioSessionGreetsExactlyOnce(t *testing.T) {
	session, room, llm := startTestSession(t, ModeAudio)

	assert.Equal(t, StateActive, session.State())
	require.Eventually(t, func() bool {
		return room.publishedFrames() > 0
	}, time.Second, 10*time.Millisecond, "greeting audio should be published")

	// Give any spurious second greeting time to show up.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, llm.callCount())
	assert.True(t, room.hasAudioHandler())
	assert.False(t, room.hasTextHandler())
}

func TestTextSessionDoesNotGreet(t *testing.T) {
	session, room, llm := startTestSession(t, ModeText)

	assert.Equal(t, StateActive, session.State())
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, llm.callCount())
	assert.Zero(t, room.sentCount())
	assert.True(t, room.hasTextHandler())
	assert.False(t, room.hasAudioHandler())
}

func TestTextSessionRepliesToMessages(t *testing.T) {
	_, room, llm := startTestSession(t, ModeText)

	room.textHandler(ParticipantDescriptor{Identity: "u1"}, "hello")

	require.Eventually(t, func() bool {
		return room.sentCount() > 0
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, llm.callCount())
	assert.Equal(t, []string{"Hello there."}, room.sentTexts)
}

func TestSessionsAreIsolated(t *testing.T) {
	_, roomA, llmA := startTestSession(t, ModeText)
	sessionB, _, llmB := startTestSession(t, ModeText)

	roomA.textHandler(ParticipantDescriptor{Identity: "u1"}, "only for A")

	require.Eventually(t, func() bool {
		return llmA.callCount() == 1
	}, time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, llmB.callCount())

	historyB, err := sessionB.mem.GetMessages(context.Background(), sessionB.ID)
	require.NoError(t, err)
	assert.Empty(t, historyB)
}

func TestAudioUtteranceProducesReply(t *testing.T) {
	session, room, llm := startTestSession(t, ModeAudio)

	require.Eventually(t, func() bool {
		return room.publishedFrames() > 0
	}, time.Second, 10*time.Millisecond, "wait for greeting first")
	greetingFrames := room.publishedFrames()

	vad := session.pipeline.Vad.(*fakeVAD)
	handler := room.audioHandler
	participant := ParticipantDescriptor{Identity: "caller"}

	vad.speech = true
	handler(participant, make([]float32, 320))
	vad.speech = false
	handler(participant, make([]float32, 320))

	require.Eventually(t, func() bool {
		return room.publishedFrames() > greetingFrames
	}, time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, llm.callCount(), 2)
}

func TestCloseReleasesVadToHandle(t *testing.T) {
	handle := &fakeVADHandle{}
	vadInstance, err := handle.AcquireVAD()
	require.NoError(t, err)

	room := newFakeRoom("room-close")
	session := NewAgentSession("job-close", ModeAudio, testPersona(), PipelineConfig{})
	session.assembleFunc = func(Mode, *JobProcess, PipelineConfig) (*Pipeline, error) {
		p := fakePipeline(ModeAudio)
		p.vadHandle = handle
		p.Vad = vadInstance
		return p, nil
	}

	job := &JobContext{ID: session.ID, Ctx: context.Background(), Room: room, Proc: NewJobProcess()}
	require.NoError(t, session.Start(context.Background(), job))

	session.Close()
	assert.Equal(t, StateEnded, session.State())
	assert.Equal(t, 1, handle.releasedCount())

	select {
	case <-room.Done():
	default:
		t.Fatal("room should be closed with the session")
	}
}

func TestRoomDropEndsSession(t *testing.T) {
	session, room, _ := startTestSession(t, ModeText)

	room.Close()
	require.Eventually(t, func() bool {
		return session.State() == StateEnded
	}, time.Second, 10*time.Millisecond)
}

func TestReplyInvokesRequestedTool(t *testing.T) {
	lookup := &fakeTool{name: "lookup", result: "sunny"}
	llm := &fakeLLM{turns: [][]*schema.Message{
		{{Role: schema.Assistant, ToolCalls: []schema.ToolCall{{
			ID:       "call-1",
			Function: schema.FunctionCall{Name: "lookup", Arguments: `{"query":"weather"}`},
		}}}},
		{{Role: schema.Assistant, Content: "It is sunny."}},
	}}

	room := newFakeRoom("room-tools")
	session := NewAgentSession("job-tools", ModeText, testPersona(), PipelineConfig{})
	session.assembleFunc = func(Mode, *JobProcess, PipelineConfig) (*Pipeline, error) {
		return &Pipeline{Mode: ModeText, Llm: llm}, nil
	}
	session.tools = map[string]tool.InvokableTool{"lookup": lookup}

	job := &JobContext{ID: session.ID, Ctx: context.Background(), Room: room, Proc: NewJobProcess()}
	require.NoError(t, session.Start(context.Background(), job))
	t.Cleanup(session.Close)

	room.textHandler(ParticipantDescriptor{Identity: "u1"}, "what is the weather?")

	require.Eventually(t, func() bool {
		return room.sentCount() > 0
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, llm.callCount(), "tool result should trigger a follow-up model request")
	assert.Equal(t, 1, lookup.invocations())
	assert.Equal(t, []string{"It is sunny."}, room.sentTexts)
}

func TestSlowTurnDetectorStillPersistsCommittedTurn(t *testing.T) {
	pipeline := fakePipeline(ModeAudio)
	pipeline.TurnDetector = &fakeTurnDetector{endOfTurn: true, delay: 150 * time.Millisecond}

	room := newFakeRoom("room-slow-detector")
	session := NewAgentSession("job-slow-detector", ModeAudio, testPersona(), PipelineConfig{})
	session.assembleFunc = func(Mode, *JobProcess, PipelineConfig) (*Pipeline, error) {
		return pipeline, nil
	}

	job := &JobContext{ID: session.ID, Ctx: context.Background(), Room: room, Proc: NewJobProcess()}
	require.NoError(t, session.Start(context.Background(), job))
	t.Cleanup(session.Close)

	require.Eventually(t, func() bool {
		return room.publishedFrames() > 0
	}, time.Second, 10*time.Millisecond, "wait for greeting first")

	vad := pipeline.Vad.(*fakeVAD)
	handler := room.audioHandler
	participant := ParticipantDescriptor{Identity: "caller"}

	vad.speech = true
	handler(participant, make([]float32, 320))
	vad.speech = false
	handler(participant, make([]float32, 320))

	// The model finishes long before the detector does; the committed
	// turn must still land in memory.
	require.Eventually(t, func() bool {
		history, err := session.mem.GetMessages(context.Background(), session.ID)
		if err != nil {
			return false
		}
		for i, msg := range history {
			if msg.Role == schema.User && msg.Content == "hi." {
				return i+1 < len(history) && history[i+1].Role == schema.Assistant
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond)
}

func TestSpeculativeReplyWithheldUntilEndOfTurn(t *testing.T) {
	pipeline := fakePipeline(ModeAudio)
	detector := pipeline.TurnDetector.(*fakeTurnDetector)
	detector.setEndOfTurn(false)

	room := newFakeRoom("room-withheld")
	session := NewAgentSession("job-withheld", ModeAudio, testPersona(), PipelineConfig{})
	session.assembleFunc = func(Mode, *JobProcess, PipelineConfig) (*Pipeline, error) {
		return pipeline, nil
	}

	job := &JobContext{ID: session.ID, Ctx: context.Background(), Room: room, Proc: NewJobProcess()}
	require.NoError(t, session.Start(context.Background(), job))
	t.Cleanup(session.Close)

	require.Eventually(t, func() bool {
		return room.publishedFrames() > 0
	}, time.Second, 10*time.Millisecond, "wait for greeting first")
	greetingFrames := room.publishedFrames()

	vad := pipeline.Vad.(*fakeVAD)
	handler := room.audioHandler
	participant := ParticipantDescriptor{Identity: "caller"}

	vad.speech = true
	handler(participant, make([]float32, 320))
	vad.speech = false
	handler(participant, make([]float32, 320))

	// Mid-turn: the speculative reply must stay silent.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, greetingFrames, room.publishedFrames())

	detector.setEndOfTurn(true)
	vad.speech = true
	handler(participant, make([]float32, 320))
	vad.speech = false
	handler(participant, make([]float32, 320))

	require.Eventually(t, func() bool {
		return room.publishedFrames() > greetingFrames
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "hi. hi.", llmOf(pipeline).lastUserText(),
		"held-over text should merge into the next utterance")
}

func llmOf(p *Pipeline) *fakeLLM { return p.Llm.(*fakeLLM) }

func TestCloseDuringAudioFramesDoesNotPanic(t *testing.T) {
	session, room, _ := startTestSession(t, ModeAudio)

	handler := room.audioHandler
	participant := ParticipantDescriptor{Identity: "caller"}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			handler(participant, make([]float32, 320))
		}
	}()
	session.Close()
	<-done

	assert.Equal(t, StateEnded, session.State())
}

func TestSessionCopiesPersona(t *testing.T) {
	persona := &agent.Persona{Instructions: "original"}
	session := NewAgentSession("job-persona", ModeText, persona, PipelineConfig{})

	persona.Instructions = "mutated"
	persona.ToolSource.URL = "http://example.invalid/mcp"

	assert.Equal(t, "original", session.persona.Instructions)
	assert.Empty(t, session.persona.ToolSource.URL)
}

func TestAssemblePipelineSelectsConfiguredTtsProvider(t *testing.T) {
	proc := NewJobProcess()
	proc.Set(constants.UserDataKeyVad, &fakeVADHandle{})

	cfg := testPipelineConfig()
	cfg.Tts["provider"] = constants.TtsTypeEdge
	pipeline, err := AssemblePipeline(ModeAudio, proc, cfg)
	require.NoError(t, err)
	assert.IsType(t, &edge.EdgeTTSProvider{}, pipeline.Tts)

	cfg.Tts["provider"] = "bogus"
	_, err = AssemblePipeline(ModeAudio, proc, cfg)
	require.Error(t, err)
}

func TestStartPrebuildsSuppressorsForPresentParticipants(t *testing.T) {
	pipeline := fakePipeline(ModeAudio)
	room := newFakeRoom("room-sip")
	room.participants = []ParticipantDescriptor{
		{Identity: "pstn-1", Kind: noise.ParticipantKindSIP},
	}
	session := NewAgentSession("job-sip", ModeAudio, testPersona(), PipelineConfig{})
	session.assembleFunc = func(Mode, *JobProcess, PipelineConfig) (*Pipeline, error) {
		return pipeline, nil
	}

	job := &JobContext{ID: session.ID, Ctx: context.Background(), Room: room, Proc: NewJobProcess()}
	require.NoError(t, session.Start(context.Background(), job))
	t.Cleanup(session.Close)

	session.suppressorMu.Lock()
	sup, ok := session.suppressors["pstn-1"]
	session.suppressorMu.Unlock()
	require.True(t, ok, "suppressor should exist before the first frame")
	assert.Equal(t, noise.StrategyTelephony, sup.Strategy())
}
