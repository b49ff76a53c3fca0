package voiceagent

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-go/letta-voice/pkg/config"
	"github.com/vango-go/letta-voice/pkg/core/llm"
	"github.com/vango-go/letta-voice/pkg/core/voice/stt"
	"github.com/vango-go/letta-voice/pkg/core/voice/tts"
	"github.com/vango-go/letta-voice/pkg/rtc"
	"github.com/vango-go/letta-voice/pkg/worker"
)

// calls records the order things happen in across the fakes.
type calls struct {
	mu  sync.Mutex
	log []string
}

func (c *calls) add(s string) {
	c.mu.Lock()
	c.log = append(c.log, s)
	c.mu.Unlock()
}

func (c *calls) list() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.log...)
}

type fakeJob struct {
	room  *rtc.Room
	calls *calls
	err   error

	mode rtc.AutoSubscribe
}

func (j *fakeJob) Room() *rtc.Room { return j.room }

func (j *fakeJob) Connect(ctx context.Context, mode rtc.AutoSubscribe) error {
	j.calls.add("connect")
	if j.err != nil {
		return j.err
	}
	j.mode = mode
	return j.room.Connect(mode)
}

type fakeSTT struct {
	calls *calls
}

func (f *fakeSTT) Name() string { return "fake-stt" }

func (f *fakeSTT) NewStream(ctx context.Context, opts stt.StreamOptions) (stt.Stream, error) {
	f.calls.add("stt-stream")
	return nil, errors.New("no streams in this test")
}

type fakeTTS struct {
	calls *calls
}

func (f *fakeTTS) Name() string { return "fake-tts" }

func (f *fakeTTS) NewStreamingContext(ctx context.Context, opts tts.StreamingContextOptions) (*tts.StreamingContext, error) {
	sc := tts.NewStreamingContext(opts.SampleRate)
	sc.SendFunc = func(text string, isFinal bool) error {
		if text != "" {
			f.calls.add("say:" + text)
			sc.PushAudio(make([]byte, 960))
		}
		if isFinal {
			sc.FinishAudio()
		}
		return nil
	}
	return sc, nil
}

type fakeLLM struct{}

func (fakeLLM) Name() string { return "fake-llm" }

func (fakeLLM) Chat(ctx context.Context, req llm.ChatRequest) (llm.Stream, error) {
	return nil, errors.New("not used")
}

func newTestEntrypoint(c *calls) *Entrypoint {
	return &Entrypoint{
		AgentID: "agent-123",
		Factories: Factories{
			LLM: func(agentID string) (llm.Provider, error) {
				c.add("llm:" + agentID)
				return fakeLLM{}, nil
			},
			STT: func() (stt.Provider, error) {
				c.add("stt")
				return &fakeSTT{calls: c}, nil
			},
			TTS: func() (tts.Provider, error) {
				c.add("tts")
				return &fakeTTS{calls: c}, nil
			},
		},
	}
}

func newTestJob(t *testing.T, c *calls) *fakeJob {
	t.Helper()
	room := rtc.NewRoom("demo")
	t.Cleanup(room.Close)
	return &fakeJob{room: room, calls: c}
}

func TestRun_GreetsBeforeConnectingAudioOnly(t *testing.T) {
	c := &calls{}
	job := newTestJob(t, c)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	require.NoError(t, newTestEntrypoint(c).Run(ctx, job))

	assert.Equal(t, []string{
		"llm:agent-123",
		"stt",
		"tts",
		"say:" + config.DefaultGreeting,
		"connect",
	}, c.list())
	assert.Equal(t, rtc.AudioOnly, job.mode)
	assert.True(t, job.room.Connected())

	tracks := job.room.LocalParticipant().Tracks()
	require.Len(t, tracks, 1)
	assert.Equal(t, rtc.KindAudio, tracks[0].Kind())
	assert.Equal(t, tts.DefaultSampleRate, tracks[0].SampleRate())
}

func TestRun_CustomGreeting(t *testing.T) {
	c := &calls{}
	job := newTestJob(t, c)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	ep := newTestEntrypoint(c)
	ep.Greeting = "Welcome back."
	require.NoError(t, ep.Run(ctx, job))
	assert.Contains(t, c.list(), "say:Welcome back.")
}

func TestRun_MissingAgentID(t *testing.T) {
	c := &calls{}
	job := newTestJob(t, c)
	ep := newTestEntrypoint(c)
	ep.AgentID = "  "

	err := ep.Run(context.Background(), job)
	require.ErrorIs(t, err, ErrMissingAgentID)
	assert.Empty(t, c.list())
	assert.Empty(t, job.room.LocalParticipant().Tracks())
}

func TestRun_FactoryErrorStopsBeforeStart(t *testing.T) {
	c := &calls{}
	job := newTestJob(t, c)
	ep := newTestEntrypoint(c)
	ep.Factories.TTS = func() (tts.Provider, error) {
		return nil, errors.New("no credentials")
	}

	err := ep.Run(context.Background(), job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "build tts")
	assert.NotContains(t, c.list(), "connect")
	assert.Empty(t, job.room.LocalParticipant().Tracks())
}

func TestRun_NilAdapterIsRejected(t *testing.T) {
	c := &calls{}
	job := newTestJob(t, c)
	ep := newTestEntrypoint(c)
	ep.Factories.STT = nil

	err := ep.Run(context.Background(), job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stt provider is required")
	assert.NotContains(t, c.list(), "connect")
}

func TestRun_ConnectFailureClosesSession(t *testing.T) {
	c := &calls{}
	job := newTestJob(t, c)
	job.err = errors.New("room gone")
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	err := newTestEntrypoint(c).Run(ctx, job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "room gone")
	assert.Empty(t, job.room.LocalParticipant().Tracks())
}

func TestRun_AudioOnlySkipsVideo(t *testing.T) {
	c := &calls{}
	job := newTestJob(t, c)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	alice, err := job.room.Join("alice")
	require.NoError(t, err)
	_, err = alice.PublishTrack("camera", rtc.KindVideo, 0)
	require.NoError(t, err)
	_, err = alice.PublishTrack("mic", rtc.KindAudio, 16000)
	require.NoError(t, err)

	require.NoError(t, newTestEntrypoint(c).Run(ctx, job))

	require.Eventually(t, func() bool {
		for _, s := range c.list() {
			if s == "stt-stream" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	n := 0
	for _, s := range c.list() {
		if s == "stt-stream" {
			n++
		}
	}
	assert.Equal(t, 1, n)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Split(b.buf.String(), "\n")
}

func TestHandler_LogsThroughJobLogger(t *testing.T) {
	c := &calls{}
	room := rtc.NewRoom("demo")
	t.Cleanup(room.Close)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	out := &lockedBuffer{}
	jobLogger := slog.New(slog.NewTextHandler(out, nil)).With("job_id", "job-1", "room", "demo")
	jc := worker.NewJobContext(worker.Job{ID: "job-1", RoomName: "demo"}, room, jobLogger)

	ep := newTestEntrypoint(c)
	ep.Logger = slog.New(slog.DiscardHandler)
	require.NoError(t, ep.Handler()(ctx, jc))

	var running string
	for _, line := range out.lines() {
		if strings.Contains(line, "voice session running") {
			running = line
		}
	}
	require.NotEmpty(t, running)
	assert.Contains(t, running, "job_id=job-1")
	assert.Contains(t, running, "agent_id=agent-123")
	assert.Equal(t, 1, strings.Count(running, "room=demo"))
}

func TestFromConfig_SelectsProviders(t *testing.T) {
	cfg := config.Config{
		Letta: config.Letta{APIKey: "k", BaseURL: "http://127.0.0.1:1", RequestTimeout: time.Second},
		Voice: config.Voice{
			STTProvider:      config.STTProviderCartesia,
			Language:         "en",
			Greeting:         "Hello there.",
			CartesiaAPIKey:   "c",
			CartesiaVoiceID:  "voice-1",
			CartesiaTTSModel: "sonic-3",
			CartesiaSTTModel: "ink-whisper",
			DeepgramModel:    "nova-3",
			TurnContinuation: time.Second,
		},
	}

	ep := FromConfig(cfg, "agent-9", nil)
	assert.Equal(t, "agent-9", ep.AgentID)
	assert.Equal(t, "Hello there.", ep.Greeting)
	assert.Equal(t, "ink-whisper", ep.Session.STTOptions.Model)
	assert.Equal(t, "voice-1", ep.Session.TTSOptions.Voice)
	assert.Equal(t, time.Second, ep.Session.TurnContinuation)

	llmProvider, err := ep.Factories.LLM("agent-9")
	require.NoError(t, err)
	assert.Equal(t, "letta", llmProvider.Name())

	sttProvider, err := ep.Factories.STT()
	require.NoError(t, err)
	assert.Equal(t, "cartesia", sttProvider.Name())

	ttsProvider, err := ep.Factories.TTS()
	require.NoError(t, err)
	assert.Equal(t, "cartesia", ttsProvider.Name())

	cfg.Voice.STTProvider = config.STTProviderDeepgram
	ep = FromConfig(cfg, "agent-9", nil)
	assert.Equal(t, "nova-3", ep.Session.STTOptions.Model)
	sttProvider, err = ep.Factories.STT()
	require.NoError(t, err)
	assert.Equal(t, "deepgram", sttProvider.Name())

	cfg.Voice.STTProvider = "whisper"
	_, err = FromConfig(cfg, "agent-9", nil).Factories.STT()
	require.Error(t, err)
}
