// Package agent runs a voice conversation inside a room. Participant audio
// goes through speech-to-text, each finished turn goes to the LLM, and the
// reply is synthesized and published on the agent's audio track.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vango-go/letta-voice/pkg/core/llm"
	"github.com/vango-go/letta-voice/pkg/core/voice/stt"
	"github.com/vango-go/letta-voice/pkg/core/voice/tts"
	"github.com/vango-go/letta-voice/pkg/rtc"
)

var (
	ErrMissingSTT     = errors.New("agent: stt provider is required")
	ErrMissingTTS     = errors.New("agent: tts provider is required")
	ErrMissingLLM     = errors.New("agent: llm provider is required")
	ErrNotStarted     = errors.New("agent: session not started")
	ErrAlreadyStarted = errors.New("agent: session already started")
	ErrClosed         = errors.New("agent: session closed")
)

// Agent describes the assistant for one session.
type Agent struct {
	// Instructions is sent as the system message of every request. Empty
	// sends none, leaving the persona to the LLM.
	Instructions string
}

// State is what the session is doing.
type State string

const (
	StateIdle      State = "idle"
	StateListening State = "listening"
	StateThinking  State = "thinking"
	StateSpeaking  State = "speaking"
	StateClosed    State = "closed"
)

const (
	defaultTrackName    = "agent-voice"
	defaultPlaybackLead = 300 * time.Millisecond
)

// Options configures a Session. STT, TTS and LLM are required.
type Options struct {
	STT stt.Provider
	TTS tts.Provider
	LLM llm.Provider

	// STTOptions is used for every participant stream. SampleRate is
	// replaced by the rate of the track being transcribed.
	STTOptions stt.StreamOptions
	// TTSOptions is used for every utterance. SampleRate also sets the
	// rate of the agent's audio track.
	TTSOptions tts.StreamingContextOptions

	// TrackName names the agent's audio track.
	TrackName string
	// DisableInterruptions keeps participant speech from cutting off the
	// agent.
	DisableInterruptions bool
	// PlaybackLead is how far ahead of real time audio is written.
	PlaybackLead time.Duration
	// TurnContinuation is how long after a turn is committed the same
	// participant may keep talking and have it folded into that turn, as
	// long as the reply has not been heard yet. Zero disables it.
	TurnContinuation time.Duration

	Logger *slog.Logger
}

// Session is one agent conversation bound to a room.
type Session struct {
	opts    Options
	logger  *slog.Logger
	history *history
	cont    *continuation

	mu          sync.Mutex
	state       State
	started     bool
	closed      bool
	room        *rtc.Room
	track       *rtc.Track
	agent       Agent
	current     *SpeechHandle
	active      []*SpeechHandle
	replyCancel context.CancelFunc
	replySeq    uint64

	ctx       context.Context
	cancel    context.CancelFunc
	speech    chan *SpeechHandle
	turns     chan userTurn
	wg        sync.WaitGroup
	speechSeq atomic.Int64
}

type userTurn struct {
	identity string
	text     string
}

// NewSession validates opts and returns an unstarted session.
func NewSession(opts Options) (*Session, error) {
	if opts.STT == nil {
		return nil, ErrMissingSTT
	}
	if opts.TTS == nil {
		return nil, ErrMissingTTS
	}
	if opts.LLM == nil {
		return nil, ErrMissingLLM
	}
	if opts.TrackName == "" {
		opts.TrackName = defaultTrackName
	}
	if opts.TTSOptions.SampleRate <= 0 {
		opts.TTSOptions.SampleRate = tts.DefaultSampleRate
	}
	if opts.PlaybackLead <= 0 {
		opts.PlaybackLead = defaultPlaybackLead
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Session{
		opts:    opts,
		logger:  logger,
		history: newHistory(),
		cont:    newContinuation(opts.TurnContinuation),
		state:   StateIdle,
	}, nil
}

// Start publishes the agent's audio track in room and begins handling the
// audio tracks the room delivers on TrackSubscriptions. The session ends
// when ctx ends, the room closes, or Close is called.
func (s *Session) Start(ctx context.Context, room *rtc.Room, a Agent) error {
	if room == nil {
		return errors.New("agent: room is required")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	track, err := room.LocalParticipant().PublishTrack(s.opts.TrackName, rtc.KindAudio, s.opts.TTSOptions.SampleRate)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("publish agent track: %w", err)
	}
	s.started = true
	s.room = room
	s.track = track
	s.agent = a
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.speech = make(chan *SpeechHandle, 16)
	s.turns = make(chan userTurn, 4)
	s.state = StateListening
	s.mu.Unlock()

	s.wg.Add(3)
	go s.intake()
	go s.turnLoop()
	go s.playLoop()

	go func() {
		select {
		case <-s.ctx.Done():
		case <-room.Done():
		}
		_ = s.Close()
	}()

	s.logger.Info("agent session started", "track", track.SID(), "sample_rate", track.SampleRate())
	return nil
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Track returns the agent's audio track, nil before Start.
func (s *Session) Track() *rtc.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

// History returns the conversation so far.
func (s *Session) History() []Message {
	return s.history.snapshot()
}

// Interrupt stops the current reply and any speech that allows it.
func (s *Session) Interrupt() {
	s.interrupt(true)
}

// Close stops the session and waits for its goroutines. Speech that has not
// finished ends with ErrClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.state = StateClosed
	started := s.started
	s.mu.Unlock()

	if !started {
		return nil
	}
	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	pending := s.active
	s.active = nil
	s.current = nil
	track := s.track
	s.mu.Unlock()
	for _, h := range pending {
		h.abort()
		h.finish(ErrClosed)
	}
	_ = s.room.LocalParticipant().UnpublishTrack(track.SID())

	s.logger.Info("agent session closed", "messages", s.history.len())
	return nil
}

// interrupt cancels the in-flight reply. With speech set, speech that
// allows interruptions is cut off too; those handles are returned.
func (s *Session) interrupt(speech bool) []*SpeechHandle {
	s.mu.Lock()
	cancel := s.replyCancel
	s.replyCancel = nil
	var stop []*SpeechHandle
	if speech {
		for _, h := range s.active {
			if h.allowInterruptions {
				stop = append(stop, h)
			}
		}
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, h := range stop {
		h.Interrupt()
	}
	return stop
}

func (s *Session) speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// settleLocked picks the state once nothing is being played.
func (s *Session) settleLocked() {
	if s.closed {
		return
	}
	switch {
	case s.current != nil:
		s.state = StateSpeaking
	case s.replyCancel != nil:
		s.state = StateThinking
	default:
		s.state = StateListening
	}
}
