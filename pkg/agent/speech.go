package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vango-go/letta-voice/pkg/core/llm"
	"github.com/vango-go/letta-voice/pkg/core/voice"
	"github.com/vango-go/letta-voice/pkg/rtc"
)

// SpeechHandle tracks one utterance from synthesis to playback.
type SpeechHandle struct {
	id                 string
	allowInterruptions bool
	tts                *voice.StreamingTTS
	ctx                context.Context
	cancel             context.CancelFunc

	mu          sync.Mutex
	text        strings.Builder
	interrupted bool
	played      time.Duration
	err         error

	done       chan struct{}
	finishOnce sync.Once
}

// SayOption configures one utterance.
type SayOption func(*SpeechHandle)

// WithoutInterruptions keeps participant speech from cutting this utterance
// off. Interrupt on the handle still works.
func WithoutInterruptions() SayOption {
	return func(h *SpeechHandle) {
		h.allowInterruptions = false
	}
}

// ID identifies the utterance within its session.
func (h *SpeechHandle) ID() string {
	return h.id
}

// Text returns the text handed to synthesis so far.
func (h *SpeechHandle) Text() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return strings.TrimSpace(h.text.String())
}

// Interrupted reports whether playback was cut off.
func (h *SpeechHandle) Interrupted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.interrupted
}

// Played returns how much audio reached the agent's track.
func (h *SpeechHandle) Played() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.played
}

// Done is closed when playback finishes or is cut off.
func (h *SpeechHandle) Done() <-chan struct{} {
	return h.done
}

// Err returns why playback failed, if it did.
func (h *SpeechHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Wait blocks until Done or ctx ends.
func (h *SpeechHandle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Interrupt stops synthesis and playback.
func (h *SpeechHandle) Interrupt() {
	select {
	case <-h.done:
		return
	default:
	}
	h.mu.Lock()
	h.interrupted = true
	h.mu.Unlock()
	h.abort()
}

func (h *SpeechHandle) abort() {
	h.cancel()
	_ = h.tts.Close()
}

func (h *SpeechHandle) appendText(text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.text.Len() > 0 && text != "" {
		h.text.WriteByte(' ')
	}
	h.text.WriteString(strings.TrimSpace(text))
}

func (h *SpeechHandle) addPlayed(d time.Duration) {
	h.mu.Lock()
	h.played += d
	h.mu.Unlock()
}

func (h *SpeechHandle) finish(err error) {
	h.finishOnce.Do(func() {
		h.mu.Lock()
		if h.err == nil && !h.interrupted {
			h.err = err
		}
		h.mu.Unlock()
		h.cancel()
		close(h.done)
	})
}

// Say synthesizes text on the agent's track after any speech already
// queued.
func (s *Session) Say(text string, opts ...SayOption) (*SpeechHandle, error) {
	h, err := s.newSpeech(opts...)
	if err != nil {
		return nil, err
	}
	if err := h.tts.Say(text); err != nil {
		h.abort()
		return nil, fmt.Errorf("tts: %w", err)
	}
	if err := s.enqueue(h); err != nil {
		return nil, err
	}
	return h, nil
}

func (s *Session) newSpeech(opts ...SayOption) (*SpeechHandle, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if !s.started {
		s.mu.Unlock()
		return nil, ErrNotStarted
	}
	parent := s.ctx
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(parent)
	ttsCtx, err := s.opts.TTS.NewStreamingContext(ctx, s.opts.TTSOptions)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("tts context: %w", err)
	}

	h := &SpeechHandle{
		id:                 fmt.Sprintf("speech_%d", s.speechSeq.Add(1)),
		allowInterruptions: !s.opts.DisableInterruptions,
		ctx:                ctx,
		cancel:             cancel,
		done:               make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.tts = voice.NewStreamingTTS(ttsCtx, voice.StreamingTTSOptions{OnSentence: h.appendText})
	if rate := h.tts.SampleRate(); rate != s.opts.TTSOptions.SampleRate {
		s.logger.Warn("tts sample rate differs from agent track", "tts_rate", rate, "track_rate", s.opts.TTSOptions.SampleRate)
	}
	return h, nil
}

func (s *Session) enqueue(h *SpeechHandle) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		h.abort()
		h.finish(ErrClosed)
		return ErrClosed
	}
	s.active = append(s.active, h)
	s.mu.Unlock()

	select {
	case s.speech <- h:
		return nil
	case <-s.ctx.Done():
		return ErrClosed
	}
}

func (s *Session) playLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case h := <-s.speech:
			s.play(h)
		}
	}
}

// play writes the utterance's audio to the agent track and records what
// was said.
func (s *Session) play(h *SpeechHandle) {
	s.mu.Lock()
	s.current = h
	s.settleLocked()
	track := s.track
	s.mu.Unlock()

	err := s.playAudio(h, track)
	_ = h.tts.Close()
	if h.ctx.Err() != nil {
		err = s.closedErr()
	}

	s.mu.Lock()
	s.current = nil
	for i, a := range s.active {
		if a == h {
			s.active = append(s.active[:i], s.active[i+1:]...)
			break
		}
	}
	s.settleLocked()
	s.mu.Unlock()

	// Speech cut off before any audio played was never heard.
	if text := h.Text(); text != "" && !(h.Interrupted() && h.Played() == 0) {
		s.history.append(Message{Role: llm.RoleAssistant, Content: text, Interrupted: h.Interrupted()})
	}
	h.finish(err)
}

// playAudio writes 20ms frames paced to real time plus the playback lead.
func (s *Session) playAudio(h *SpeechHandle, track *rtc.Track) error {
	sampleRate := track.SampleRate()
	frameBytes := sampleRate / 50 * 2
	p := &pacer{lead: s.opts.PlaybackLead}

	write := func(frame []byte) error {
		d := pcmDuration(len(frame), sampleRate)
		if err := p.wait(h.ctx, d); err != nil {
			return err
		}
		if err := track.WriteFrame(frame); err != nil {
			return err
		}
		if h.Played() == 0 {
			s.cont.cancel()
		}
		h.addPlayed(d)
		return nil
	}

	var pending []byte
	audio := h.tts.Audio()
	for {
		select {
		case <-h.ctx.Done():
			return h.ctx.Err()
		case chunk, ok := <-audio:
			if !ok {
				if len(pending) > 0 {
					if err := write(pending); err != nil {
						return err
					}
				}
				return h.tts.Err()
			}
			pending = append(pending, chunk...)
			for len(pending) >= frameBytes {
				frame := append([]byte(nil), pending[:frameBytes]...)
				pending = pending[frameBytes:]
				if err := write(frame); err != nil {
					return err
				}
			}
		}
	}
}

// pacer keeps written audio at most lead ahead of the wall clock.
type pacer struct {
	lead  time.Duration
	start time.Time
	sent  time.Duration
}

func (p *pacer) wait(ctx context.Context, d time.Duration) error {
	if p.start.IsZero() {
		p.start = time.Now()
	}
	target := p.start.Add(p.sent - p.lead)
	p.sent += d
	delay := time.Until(target)
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// pcmDuration is the length of n bytes of 16-bit mono PCM.
func pcmDuration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(n/2) * time.Second / time.Duration(sampleRate)
}

func (s *Session) closedErr() error {
	if s.ctx.Err() != nil {
		return ErrClosed
	}
	return nil
}
