package voice

import (
	"errors"
	"sync"

	"github.com/vango-go/letta-voice/pkg/core/voice/tts"
)

// ErrNotInitialized is returned by a StreamingTTS without a TTS context.
var ErrNotInitialized = errors.New("streaming tts is not initialized")

// StreamingTTSOptions configures a StreamingTTS.
type StreamingTTSOptions struct {
	// OnSentence, if set, is called with each chunk handed to the TTS
	// context. Sessions use it to build the spoken transcript.
	OnSentence func(text string)
}

// StreamingTTS feeds agent text deltas through a SentenceBuffer into one TTS
// context and forwards the synthesized PCM.
type StreamingTTS struct {
	ttsCtx *tts.StreamingContext
	buf    *SentenceBuffer
	opts   StreamingTTSOptions

	audioCh chan []byte
	doneCh  chan struct{}

	mu      sync.Mutex
	flushed bool
	err     error
}

// NewStreamingTTS starts forwarding audio from ttsCtx.
func NewStreamingTTS(ttsCtx *tts.StreamingContext, opts StreamingTTSOptions) *StreamingTTS {
	s := &StreamingTTS{
		ttsCtx:  ttsCtx,
		buf:     NewSentenceBuffer(),
		opts:    opts,
		audioCh: make(chan []byte, 100),
		doneCh:  make(chan struct{}),
	}
	go s.forwardAudio()
	return s
}

func (s *StreamingTTS) forwardAudio() {
	defer close(s.audioCh)
	defer close(s.doneCh)

	if s.ttsCtx == nil {
		s.setErr(ErrNotInitialized)
		return
	}

	audio := s.ttsCtx.Audio()
	done := s.ttsCtx.Done()
	for {
		select {
		case chunk, ok := <-audio:
			if !ok {
				s.setErr(s.ttsCtx.Err())
				return
			}
			if len(chunk) > 0 {
				s.audioCh <- chunk
			}
		case <-done:
			// Closed by the caller, usually an interruption. Buffered
			// audio is discarded.
			return
		}
	}
}

// OnTextDelta buffers text and sends each completed sentence.
func (s *StreamingTTS) OnTextDelta(text string) error {
	if s == nil || s.ttsCtx == nil {
		return ErrNotInitialized
	}
	if err := s.Err(); err != nil {
		return err
	}
	for _, sentence := range s.buf.Add(text) {
		if err := s.send(sentence, false); err != nil {
			_ = s.ttsCtx.Close()
			return err
		}
	}
	return nil
}

// Say sends a complete utterance and ends the context.
func (s *StreamingTTS) Say(text string) error {
	if err := s.OnTextDelta(text); err != nil {
		return err
	}
	return s.Flush()
}

// Flush sends the buffered remainder as the final chunk. Only the first
// call has an effect.
func (s *StreamingTTS) Flush() error {
	if s == nil || s.ttsCtx == nil {
		return ErrNotInitialized
	}
	if err := s.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.flushed {
		s.mu.Unlock()
		return nil
	}
	s.flushed = true
	s.mu.Unlock()

	if remaining := s.buf.Flush(); remaining != "" {
		return s.send(remaining, true)
	}
	if err := s.ttsCtx.Flush(); err != nil {
		s.setErr(err)
		return err
	}
	return nil
}

func (s *StreamingTTS) send(text string, isFinal bool) error {
	if err := s.ttsCtx.SendText(text, isFinal); err != nil {
		s.setErr(err)
		return err
	}
	if s.opts.OnSentence != nil {
		s.opts.OnSentence(text)
	}
	return nil
}

// Close stops synthesis and waits for forwarding to stop. Audio not yet
// read from Audio is dropped.
func (s *StreamingTTS) Close() error {
	if s == nil || s.ttsCtx == nil {
		return nil
	}
	_ = s.ttsCtx.Close()
	// Drain so forwardAudio is never stuck on a full channel.
	for range s.audioCh {
	}
	<-s.doneCh
	return s.Err()
}

// Audio returns synthesized PCM chunks. It closes when synthesis ends.
func (s *StreamingTTS) Audio() <-chan []byte {
	if s == nil {
		ch := make(chan []byte)
		close(ch)
		return ch
	}
	return s.audioCh
}

// Done is closed once no more audio will be forwarded.
func (s *StreamingTTS) Done() <-chan struct{} {
	return s.doneCh
}

// SampleRate is the PCM rate of Audio.
func (s *StreamingTTS) SampleRate() int {
	if s == nil || s.ttsCtx == nil {
		return tts.DefaultSampleRate
	}
	return s.ttsCtx.SampleRate()
}

// Err returns the first error seen.
func (s *StreamingTTS) Err() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *StreamingTTS) setErr(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}
