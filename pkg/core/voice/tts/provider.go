// Package tts provides streaming text-to-speech adapters.
package tts

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// Provider opens incremental synthesis contexts.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// NewStreamingContext opens a context that accepts text in chunks and
	// streams raw PCM back as it is generated.
	NewStreamingContext(ctx context.Context, opts StreamingContextOptions) (*StreamingContext, error)
}

// StreamingContextOptions configures a streaming context.
type StreamingContextOptions struct {
	Voice            string  // Voice identifier
	Model            string  // Provider model (default: sonic-3)
	Speed            float64 // Speed multiplier (0.6-1.5)
	Volume           float64 // Volume multiplier (0.5-2.0)
	Emotion          string  // Emotion hint
	Language         string  // Language code
	SampleRate       int     // Output sample rate (default: 24000)
	MaxBufferDelayMs int     // Max time to buffer text before generating (0-5000ms, default 500)
}

// DefaultSampleRate is the PCM rate contexts produce unless told otherwise.
const DefaultSampleRate = 24000

// ErrContextClosed is returned when sending to a closed context.
var ErrContextClosed = errors.New("streaming context closed")

// StreamingContext manages one incremental synthesis. Text goes in through
// SendText, signed 16-bit little-endian mono PCM comes out on Audio.
type StreamingContext struct {
	audio      chan []byte
	err        error
	errMu      sync.Mutex
	done       chan struct{}
	closed     atomic.Bool
	closeOnce  sync.Once
	finishOnce sync.Once
	sampleRate int

	// Set by provider implementations.
	SendFunc  func(text string, isFinal bool) error
	CloseFunc func() error
}

// NewStreamingContext creates a context producing audio at sampleRate.
func NewStreamingContext(sampleRate int) *StreamingContext {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &StreamingContext{
		audio:      make(chan []byte, 100),
		done:       make(chan struct{}),
		sampleRate: sampleRate,
	}
}

// SampleRate is the rate of the PCM on Audio.
func (sc *StreamingContext) SampleRate() int {
	return sc.sampleRate
}

// SendText sends a text chunk. isFinal marks the last chunk.
func (sc *StreamingContext) SendText(text string, isFinal bool) error {
	if sc.closed.Load() {
		return ErrContextClosed
	}
	if sc.SendFunc != nil {
		return sc.SendFunc(text, isFinal)
	}
	return nil
}

// Flush signals that all text has been sent.
func (sc *StreamingContext) Flush() error {
	return sc.SendText("", true)
}

// Audio returns the channel of PCM chunks. It closes when synthesis ends.
func (sc *StreamingContext) Audio() <-chan []byte {
	return sc.audio
}

// Err returns any error that occurred.
func (sc *StreamingContext) Err() error {
	sc.errMu.Lock()
	defer sc.errMu.Unlock()
	return sc.err
}

// Close stops synthesis. Pending audio is dropped.
func (sc *StreamingContext) Close() error {
	var err error
	sc.closeOnce.Do(func() {
		sc.closed.Store(true)
		if sc.CloseFunc != nil {
			err = sc.CloseFunc()
		}
		close(sc.done)
	})
	return err
}

// Done returns a channel that's closed when the context is closed.
func (sc *StreamingContext) Done() <-chan struct{} {
	return sc.done
}

// PushAudio delivers a chunk. Returns false once the context is closed.
func (sc *StreamingContext) PushAudio(chunk []byte) bool {
	select {
	case sc.audio <- chunk:
		return true
	case <-sc.done:
		return false
	}
}

// SetError records the first error.
func (sc *StreamingContext) SetError(err error) {
	sc.errMu.Lock()
	if sc.err == nil {
		sc.err = err
	}
	sc.errMu.Unlock()
}

// FinishAudio closes the audio channel. Safe to call more than once.
func (sc *StreamingContext) FinishAudio() {
	sc.finishOnce.Do(func() { close(sc.audio) })
}
