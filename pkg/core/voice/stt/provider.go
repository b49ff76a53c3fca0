// Package stt provides streaming speech-to-text adapters.
package stt

import (
	"context"
	"errors"
)

// Provider opens live transcription streams.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// NewStream opens a websocket session. Audio is pushed with SendAudio and
	// transcripts arrive on Transcripts until the stream closes.
	NewStream(ctx context.Context, opts StreamOptions) (Stream, error)
}

// Stream is one live transcription session.
type Stream interface {
	SendAudio(pcm []byte) error
	// Finalize asks the provider to flush pending audio into a final transcript.
	Finalize() error
	Transcripts() <-chan TranscriptDelta
	Done() <-chan struct{}
	// Err reports why the stream ended, nil for a clean close.
	Err() error
	Close() error
}

// StreamOptions configures a transcription stream.
type StreamOptions struct {
	Model      string // Provider-specific model
	Language   string // ISO language code (default: "en")
	Encoding   string // Raw audio encoding (default: linear16 / pcm_s16le)
	SampleRate int    // Audio sample rate in Hz (default: 16000)
	Channels   int    // Channel count (default: 1)
}

// TranscriptDelta is a streaming transcript update.
type TranscriptDelta struct {
	Text       string  // Transcript for the current segment
	IsFinal    bool    // The segment text will not change
	EndOfTurn  bool    // The speaker finished an utterance
	Confidence float64 // Provider confidence, 0 when not reported
	Timestamp  float64 // Segment end in seconds from stream start
}

// ErrStreamClosed is returned when writing to a closed stream.
var ErrStreamClosed = errors.New("stt stream closed")

const (
	defaultLanguage   = "en"
	defaultSampleRate = 16000
)

func (o StreamOptions) withDefaults(model, encoding string) StreamOptions {
	if o.Model == "" {
		o.Model = model
	}
	if o.Language == "" {
		o.Language = defaultLanguage
	}
	if o.Encoding == "" {
		o.Encoding = encoding
	}
	if o.SampleRate <= 0 {
		o.SampleRate = defaultSampleRate
	}
	if o.Channels <= 0 {
		o.Channels = 1
	}
	return o
}
