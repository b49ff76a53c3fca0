package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	deepgramListenURL = "wss://api.deepgram.com/v1/listen"
	deepgramModel     = "nova-3"
	deepgramEncoding  = "linear16"

	deepgramEndpointingMs  = 300
	deepgramUtteranceEndMs = 1000
	deepgramKeepAlive      = 5 * time.Second
)

// DeepgramProvider streams audio to Deepgram's live transcription API.
type DeepgramProvider struct {
	apiKey string
	url    string
	logger *slog.Logger
}

// DeepgramOption configures the Deepgram provider.
type DeepgramOption func(*DeepgramProvider)

// WithDeepgramURL overrides the listen endpoint.
func WithDeepgramURL(u string) DeepgramOption {
	return func(p *DeepgramProvider) {
		if u != "" {
			p.url = u
		}
	}
}

// WithDeepgramLogger sets the logger used for stream diagnostics.
func WithDeepgramLogger(l *slog.Logger) DeepgramOption {
	return func(p *DeepgramProvider) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewDeepgram creates a Deepgram STT provider.
func NewDeepgram(apiKey string, opts ...DeepgramOption) *DeepgramProvider {
	p := &DeepgramProvider{apiKey: apiKey, url: deepgramListenURL, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider identifier.
func (d *DeepgramProvider) Name() string {
	return "deepgram"
}

// NewStream opens a live session with interim results and endpointing on.
// speech_final results and UtteranceEnd events both mark end of turn.
func (d *DeepgramProvider) NewStream(ctx context.Context, opts StreamOptions) (Stream, error) {
	opts = opts.withDefaults(deepgramModel, deepgramEncoding)
	if opts.Encoding == cartesiaEncoding {
		opts.Encoding = deepgramEncoding
	}

	rawURL, err := d.listenURL(opts)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+d.apiKey)

	conn, err := dialStream(ctx, rawURL, headers)
	if err != nil {
		return nil, fmt.Errorf("deepgram stt: %w", err)
	}

	return newWSStream(ctx, conn, wsStreamConfig{
		decode:            decodeDeepgram,
		finalizeMsg:       []byte(`{"type":"Finalize"}`),
		closeMsg:          []byte(`{"type":"CloseStream"}`),
		keepAliveMsg:      []byte(`{"type":"KeepAlive"}`),
		keepAliveInterval: deepgramKeepAlive,
		logger:            d.logger.With("stt", "deepgram"),
	}), nil
}

func (d *DeepgramProvider) listenURL(opts StreamOptions) (string, error) {
	u, err := url.Parse(d.url)
	if err != nil {
		return "", fmt.Errorf("parse websocket URL: %w", err)
	}
	q := u.Query()
	q.Set("model", opts.Model)
	q.Set("language", opts.Language)
	q.Set("encoding", opts.Encoding)
	q.Set("sample_rate", strconv.Itoa(opts.SampleRate))
	q.Set("channels", strconv.Itoa(opts.Channels))
	q.Set("interim_results", "true")
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("vad_events", "true")
	q.Set("endpointing", strconv.Itoa(deepgramEndpointingMs))
	q.Set("utterance_end_ms", strconv.Itoa(deepgramUtteranceEndMs))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type deepgramMessage struct {
	Type        string          `json:"type"` // Results, UtteranceEnd, SpeechStarted, Metadata, Error
	Start       float64         `json:"start"`
	Duration    float64         `json:"duration"`
	IsFinal     bool            `json:"is_final"`
	SpeechFinal bool            `json:"speech_final"`
	LastWordEnd float64         `json:"last_word_end"`
	Channel     json.RawMessage `json:"channel"`

	Description string `json:"description"`
	Message     string `json:"message"`
}

type deepgramChannel struct {
	Alternatives []struct {
		Transcript string  `json:"transcript"`
		Confidence float64 `json:"confidence"`
	} `json:"alternatives"`
}

func decodeDeepgram(data []byte) ([]TranscriptDelta, error) {
	var msg deepgramMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, nil
	}

	switch msg.Type {
	case "Results":
		// UtteranceEnd carries the channel as an index list, Results as an object.
		var ch deepgramChannel
		if err := json.Unmarshal(msg.Channel, &ch); err != nil || len(ch.Alternatives) == 0 {
			return nil, nil
		}
		alt := ch.Alternatives[0]
		text := strings.TrimSpace(alt.Transcript)
		if text == "" && !msg.SpeechFinal {
			return nil, nil
		}
		return []TranscriptDelta{{
			Text:       text,
			IsFinal:    msg.IsFinal,
			EndOfTurn:  msg.SpeechFinal,
			Confidence: alt.Confidence,
			Timestamp:  msg.Start + msg.Duration,
		}}, nil

	case "UtteranceEnd":
		return []TranscriptDelta{{IsFinal: true, EndOfTurn: true, Timestamp: msg.LastWordEnd}}, nil

	case "Error":
		detail := msg.Description
		if detail == "" {
			detail = msg.Message
		}
		return nil, fmt.Errorf("deepgram stt error: %s", detail)

	default:
		return nil, nil
	}
}
