package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
)

const (
	cartesiaSTTURL     = "wss://api.cartesia.ai/stt/websocket"
	cartesiaVersion    = "2025-04-16"
	cartesiaModel      = "ink-whisper"
	cartesiaEncoding   = "pcm_s16le"
	cartesiaMinVolume  = "0.01"
	cartesiaMaxSilence = "0.6"
)

// CartesiaProvider streams audio to Cartesia's ink-whisper websocket.
type CartesiaProvider struct {
	apiKey string
	url    string
	logger *slog.Logger
}

// CartesiaOption configures the Cartesia provider.
type CartesiaOption func(*CartesiaProvider)

// WithCartesiaURL overrides the websocket endpoint.
func WithCartesiaURL(u string) CartesiaOption {
	return func(p *CartesiaProvider) {
		if u != "" {
			p.url = u
		}
	}
}

// WithCartesiaLogger sets the logger used for stream diagnostics.
func WithCartesiaLogger(l *slog.Logger) CartesiaOption {
	return func(p *CartesiaProvider) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewCartesia creates a Cartesia STT provider.
func NewCartesia(apiKey string, opts ...CartesiaOption) *CartesiaProvider {
	p := &CartesiaProvider{apiKey: apiKey, url: cartesiaSTTURL, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider identifier.
func (c *CartesiaProvider) Name() string {
	return "cartesia"
}

// NewStream opens an ink-whisper session. Cartesia ends an utterance after
// max_silence_duration_secs of silence and reports it as a final transcript,
// so final segments double as end of turn.
func (c *CartesiaProvider) NewStream(ctx context.Context, opts StreamOptions) (Stream, error) {
	opts = opts.withDefaults(cartesiaModel, cartesiaEncoding)

	u, err := url.Parse(c.url)
	if err != nil {
		return nil, fmt.Errorf("parse websocket URL: %w", err)
	}
	q := u.Query()
	q.Set("model", opts.Model)
	q.Set("language", opts.Language)
	q.Set("encoding", opts.Encoding)
	q.Set("sample_rate", strconv.Itoa(opts.SampleRate))
	q.Set("min_volume", cartesiaMinVolume)
	q.Set("max_silence_duration_secs", cartesiaMaxSilence)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("X-API-Key", c.apiKey)
	headers.Set("Cartesia-Version", cartesiaVersion)

	conn, err := dialStream(ctx, u.String(), headers)
	if err != nil {
		return nil, fmt.Errorf("cartesia stt: %w", err)
	}

	return newWSStream(ctx, conn, wsStreamConfig{
		decode:      decodeCartesia,
		finalizeMsg: []byte("finalize"),
		closeMsg:    []byte("done"),
		logger:      c.logger.With("stt", "cartesia"),
	}), nil
}

type cartesiaSTTResponse struct {
	Type      string  `json:"type"` // "transcript", "flush_done", "done", "error"
	Text      string  `json:"text"`
	IsFinal   bool    `json:"is_final"`
	Duration  float64 `json:"duration"`
	Language  string  `json:"language"`
	RequestID string  `json:"request_id"`
	Error     string  `json:"error"`
}

func decodeCartesia(data []byte) ([]TranscriptDelta, error) {
	var msg cartesiaSTTResponse
	if err := json.Unmarshal(data, &msg); err != nil {
		// Unknown frames are ignored rather than ending the session.
		return nil, nil
	}

	switch msg.Type {
	case "transcript":
		return []TranscriptDelta{{
			Text:      msg.Text,
			IsFinal:   msg.IsFinal,
			EndOfTurn: msg.IsFinal && msg.Text != "",
			Timestamp: msg.Duration,
		}}, nil
	case "done":
		return nil, errStreamDone
	case "error":
		return nil, fmt.Errorf("cartesia stt error: %s", msg.Error)
	default:
		return nil, nil
	}
}
